// Package config loads cvdd's daemon configuration from environment
// variables, with .env support via godotenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func getHostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// getBuildVersion extracts version info from Go's embedded build info.
// Returns git short hash + "-dirty" suffix if uncommitted changes, or "unknown" if unavailable.
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if revision == "" {
		return "unknown"
	}
	if len(revision) > 8 {
		revision = revision[:8]
	}
	if dirty {
		revision += "-dirty"
	}
	return revision
}

func defaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "cvdd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".cvdd")
}

// Config holds cvdd's daemon configuration.
type Config struct {
	// RuntimeDir is the per-user root under which the database, lock
	// files, and group directory trees live.
	RuntimeDir string
	// SocketPath is the Unix domain socket the command endpoint listens on.
	SocketPath string
	// LockNamespaceSize is N, the size of the dense instance-ID namespace
	// the lock manager allocates from (spec.md §4.1).
	LockNamespaceSize uint32
	// GroupNamePrefix is used by the database when synthesizing a group
	// name for a caller that supplies none.
	GroupNamePrefix string
	// ReclaimInterval is how often the daemon sweeps the process table for
	// run_cvd-family processes the database no longer tracks.
	ReclaimInterval time.Duration
	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight requests to drain.
	ShutdownTimeout time.Duration

	// LogLevel is the default slog level (debug, info, warn, error).
	LogLevel string

	// OpenTelemetry configuration. No exporter endpoint: cvdd emits
	// in-process metrics/traces only when enabled, to no backend of its own.
	OtelEnabled           bool
	OtelServiceName       string
	OtelServiceInstanceID string
	Version               string
	Env                   string
}

// Load loads configuration from environment variables.
// Automatically loads a .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		RuntimeDir:        getEnv("CVDD_RUNTIME_DIR", defaultRuntimeDir()),
		SocketPath:        getEnv("CVDD_SOCKET_PATH", filepath.Join(defaultRuntimeDir(), "cvdd.sock")),
		LockNamespaceSize: uint32(getEnvInt("CVDD_LOCK_NAMESPACE_SIZE", 64)),
		GroupNamePrefix:   getEnv("CVDD_GROUP_NAME_PREFIX", "cvd"),
		ReclaimInterval:   getEnvDuration("CVDD_RECLAIM_INTERVAL", 30*time.Second),
		ShutdownTimeout:   getEnvDuration("CVDD_SHUTDOWN_TIMEOUT", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelServiceName:       getEnv("OTEL_SERVICE_NAME", "cvdd"),
		OtelServiceInstanceID: getEnv("OTEL_SERVICE_INSTANCE_ID", getHostname()),
		Version:               getEnv("VERSION", getBuildVersion()),
		Env:                   getEnv("ENV", "unset"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.LockNamespaceSize == 0 {
		return fmt.Errorf("CVDD_LOCK_NAMESPACE_SIZE must be positive, got %d", c.LockNamespaceSize)
	}
	if c.RuntimeDir == "" {
		return fmt.Errorf("CVDD_RUNTIME_DIR must not be empty")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("CVDD_SOCKET_PATH must not be empty")
	}
	if c.ReclaimInterval <= 0 {
		return fmt.Errorf("CVDD_RECLAIM_INTERVAL must be positive, got %v", c.ReclaimInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("CVDD_SHUTDOWN_TIMEOUT must be positive, got %v", c.ShutdownTimeout)
	}
	return nil
}
