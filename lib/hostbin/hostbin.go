// Package hostbin resolves the platform-specific start/stop binaries that
// live under a group's host_artifacts_path.
package hostbin

import (
	"fmt"
	"path/filepath"
	"runtime"
)

const (
	startBinaryName  = "start_cvd"
	stopBinaryName   = "stop_cvd"
	statusBinaryName = "cvd_internal_status"
)

// StartBin returns the path to the start binary under hostArtifactsPath.
func StartBin(hostArtifactsPath string) (string, error) {
	if err := checkPlatform(); err != nil {
		return "", err
	}
	return filepath.Join(hostArtifactsPath, "bin", startBinaryName), nil
}

// StopBin returns the path to the stop binary under hostArtifactsPath.
func StopBin(hostArtifactsPath string) (string, error) {
	if err := checkPlatform(); err != nil {
		return "", err
	}
	return filepath.Join(hostArtifactsPath, "bin", stopBinaryName), nil
}

// StatusBin returns the path to the status binary under hostArtifactsPath.
// Upstream cvd resolves the "status"/"cvd_status" subcommand alias to this
// binary (see original_source status.cpp's supported_subcmds_).
func StatusBin(hostArtifactsPath string) (string, error) {
	if err := checkPlatform(); err != nil {
		return "", err
	}
	return filepath.Join(hostArtifactsPath, "bin", statusBinaryName), nil
}

func checkPlatform() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("hostbin: cuttlefish host tools are only built for linux, running on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	return nil
}
