// Package logger provides structured logging with subsystem-specific levels
// and OpenTelemetry trace context integration.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GroupLogHandler wraps an slog.Handler and additionally writes logs that
// carry a "group" attribute to that group's own cvdd.log file, so an
// operator can tail one group's activity without grepping the daemon-wide
// stream.
//
// Implementation follows the slog handler guide for shared state across
// WithAttrs/WithGroup: https://pkg.go.dev/golang.org/x/example/slog-handler-guide
type GroupLogHandler struct {
	slog.Handler
	logPathFunc func(group string) string // returns path to cvdd.log for a group
	state       *sharedState              // shared across all handlers derived via WithAttrs/WithGroup
}

// sharedState holds state that must be shared across all handler instances
// derived from the same parent via WithAttrs/WithGroup.
// Using a pointer ensures all derived handlers share the same mutex and file cache.
type sharedState struct {
	mu        sync.Mutex
	fileCache map[string]*os.File
}

// NewGroupLogHandler creates a new handler that wraps the given handler and
// writes group-related logs to per-group log files. logPathFunc should
// return the path to cvdd.log for a given group name.
func NewGroupLogHandler(wrapped slog.Handler, logPathFunc func(group string) string) *GroupLogHandler {
	return &GroupLogHandler{
		Handler:     wrapped,
		logPathFunc: logPathFunc,
		state: &sharedState{
			fileCache: make(map[string]*os.File),
		},
	}
}

// Handle processes a log record, passing it to the wrapped handler and
// optionally writing to a per-group log file if a "group" attribute is present.
func (h *GroupLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	var group string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "group" {
			group = a.Value.String()
			return false
		}
		return true
	})

	if group != "" {
		h.writeToGroupLog(group, r)
	}

	return nil
}

// writeToGroupLog writes a log record to the group's cvdd.log file.
func (h *GroupLogHandler) writeToGroupLog(group string, r slog.Record) {
	logPath := h.logPathFunc(group)
	if logPath == "" {
		return
	}

	timestamp := r.Time.Format(time.RFC3339)
	level := r.Level.String()
	msg := r.Message

	var attrs []string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "group" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		}
		return true
	})

	line := fmt.Sprintf("%s %s %s", timestamp, level, msg)
	for _, attr := range attrs {
		line += " " + attr
	}
	line += "\n"

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	f, ok := h.state.fileCache[group]
	if !ok {
		dir := filepath.Dir(logPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return
		}

		var err error
		f, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		h.state.fileCache[group] = f
	}

	f.WriteString(line)
}

// Enabled reports whether the handler handles records at the given level.
func (h *GroupLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
// The new handler shares the same state (mutex and file cache) as the parent.
func (h *GroupLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GroupLogHandler{
		Handler:     h.Handler.WithAttrs(attrs),
		logPathFunc: h.logPathFunc,
		state:       h.state,
	}
}

// WithGroup returns a new handler with the given group name.
// The new handler shares the same state (mutex and file cache) as the parent.
func (h *GroupLogHandler) WithGroup(name string) slog.Handler {
	return &GroupLogHandler{
		Handler:     h.Handler.WithGroup(name),
		logPathFunc: h.logPathFunc,
		state:       h.state,
	}
}

// CloseGroupLog closes and removes a cached file handle for a group.
// Call this when a group is removed.
func (h *GroupLogHandler) CloseGroupLog(group string) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	if f, ok := h.state.fileCache[group]; ok {
		f.Close()
		delete(h.state.fileCache, group)
	}
}

// CloseAll closes all cached file handles. Call this during shutdown.
func (h *GroupLogHandler) CloseAll() {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	for group, f := range h.state.fileCache {
		f.Close()
		delete(h.state.fileCache, group)
	}
}
