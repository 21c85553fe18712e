// Package lockfile implements the lock manager: exclusive, advisory
// file-backed locks keyed by instance ID in a small dense namespace.
package lockfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"

	"github.com/cvdhost/cvdd/lib/paths"
	"github.com/cvdhost/cvdd/lib/sentinel"
)

// State is the in-use annotation persisted in a lock file alongside the OS lock.
type State byte

const (
	// StateNotInUse marks an ID as free for AcquireUnusedLock to claim.
	StateNotInUse State = 0
	// StateInUse marks an ID as bound to a live instance.
	StateInUse State = 1
)

// Handle represents an acquired lock. It implements io.Closer so callers can
// defer handle.Close() to release the lock on any early return; a handle
// that is closed before Status(StateInUse) is ever called leaves its ID free.
//
// The payload fd is separate from flock's own internal fd: flock() locks are
// associated with the open file description used to take them, not with the
// whole file, so a second fd opened by the same process for reading/writing
// the in-use byte never contends with the lock itself.
type Handle struct {
	id      uint32
	fl      *flock.Flock
	payload *os.File
}

var _ io.Closer = (*Handle)(nil)

// Instance returns the instance ID this handle holds the lock for.
func (h *Handle) Instance() uint32 {
	return h.id
}

// Status persists the in-use annotation while still holding the OS lock.
func (h *Handle) Status(s State) error {
	if _, err := h.payload.WriteAt([]byte{byte(s)}, 0); err != nil {
		return fmt.Errorf("lockfile: write status for id %d: %w", h.id, err)
	}
	return h.payload.Sync()
}

// readStatus reads the persisted annotation. A freshly created (empty) lock
// file is treated as StateNotInUse.
func readStatus(f *os.File) (State, error) {
	var buf [1]byte
	n, err := f.ReadAt(buf[:], 0)
	if n == 0 || errors.Is(err, io.EOF) {
		return StateNotInUse, nil
	}
	if err != nil {
		return StateNotInUse, fmt.Errorf("lockfile: read status: %w", err)
	}
	return State(buf[0]), nil
}

// Close releases the lock. The backing file is intentionally left on disk;
// removal is a separate, explicit operation (RemoveLockFile).
func (h *Handle) Close() error {
	closeErr := h.payload.Close()
	if err := h.fl.Close(); err != nil {
		return fmt.Errorf("lockfile: close id %d: %w", h.id, err)
	}
	if closeErr != nil {
		return fmt.Errorf("lockfile: close payload fd for id %d: %w", h.id, closeErr)
	}
	return nil
}

// Manager owns the per-ID lock namespace under a single runtime directory.
type Manager struct {
	paths *paths.Paths
	n     uint32
}

// New creates a lock manager over IDs [1, n].
func New(p *paths.Paths, n uint32) *Manager {
	return &Manager{paths: p, n: n}
}

// AcquireLock attempts a non-blocking exclusive lock on a specific ID.
// It never blocks: a held lock fails immediately with ErrAlreadyHeld.
func (m *Manager) AcquireLock(id uint32) (*Handle, error) {
	if err := os.MkdirAll(m.paths.LocksDir(), 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create locks dir: %w", err)
	}
	path := m.paths.LockFile(id)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lockfile: acquire id %d: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("lockfile: id %d: %w", id, sentinel.ErrAlreadyHeld)
	}
	payload, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = fl.Close()
		return nil, fmt.Errorf("lockfile: open payload for id %d: %w", id, err)
	}
	return &Handle{id: id, fl: fl, payload: payload}, nil
}

// AcquireUnusedLock scans the ID space [1, n] in deterministic (lowest-ID-first)
// order and returns the first ID whose lock is not held and whose persisted
// annotation is StateNotInUse.
func (m *Manager) AcquireUnusedLock() (*Handle, error) {
	if err := os.MkdirAll(m.paths.LocksDir(), 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create locks dir: %w", err)
	}
	for id := uint32(1); id <= m.n; id++ {
		path := m.paths.LockFile(id)
		fl := flock.New(path)
		ok, err := fl.TryLock()
		if err != nil {
			continue
		}
		if !ok {
			continue
		}
		payload, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			_ = fl.Close()
			continue
		}
		status, err := readStatus(payload)
		if err != nil {
			_ = payload.Close()
			_ = fl.Close()
			continue
		}
		if status == StateInUse {
			_ = payload.Close()
			_ = fl.Close()
			continue
		}
		return &Handle{id: id, fl: fl, payload: payload}, nil
	}
	return nil, fmt.Errorf("lockfile: %w", sentinel.ErrExhausted)
}

// RemoveLockFile removes the backing file for an ID. Used when an instance
// is permanently removed. A missing file is not an error.
func (m *Manager) RemoveLockFile(id uint32) error {
	err := os.Remove(m.paths.LockFile(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: remove id %d: %w", id, err)
	}
	return nil
}
