// Package instancemgr implements the instance manager: the state machine
// coordinating ID allocation, directory materialization, subprocess
// invocation of the stop_cvd and status host binaries, and database
// mutation. It does not invoke start_cvd; the process-table sweep for
// orphaned instances lives in lib/reclaim.
package instancemgr

import (
	"path/filepath"
	"strings"

	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/lockfile"
	"github.com/cvdhost/cvdd/lib/paths"
)

// Manager orchestrates lifecycle operations. It holds references to the
// lock manager and the database for its lifetime; it owns neither.
type Manager struct {
	paths *paths.Paths
	locks *lockfile.Manager
	db    *instancedb.Database
}

// New creates an instance manager over the given runtime paths, lock
// manager, and database.
func New(p *paths.Paths, locks *lockfile.Manager, db *instancedb.Database) *Manager {
	return &Manager{paths: p, locks: locks, db: db}
}

// underPerUserRoot reports whether dir is path.Clean-equal to, or a
// descendant of, the manager's runtime directory.
func (m *Manager) underPerUserRoot(dir string) bool {
	root := filepath.Clean(m.paths.RuntimeDir())
	target := filepath.Clean(dir)
	if target == root {
		return true
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
