package instancemgr

import (
	"context"
	"fmt"
	"os"

	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/logger"
	"github.com/cvdhost/cvdd/lib/sentinel"
)

// RemoveInstanceGroup implements spec.md §4.4's RemoveInstanceGroup algorithm.
func (m *Manager) RemoveInstanceGroup(ctx context.Context, group instancedb.Group) (bool, error) {
	log := logger.FromContext(ctx)

	if group.HasNonTerminalInstance() {
		return false, fmt.Errorf("instancemgr: group %q: %w", group.Name, sentinel.ErrNotTerminal)
	}

	for _, inst := range group.Instances {
		if inst.ID == 0 {
			continue
		}
		if err := m.locks.RemoveLockFile(inst.ID); err != nil {
			log.WarnContext(ctx, "failed to remove lock file", "group", group.Name, "instance_id", inst.ID, "error", err)
		}
	}

	if m.underPerUserRoot(group.HomeDirectory) {
		base := m.paths.GroupBaseDir(group.Name)
		if err := os.RemoveAll(base); err != nil {
			log.WarnContext(ctx, "failed to remove group directory", "group", group.Name, "path", base, "error", err)
		}
	} else {
		log.WarnContext(ctx, "group home directory is outside the runtime root, skipping directory removal",
			"group", group.Name, "home_directory", group.HomeDirectory)
	}

	removed, err := m.db.RemoveInstanceGroup(group.Name)
	if err != nil {
		return false, fmt.Errorf("instancemgr: remove group %q: %w", group.Name, err)
	}
	log.InfoContext(ctx, "removed instance group", "group", group.Name, "removed", removed)
	return removed, nil
}
