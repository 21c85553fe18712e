package instancemgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/logger"
)

// cuttlefishRuntimeDirName and cuttlefishConfigFileName are the well-known
// on-disk artifacts CvdClear removes from a group's home directory, mirroring
// the original implementation's cleanup of the runtime directory and the
// config file it leaves behind after a run.
const (
	cuttlefishRuntimeDirName = "cuttlefish_runtime"
	cuttlefishConfigFileName = "cuttlefish_config.json"
)

// CvdClear implements spec.md §4.4's CvdClear algorithm: unconditionally
// removes every group from the database first, then best-effort stops and
// cleans up what was removed. Individual group failures are logged, never
// propagated — CvdClear always returns nil unless the database itself
// cannot be cleared.
func (m *Manager) CvdClear(ctx context.Context) error {
	log := logger.FromContext(ctx)

	groups, err := m.db.Clear()
	if err != nil {
		return fmt.Errorf("instancemgr: clear database: %w", err)
	}

	for _, group := range groups {
		if group.HasNonTerminalInstance() {
			configPath := groupConfigFilePath(group.HomeDirectory)
			if _, err := os.Stat(configPath); err == nil {
				if _, err := m.IssueStopCommand(ctx, configPath, group); err != nil {
					log.WarnContext(ctx, "failed to stop group during clear", "group", group.Name, "error", err)
				}
			} else {
				log.WarnContext(ctx, "no config file found for active group, skipping stop", "group", group.Name, "path", configPath)
			}
		}

		for _, inst := range group.Instances {
			if inst.ID == 0 {
				continue
			}
			if err := m.locks.RemoveLockFile(inst.ID); err != nil {
				log.WarnContext(ctx, "failed to remove lock file during clear", "group", group.Name, "instance_id", inst.ID, "error", err)
			}
		}

		if group.HomeDirectory != "" {
			if err := os.RemoveAll(filepath.Join(group.HomeDirectory, cuttlefishRuntimeDirName)); err != nil && !os.IsNotExist(err) {
				log.WarnContext(ctx, "failed to remove runtime directory", "group", group.Name, "error", err)
			}
			if err := os.Remove(groupConfigFilePath(group.HomeDirectory)); err != nil && !os.IsNotExist(err) {
				log.WarnContext(ctx, "failed to remove config file", "group", group.Name, "error", err)
			}
		}

		if m.underPerUserRoot(group.HomeDirectory) {
			base := m.paths.GroupBaseDir(group.Name)
			if err := os.RemoveAll(base); err != nil {
				log.WarnContext(ctx, "failed to remove group directory during clear", "group", group.Name, "path", base, "error", err)
			}
		} else {
			log.WarnContext(ctx, "group home directory is outside the runtime root, skipping directory removal",
				"group", group.Name, "home_directory", group.HomeDirectory)
		}
	}

	log.InfoContext(ctx, "cleared instance groups", "count", len(groups))
	return nil
}

func groupConfigFilePath(home string) string {
	return filepath.Join(home, cuttlefishConfigFileName)
}

// ConfigFilePath returns the default cuttlefish_config.json location for a
// group's home directory, the value subprocess callers fall back to when a
// request doesn't set CUTTLEFISH_CONFIG_FILE explicitly.
func ConfigFilePath(group instancedb.Group) string {
	return groupConfigFilePath(group.HomeDirectory)
}
