package instancemgr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/cvdhost/cvdd/lib/hostbin"
	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/lockfile"
	"github.com/cvdhost/cvdd/lib/logger"
)

// cuttlefishConfigEnvVar is the environment variable passed to stop_cvd
// naming the config file path.
const cuttlefishConfigEnvVar = "CUTTLEFISH_CONFIG_FILE"

// IssueStopCommand implements spec.md §4.4's IssueStopCommand algorithm.
// Stop-binary failures are tolerated: this never returns an error purely
// because the subprocess exited non-zero.
func (m *Manager) IssueStopCommand(ctx context.Context, configFilePath string, group instancedb.Group) (instancedb.Group, error) {
	log := logger.FromContext(ctx)

	if err := m.runStopBinary(ctx, group, configFilePath, "--clear_instance_dirs"); err != nil {
		log.WarnContext(ctx, "stop_cvd failed with --clear_instance_dirs, retrying without it",
			"group", group.Name, "error", err)
		if err := m.runStopBinary(ctx, group, configFilePath); err != nil {
			log.WarnContext(ctx, "stop_cvd failed on retry; instances may already be stopped",
				"group", group.Name, "error", err)
		}
	}

	for i := range group.Instances {
		group.Instances[i].State = instancedb.StateStopped
	}
	if err := m.db.UpdateInstanceGroup(group); err != nil {
		return group, fmt.Errorf("instancemgr: update group %q after stop: %w", group.Name, err)
	}

	for _, inst := range group.Instances {
		if inst.ID == 0 {
			continue
		}
		h, err := m.locks.AcquireLock(inst.ID)
		if err != nil {
			log.WarnContext(ctx, "failed to reacquire lock to mark not-in-use", "group", group.Name, "instance_id", inst.ID, "error", err)
			continue
		}
		if err := h.Status(lockfile.StateNotInUse); err != nil {
			log.WarnContext(ctx, "failed to mark lock not-in-use", "group", group.Name, "instance_id", inst.ID, "error", err)
		}
		_ = h.Close()
	}

	return group, nil
}

// runStopBinary resolves and invokes the group's stop binary in a dedicated
// process group, with stdout/stderr redirected to the group's stop log and a
// freshly-built environment (the parent's environment is never mutated or inherited).
func (m *Manager) runStopBinary(ctx context.Context, group instancedb.Group, configFilePath string, extraArgs ...string) error {
	stopBin, err := hostbin.StopBin(group.HostArtifactsPath)
	if err != nil {
		return err
	}

	logPath := m.paths.GroupStopLog(group.Name)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create stop log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open stop log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, stopBin, extraArgs...)
	cmd.Env = []string{cuttlefishConfigEnvVar + "=" + configFilePath}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", stopBin, err)
	}
	return nil
}
