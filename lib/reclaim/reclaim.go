// Package reclaim implements a process-table sweep that finds run_cvd-family
// processes the database no longer tracks — typically because the daemon
// restarted and lost its in-memory view while the underlying guest processes
// kept running — and stops them.
package reclaim

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/logger"
)

// runCvdNames are the process basenames considered part of a cuttlefish
// instance group's guest-side process tree.
var runCvdNames = map[string]bool{
	"run_cvd":    true,
	"launch_cvd": true,
}

// procGroup is a set of run_cvd-family pids sharing a HOME environment
// variable, alongside a host_artifacts_path derived from where the running
// binary actually lives on disk.
type procGroup struct {
	home              string
	hostArtifactsPath string
	pids              []int
}

// Reclaimer sweeps /proc for orphaned cuttlefish processes.
type Reclaimer struct {
	db *instancedb.Database
}

// New creates a Reclaimer over the given database, used to determine which
// home directories are already owned by a tracked, lifecycle-managed group.
func New(db *instancedb.Database) *Reclaimer {
	return &Reclaimer{db: db}
}

// Sweep finds run_cvd-family processes whose home directory isn't present in
// the database, issues a best-effort stop_cvd against each such group, and
// SIGKILLs any pids still alive afterward. Every failure is logged and
// swallowed: Sweep only returns an error if the database can't be read.
func (r *Reclaimer) Sweep(ctx context.Context) error {
	log := logger.FromContext(ctx)

	tracked, err := r.db.InstanceGroups()
	if err != nil {
		return fmt.Errorf("reclaim: list tracked groups: %w", err)
	}
	trackedHomes := make(map[string]bool, len(tracked))
	for _, g := range tracked {
		trackedHomes[filepath.Clean(g.HomeDirectory)] = true
	}

	procs, err := scanRunCvdProcesses()
	if err != nil {
		log.WarnContext(ctx, "failed to scan /proc for orphaned cuttlefish processes", "error", err)
		return nil
	}

	groups := groupByHome(procs)
	for home, g := range groups {
		if trackedHomes[filepath.Clean(home)] {
			continue
		}
		log.InfoContext(ctx, "reclaiming orphaned instance group", "home", home, "pids", g.pids)
		r.reclaimGroup(ctx, g)
	}
	return nil
}

// reclaimGroup runs stop_cvd for a single orphaned group, then SIGKILLs
// whichever of its pids are still alive.
func (r *Reclaimer) reclaimGroup(ctx context.Context, g procGroup) {
	log := logger.FromContext(ctx)

	stopBin := filepath.Join(g.hostArtifactsPath, "bin", "stop_cvd")
	if _, err := os.Stat(stopBin); err == nil {
		cmd := exec.CommandContext(ctx, stopBin)
		cmd.Env = []string{"HOME=" + g.home}
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Run(); err != nil {
			log.WarnContext(ctx, "stop_cvd failed during reclamation sweep", "home", g.home, "error", err)
		}
	}

	for _, pid := range g.pids {
		if !processAlive(pid) {
			continue
		}
		if err := unix.Kill(pid, syscall.SIGKILL); err != nil {
			log.WarnContext(ctx, "failed to SIGKILL orphaned process", "pid", pid, "error", err)
		}
	}
}

func processAlive(pid int) bool {
	return unix.Kill(pid, syscall.Signal(0)) == nil
}

// processOwnerUID returns the uid owning /proc/<pid>, mirroring
// reset_client_utils.cpp's getuid() check before a sweep touches a process:
// the directory's owner is the process's effective uid.
func processOwnerUID(pid int) (uint32, bool) {
	info, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	if err != nil {
		return 0, false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return stat.Uid, true
}

// scanRunCvdProcesses walks /proc, returning one entry per pid whose
// executable (the /proc/<pid>/exe link) is a run_cvd-family binary. Processes owned by other users, or that
// exit mid-scan, are skipped rather than failing the whole sweep.
func scanRunCvdProcesses() ([]procInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}

	var procs []procInfo
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		info, ok := inspectProcess(pid)
		if ok {
			procs = append(procs, info)
		}
	}
	return procs, nil
}

type procInfo struct {
	pid     int
	exePath string
	home    string
}

func inspectProcess(pid int) (procInfo, bool) {
	exePath, err := os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "exe"))
	if err != nil || !runCvdNames[filepath.Base(exePath)] {
		return procInfo{}, false
	}

	owner, ok := processOwnerUID(pid)
	if !ok || owner != uint32(os.Getuid()) {
		return procInfo{}, false
	}

	environ, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "environ"))
	if err != nil {
		return procInfo{}, false
	}
	home, ok := lookupEnviron(environ, "HOME")
	if !ok {
		return procInfo{}, false
	}

	return procInfo{pid: pid, exePath: exePath, home: home}, true
}

// lookupEnviron parses a NUL-separated /proc/<pid>/environ blob for key.
func lookupEnviron(environ []byte, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range bytes.Split(environ, []byte{0}) {
		if s := string(kv); strings.HasPrefix(s, prefix) {
			return strings.TrimPrefix(s, prefix), true
		}
	}
	return "", false
}

// groupByHome buckets processes sharing a HOME into one procGroup, deriving
// host_artifacts_path from the running binary's own location: run_cvd always
// lives at <host_artifacts_path>/bin/run_cvd.
func groupByHome(procs []procInfo) map[string]procGroup {
	groups := make(map[string]procGroup)
	for _, p := range procs {
		g, ok := groups[p.home]
		if !ok {
			g = procGroup{
				home:              p.home,
				hostArtifactsPath: filepath.Dir(filepath.Dir(p.exePath)),
			}
		}
		g.pids = append(g.pids, p.pid)
		groups[p.home] = g
	}
	return groups
}
