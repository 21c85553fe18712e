package instancemgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"gvisor.dev/gvisor/pkg/cleanup"

	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/lockfile"
	"github.com/cvdhost/cvdd/lib/logger"
	"github.com/cvdhost/cvdd/lib/sentinel"
)

// InstanceParams describes one requested instance within a new group.
type InstanceParams struct {
	// ID, if nonzero, requests a specific instance ID; 0 requests the next free one.
	ID uint32
	// Name is the per-instance name.
	Name string
}

// DirectoryParams carries the caller-supplied symlink targets for a new
// group's directories. An empty field means "materialize a real directory
// at the canonical location" rather than "symlink to this target".
type DirectoryParams struct {
	Home              string
	HostArtifactsPath string
	// ProductOutPaths is parallel to CreateGroupParams.Instances.
	ProductOutPaths []string
}

// CreateGroupParams is the request to CreateInstanceGroup.
type CreateGroupParams struct {
	// GroupName is optional; an empty value triggers name synthesis.
	GroupName string
	Instances []InstanceParams
	Directories DirectoryParams
}

// CreateInstanceGroup implements spec.md §4.4's CreateInstanceGroup algorithm.
func (m *Manager) CreateInstanceGroup(ctx context.Context, params CreateGroupParams) (instancedb.Group, error) {
	log := logger.FromContext(ctx)

	if len(params.Instances) != len(params.Directories.ProductOutPaths) {
		return instancedb.Group{}, fmt.Errorf("instancemgr: %d instances but %d product_out paths: %w",
			len(params.Instances), len(params.Directories.ProductOutPaths), sentinel.ErrValidation)
	}

	groupName := params.GroupName
	if groupName == "" {
		name, err := m.db.PeekSynthesizedName()
		if err != nil {
			return instancedb.Group{}, fmt.Errorf("instancemgr: synthesize group name: %w", err)
		}
		groupName = name
	}

	cu := cleanup.Make(func() {})
	defer cu.Clean()

	descs, err := m.allocateAndLockInstanceIds(params.Instances, &cu)
	if err != nil {
		return instancedb.Group{}, fmt.Errorf("instancemgr: allocate instance ids: %w", err)
	}

	instances := make([]instancedb.Instance, len(descs))
	for i, d := range descs {
		instances[i] = instancedb.Instance{ID: d.handle.Instance(), Name: d.name, State: instancedb.StateCreated}
	}

	homeDir, err := m.materializeGroupDirectories(groupName, instances, params.Directories, &cu)
	if err != nil {
		return instancedb.Group{}, fmt.Errorf("instancemgr: materialize directories: %w", err)
	}

	artifactsDir := m.paths.GroupArtifactsDir(groupName)
	group := instancedb.Group{
		Name:              groupName,
		HomeDirectory:     homeDir,
		HostArtifactsPath: artifactsDir,
		ProductOutPaths:   make([]string, len(instances)),
		Instances:         instances,
		StartTime:         time.Now(),
	}
	for i, inst := range instances {
		group.ProductOutPaths[i] = m.paths.GroupProductOutDir(groupName, inst.Name)
	}

	inserted, err := m.db.AddInstanceGroup(group)
	if err != nil {
		return instancedb.Group{}, fmt.Errorf("instancemgr: insert group: %w", err)
	}

	for _, d := range descs {
		if err := d.handle.Status(lockfile.StateInUse); err != nil {
			log.WarnContext(ctx, "failed to mark lock in-use", "instance_id", d.handle.Instance(), "error", err)
		}
	}

	cu.Release()
	for _, d := range descs {
		_ = d.handle.Close()
	}
	log.InfoContext(ctx, "created instance group", "group", inserted.Name, "instances", len(inserted.Instances))
	return inserted, nil
}

type instanceDesc struct {
	handle *lockfile.Handle
	name   string
}

// allocateAndLockInstanceIds acquires one lock per requested instance.
// Explicit IDs are acquired first, in the order requested (with eager
// rejection of duplicate explicit IDs, avoiding the deadlock of scanning
// for an unused ID that collides with a later explicit request); unused
// IDs are then allocated for the remaining instances. Every acquired
// handle is pushed onto cu so any later failure releases them all.
func (m *Manager) allocateAndLockInstanceIds(instances []InstanceParams, cu *cleanup.Cleanup) ([]instanceDesc, error) {
	requested := make(map[uint32]bool)
	explicit := make(map[int]*lockfile.Handle)

	for i, inst := range instances {
		if inst.ID == 0 {
			continue
		}
		if requested[inst.ID] {
			return nil, fmt.Errorf("instancemgr: requested instance ids must be distinct, but %d is repeated: %w", inst.ID, sentinel.ErrValidation)
		}
		requested[inst.ID] = true

		h, err := m.locks.AcquireLock(inst.ID)
		if err != nil {
			return nil, fmt.Errorf("instancemgr: acquire lock for id %d: %w", inst.ID, err)
		}
		cu.Add(func() { _ = h.Close() })
		explicit[i] = h
	}

	descs := make([]instanceDesc, len(instances))
	for i, inst := range instances {
		if h, ok := explicit[i]; ok {
			descs[i] = instanceDesc{handle: h, name: inst.Name}
			continue
		}
		h, err := m.locks.AcquireUnusedLock()
		if err != nil {
			return nil, fmt.Errorf("instancemgr: acquire unused lock: %w", err)
		}
		cu.Add(func() { _ = h.Close() })
		descs[i] = instanceDesc{handle: h, name: inst.Name}
	}
	return descs, nil
}

// materializeGroupDirectories creates or symlinks the group's base, home,
// artifacts, and per-instance product-out directories at their canonical
// locations, returning the canonical home directory. The base directory,
// which holds every other entry, must not exist yet; its removal is pushed
// onto cu so a later failure removes what was already made.
//
// groupName has already passed the group-name grammar (or was synthesized
// by the database), but SecureJoin is used anyway when composing it against
// the runtime root: the same defensive join idiom the dependency family
// uses whenever a caller-influenced path component is joined under a root.
func (m *Manager) materializeGroupDirectories(groupName string, instances []instancedb.Instance, dirs DirectoryParams, cu *cleanup.Cleanup) (string, error) {
	base, err := securejoin.SecureJoin(m.paths.GroupsDir(), groupName)
	if err != nil {
		return "", fmt.Errorf("secure-join base dir: %w", err)
	}
	if _, err := os.Lstat(base); err == nil {
		return "", fmt.Errorf("group directory %s already exists: %w", base, sentinel.ErrAlreadyExists)
	}
	if err := linkOrMakeDir("", base); err != nil {
		return "", err
	}
	cu.Add(func() { _ = os.RemoveAll(base) })

	home := m.paths.GroupHomeDir(groupName)
	if err := linkOrMakeDir(dirs.Home, home); err != nil {
		return "", err
	}

	artifacts := m.paths.GroupArtifactsDir(groupName)
	if err := linkOrMakeDir(dirs.HostArtifactsPath, artifacts); err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.paths.GroupLogsDir(groupName), 0o755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}

	for i, inst := range instances {
		productOut := m.paths.GroupProductOutDir(groupName, inst.Name)
		if err := linkOrMakeDir(dirs.ProductOutPaths[i], productOut); err != nil {
			return "", err
		}
	}
	return home, nil
}

// linkOrMakeDir creates a symbolic link at canonical pointing to target if
// target is non-empty, otherwise creates canonical as a real directory.
func linkOrMakeDir(target, canonical string) error {
	if target == "" {
		if err := os.MkdirAll(canonical, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", canonical, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return fmt.Errorf("mkdir parent of %s: %w", canonical, err)
	}
	if err := os.Symlink(target, canonical); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", canonical, target, err)
	}
	return nil
}
