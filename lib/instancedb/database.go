package instancedb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/cvdhost/cvdd/lib/paths"
	"github.com/cvdhost/cvdd/lib/sentinel"
)

// Database is the viewer over the flat PersistentData backing file: it owns
// the backing file path, a sibling file lock that serializes writers and
// admits concurrent readers, and the WithSharedLock/WithExclusiveLock
// routines every operation is built from.
type Database struct {
	path     string
	lockPath string
	// prefix is the internal prefix used when synthesizing group names
	// for callers that supply an empty name.
	prefix string
}

// New creates a database viewer backed by the runtime directory's groups.json.
func New(p *paths.Paths, namePrefix string) *Database {
	return &Database{
		path:     p.DatabaseFile(),
		lockPath: p.DatabaseLockFile(),
		prefix:   namePrefix,
	}
}

// WithSharedLock acquires a shared (reader) lock, parses the backing file
// into an in-memory copy, and invokes fn with that copy. Concurrent readers
// are admitted; writers block until all readers release.
func (db *Database) WithSharedLock(fn func(*PersistentData) error) error {
	fl := flock.New(db.lockPath)
	if err := ensureLockDir(db.lockPath); err != nil {
		return err
	}
	if err := fl.RLock(); err != nil {
		return fmt.Errorf("instancedb: acquire shared lock: %w", err)
	}
	defer fl.Close()

	data, err := db.load()
	if err != nil {
		return err
	}
	return fn(data)
}

// WithExclusiveLock acquires an exclusive (writer) lock, parses the backing
// file, invokes fn to mutate the in-memory copy, and — only if fn returns
// nil — reserializes the copy back to the backing file. A non-nil return
// from fn leaves the backing file unchanged.
func (db *Database) WithExclusiveLock(fn func(*PersistentData) error) error {
	fl := flock.New(db.lockPath)
	if err := ensureLockDir(db.lockPath); err != nil {
		return err
	}
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("instancedb: acquire exclusive lock: %w", err)
	}
	defer fl.Close()

	data, err := db.load()
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	return db.save(data)
}

func ensureLockDir(lockPath string) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("instancedb: create db dir: %w", err)
	}
	return nil
}

func (db *Database) load() (*PersistentData, error) {
	raw, err := os.ReadFile(db.path)
	if os.IsNotExist(err) {
		return &PersistentData{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("instancedb: read backing file: %w", err)
	}
	if len(raw) == 0 {
		return &PersistentData{}, nil
	}
	var data PersistentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("instancedb: parse backing file: %w", err)
	}
	return &data, nil
}

// save reserializes data to the backing file atomically (write to a
// sibling temp file, then rename over the target).
func (db *Database) save(data *PersistentData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("instancedb: marshal backing file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(db.path), ".groups-*.json.tmp")
	if err != nil {
		return fmt.Errorf("instancedb: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("instancedb: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("instancedb: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, db.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("instancedb: rename temp file: %w", err)
	}
	return nil
}

// IsEmpty returns true iff no groups exist.
func (db *Database) IsEmpty() (bool, error) {
	var empty bool
	err := db.WithSharedLock(func(d *PersistentData) error {
		empty = len(d.Groups) == 0
		return nil
	})
	return empty, err
}

// AddInstanceGroup validates and inserts proto, synthesizing a name if proto.Name is empty.
func (db *Database) AddInstanceGroup(proto Group) (Group, error) {
	var result Group
	err := db.WithExclusiveLock(func(d *PersistentData) error {
		name := proto.Name
		if name == "" {
			name = synthesizeName(d.Groups, db.prefix)
		} else if !ValidGroupName(name) {
			return fmt.Errorf("instancedb: group name %q: %w", name, sentinel.ErrValidation)
		}

		for _, g := range d.Groups {
			if g.Name == name {
				return fmt.Errorf("instancedb: group name %q: %w", name, sentinel.ErrAlreadyExists)
			}
			if g.HomeDirectory == proto.HomeDirectory {
				return fmt.Errorf("instancedb: home directory %q already used by group %q: %w", proto.HomeDirectory, g.Name, sentinel.ErrAlreadyExists)
			}
		}

		if info, statErr := os.Stat(proto.HomeDirectory); statErr != nil || !info.IsDir() {
			return fmt.Errorf("instancedb: home directory %q does not exist: %w", proto.HomeDirectory, sentinel.ErrValidation)
		}

		seenNames := make(map[string]bool, len(proto.Instances))
		for _, inst := range proto.Instances {
			if !ValidInstanceName(inst.Name) {
				return fmt.Errorf("instancedb: instance name %q: %w", inst.Name, sentinel.ErrValidation)
			}
			if seenNames[inst.Name] {
				return fmt.Errorf("instancedb: duplicate instance name %q within group: %w", inst.Name, sentinel.ErrValidation)
			}
			seenNames[inst.Name] = true
		}

		used := usedIDs(d.Groups)
		for _, inst := range proto.Instances {
			if inst.ID == 0 {
				continue
			}
			if owner, ok := used[inst.ID]; ok {
				return fmt.Errorf("instancedb: instance id %d already used by group %q: %w", inst.ID, owner, sentinel.ErrAlreadyExists)
			}
		}

		g := proto
		g.Name = name
		g.Instances = make([]Instance, len(proto.Instances))
		for i, inst := range proto.Instances {
			inst.ParentGroupName = name
			g.Instances[i] = inst
		}
		d.Groups = append(d.Groups, g)
		result = g
		return nil
	})
	return result, err
}

// PeekSynthesizedName computes, without inserting anything, the name that
// AddInstanceGroup would synthesize right now for an empty-named group.
// Used by the instance manager to pick a concrete group name before
// directory materialization, so the directories created on disk and the
// name eventually stored in the database agree. A second concurrent
// creator racing for the same synthesized name will simply fail
// AddInstanceGroup's uniqueness check.
func (db *Database) PeekSynthesizedName() (string, error) {
	var name string
	err := db.WithSharedLock(func(d *PersistentData) error {
		name = synthesizeName(d.Groups, db.prefix)
		return nil
	})
	return name, err
}

// UpdateInstanceGroup replaces the stored record for g.Name with g.
func (db *Database) UpdateInstanceGroup(g Group) error {
	return db.WithExclusiveLock(func(d *PersistentData) error {
		for i := range d.Groups {
			if d.Groups[i].Name == g.Name {
				d.Groups[i] = g
				return nil
			}
		}
		return fmt.Errorf("instancedb: group %q: %w", g.Name, sentinel.ErrNotFound)
	})
}

// RemoveInstanceGroup removes the group named name along with all its
// instances, as a unit. A missing group is not an error; it reports whether
// anything was removed, and fails only if the backing file cannot be locked,
// read or written.
func (db *Database) RemoveInstanceGroup(name string) (bool, error) {
	var removed bool
	err := db.WithExclusiveLock(func(d *PersistentData) error {
		for i, g := range d.Groups {
			if g.Name == name {
				d.Groups = append(d.Groups[:i:i], d.Groups[i+1:]...)
				removed = true
				return nil
			}
		}
		return nil
	})
	return removed, err
}

// Clear removes all groups unconditionally, returning the prior contents.
func (db *Database) Clear() ([]Group, error) {
	var prior []Group
	err := db.WithExclusiveLock(func(d *PersistentData) error {
		prior = d.Groups
		d.Groups = nil
		return nil
	})
	return prior, err
}

// FindGroups returns every group matching filter.
func (db *Database) FindGroups(filter Filter) ([]Group, error) {
	var result []Group
	err := db.WithSharedLock(func(d *PersistentData) error {
		for _, g := range d.Groups {
			if filter.Matches(g) {
				result = append(result, g)
			}
		}
		return nil
	})
	return result, err
}

// FindInstanceWithGroup returns the single (instance, group) pair matching
// filter. filter.InstanceNames must contain at most one name.
func (db *Database) FindInstanceWithGroup(filter Filter) (Instance, Group, error) {
	if len(filter.InstanceNames) > 1 {
		return Instance{}, Group{}, fmt.Errorf("instancedb: at most one instance name expected: %w", sentinel.ErrValidation)
	}

	var (
		foundInst  Instance
		foundGroup Group
		count      int
	)
	err := db.WithSharedLock(func(d *PersistentData) error {
		for _, g := range d.Groups {
			if !filter.Matches(g) {
				continue
			}
			for _, inst := range g.Instances {
				if filter.InstanceID != 0 && inst.ID != filter.InstanceID {
					continue
				}
				if len(filter.InstanceNames) == 1 && inst.Name != filter.InstanceNames[0] {
					continue
				}
				foundInst, foundGroup = inst, g
				count++
			}
		}
		return nil
	})
	if err != nil {
		return Instance{}, Group{}, err
	}
	if count == 0 {
		return Instance{}, Group{}, fmt.Errorf("instancedb: instance: %w", sentinel.ErrNotFound)
	}
	if count > 1 {
		return Instance{}, Group{}, fmt.Errorf("instancedb: instance: %w", sentinel.ErrAmbiguous)
	}
	return foundInst, foundGroup, nil
}

// InstanceGroups returns every group in the database.
func (db *Database) InstanceGroups() ([]Group, error) {
	var result []Group
	err := db.WithSharedLock(func(d *PersistentData) error {
		result = append([]Group(nil), d.Groups...)
		return nil
	})
	return result, err
}

// LoadFromJson accepts either a bulk {"Groups":[...]} import document or a
// single-group document (the crash-recovery snapshot-restore path), and
// appends the parsed group(s) under exclusive lock. A schema mismatch or
// deserialization failure leaves the store unchanged.
func (db *Database) LoadFromJson(doc []byte) error {
	return db.WithExclusiveLock(func(d *PersistentData) error {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(doc, &probe); err == nil {
			if raw, ok := probe["Groups"]; ok {
				var groups []Group
				if err := json.Unmarshal(raw, &groups); err != nil {
					return fmt.Errorf("instancedb: load json: %w", sentinel.ErrValidation)
				}
				d.Groups = append(d.Groups, groups...)
				return nil
			}
		}

		var single Group
		if err := json.Unmarshal(doc, &single); err != nil || single.Name == "" {
			return fmt.Errorf("instancedb: load json: %w", sentinel.ErrValidation)
		}
		d.Groups = append(d.Groups, single)
		return nil
	})
}

func usedIDs(groups []Group) map[uint32]string {
	m := make(map[uint32]string)
	for _, g := range groups {
		for _, inst := range g.Instances {
			if inst.ID != 0 {
				m[inst.ID] = g.Name
			}
		}
	}
	return m
}

// synthesizeName computes <prefix>_<k> for the smallest k in [1, |groups|+1]
// not already in use. By pigeonhole this range is guaranteed to contain a
// free candidate; exhaustion indicates a broken invariant elsewhere, not a
// user-facing condition.
func synthesizeName(groups []Group, prefix string) string {
	existing := make(map[string]bool, len(groups))
	for _, g := range groups {
		existing[g.Name] = true
	}
	for k := 1; k <= len(groups)+1; k++ {
		candidate := fmt.Sprintf("%s_%d", prefix, k)
		if !existing[candidate] {
			return candidate
		}
	}
	panic("instancedb: unique name synthesis exhausted its provably-sufficient bound")
}
