package instancedb

import "github.com/samber/lo"

// Filter is a value object of optional fields used to query the database.
type Filter struct {
	// Home, if set, must equal a group's HomeDirectory.
	Home string
	// GroupName, if set, must equal a group's Name.
	GroupName string
	// InstanceID, if nonzero, matches a group containing an instance with that ID.
	InstanceID uint32
	// InstanceNames, if non-empty, matches a group containing an instance with each name.
	InstanceNames []string
}

// IsEmpty reports whether every field is unset.
func (f Filter) IsEmpty() bool {
	return f.Home == "" && f.GroupName == "" && f.InstanceID == 0 && len(f.InstanceNames) == 0
}

// Matches reports whether g satisfies every set field of f.
func (f Filter) Matches(g Group) bool {
	if f.Home != "" && g.HomeDirectory != f.Home {
		return false
	}
	if f.GroupName != "" && g.Name != f.GroupName {
		return false
	}
	if f.InstanceID != 0 {
		if !lo.ContainsBy(g.Instances, func(inst Instance) bool { return inst.ID == f.InstanceID }) {
			return false
		}
	}
	for _, name := range f.InstanceNames {
		if _, ok := g.InstanceByName(name); !ok {
			return false
		}
	}
	return true
}
