package instancedb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvdhost/cvdd/lib/sentinel"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	return New(testPaths(t), "cvd")
}

func mkHomeDir(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir() + "/" + name
	require.NoError(t, mkdirAll(dir))
	return dir
}

func TestAddInstanceGroup_ExplicitIDsRoundTrip(t *testing.T) {
	// Explicit instance IDs are stored as given and read back unchanged.
	db := newTestDatabase(t)
	home := mkHomeDir(t, "g1")

	g, err := db.AddInstanceGroup(Group{
		Name:          "g1",
		HomeDirectory: home,
		Instances: []Instance{
			{ID: 3, Name: "a"},
			{ID: 7, Name: "b"},
		},
	})
	require.NoError(t, err)
	require.Len(t, g.Instances, 2)
	assert.Equal(t, uint32(3), g.Instances[0].ID)
	assert.Equal(t, uint32(7), g.Instances[1].ID)
	assert.Equal(t, "g1", g.Instances[0].ParentGroupName)

	reread, err := db.InstanceGroups()
	require.NoError(t, err)
	require.Len(t, reread, 1)
	assert.Equal(t, g, reread[0])
}

func TestAddInstanceGroup_DuplicateHomeRejected(t *testing.T) {
	// Scenario E.
	db := newTestDatabase(t)
	home := mkHomeDir(t, "shared")

	_, err := db.AddInstanceGroup(Group{Name: "g1", HomeDirectory: home, Instances: []Instance{{Name: "a"}}})
	require.NoError(t, err)

	_, err = db.AddInstanceGroup(Group{Name: "g2", HomeDirectory: home, Instances: []Instance{{Name: "a"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrAlreadyExists))
	assert.Contains(t, err.Error(), home)
}

func TestAddInstanceGroup_NameSynthesis(t *testing.T) {
	// Scenario F.
	db := newTestDatabase(t)
	_, err := db.AddInstanceGroup(Group{Name: "cvd_1", HomeDirectory: mkHomeDir(t, "h1"), Instances: []Instance{{Name: "a"}}})
	require.NoError(t, err)
	_, err = db.AddInstanceGroup(Group{Name: "cvd_3", HomeDirectory: mkHomeDir(t, "h3"), Instances: []Instance{{Name: "a"}}})
	require.NoError(t, err)

	g, err := db.AddInstanceGroup(Group{HomeDirectory: mkHomeDir(t, "h2"), Instances: []Instance{{Name: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, "cvd_2", g.Name)
}

func TestAddInstanceGroup_DuplicateIDRejected(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.AddInstanceGroup(Group{Name: "g1", HomeDirectory: mkHomeDir(t, "h1"), Instances: []Instance{{ID: 5, Name: "a"}}})
	require.NoError(t, err)

	_, err = db.AddInstanceGroup(Group{Name: "g2", HomeDirectory: mkHomeDir(t, "h2"), Instances: []Instance{{ID: 5, Name: "a"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrAlreadyExists))
}

func TestAddInstanceGroup_DuplicateNameWithinGroupRejected(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.AddInstanceGroup(Group{
		Name:          "g1",
		HomeDirectory: mkHomeDir(t, "h1"),
		Instances:     []Instance{{Name: "a"}, {Name: "a"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrValidation))
}

func TestRemoveInstanceGroup_Idempotent(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.AddInstanceGroup(Group{Name: "g1", HomeDirectory: mkHomeDir(t, "h1"), Instances: []Instance{{Name: "a"}}})
	require.NoError(t, err)

	removed, err := db.RemoveInstanceGroup("g1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = db.RemoveInstanceGroup("g1")
	require.NoError(t, err)
	assert.False(t, removed)

	groups, err := db.InstanceGroups()
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestUpdateInstanceGroup_IdempotentAndNotFound(t *testing.T) {
	db := newTestDatabase(t)
	g, err := db.AddInstanceGroup(Group{Name: "g1", HomeDirectory: mkHomeDir(t, "h1"), Instances: []Instance{{Name: "a"}}})
	require.NoError(t, err)

	g.Instances[0].State = StateRunning
	require.NoError(t, db.UpdateInstanceGroup(g))
	require.NoError(t, db.UpdateInstanceGroup(g))

	groups, err := db.InstanceGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, StateRunning, groups[0].Instances[0].State)

	err = db.UpdateInstanceGroup(Group{Name: "nonexistent"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestClearThenLoadFromJsonRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.AddInstanceGroup(Group{Name: "g1", HomeDirectory: mkHomeDir(t, "h1"), Instances: []Instance{{ID: 1, Name: "a"}}})
	require.NoError(t, err)
	_, err = db.AddInstanceGroup(Group{Name: "g2", HomeDirectory: mkHomeDir(t, "h2"), Instances: []Instance{{ID: 2, Name: "a"}}})
	require.NoError(t, err)

	before, err := db.InstanceGroups()
	require.NoError(t, err)

	prior, err := db.Clear()
	require.NoError(t, err)
	assert.ElementsMatch(t, before, prior)

	empty, err := db.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	doc, err := marshalGroupsDoc(prior)
	require.NoError(t, err)
	require.NoError(t, db.LoadFromJson(doc))

	after, err := db.InstanceGroups()
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)
}

func TestFindInstanceWithGroup(t *testing.T) {
	db := newTestDatabase(t)
	_, err := db.AddInstanceGroup(Group{
		Name:          "g1",
		HomeDirectory: mkHomeDir(t, "h1"),
		Instances:     []Instance{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}},
	})
	require.NoError(t, err)

	inst, g, err := db.FindInstanceWithGroup(Filter{InstanceNames: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, "b", inst.Name)
	assert.Equal(t, "g1", g.Name)

	_, _, err = db.FindInstanceWithGroup(Filter{GroupName: "g1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrAmbiguous))

	_, _, err = db.FindInstanceWithGroup(Filter{InstanceNames: []string{"nope"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestIsEmpty(t *testing.T) {
	db := newTestDatabase(t)
	empty, err := db.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	_, err = db.AddInstanceGroup(Group{Name: "g1", HomeDirectory: mkHomeDir(t, "h1"), Instances: []Instance{{Name: "a"}}})
	require.NoError(t, err)

	empty, err = db.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)
}
