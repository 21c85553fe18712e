package instancemgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCvdClear_RemovesAllGroupsAndArtifacts(t *testing.T) {
	m := testManager(t)
	ctx := testContext(t)

	g1, err := m.CreateInstanceGroup(ctx, CreateGroupParams{
		GroupName:   "one",
		Instances:   []InstanceParams{{Name: "cvd-1"}},
		Directories: DirectoryParams{ProductOutPaths: []string{""}},
	})
	require.NoError(t, err)

	_, err = m.CreateInstanceGroup(ctx, CreateGroupParams{
		GroupName:   "two",
		Instances:   []InstanceParams{{Name: "cvd-1"}},
		Directories: DirectoryParams{ProductOutPaths: []string{""}},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(g1.HomeDirectory, cuttlefishConfigFileName), []byte("{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(g1.HomeDirectory, cuttlefishRuntimeDirName), 0o755))

	require.NoError(t, m.CvdClear(ctx))

	assert.NoDirExists(t, m.paths.GroupBaseDir("one"))
	assert.NoDirExists(t, m.paths.GroupBaseDir("two"))

	groups, err := m.db.InstanceGroups()
	require.NoError(t, err)
	assert.Empty(t, groups)

	h, err := m.locks.AcquireLock(g1.Instances[0].ID)
	require.NoError(t, err)
	_ = h.Close()
}

func TestCvdClear_EmptyDatabaseNoop(t *testing.T) {
	m := testManager(t)
	ctx := testContext(t)
	assert.NoError(t, m.CvdClear(ctx))
}
