package instancemgr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeStatusBinary installs a shell script at group.HostArtifactsPath's
// bin/cvd_internal_status that prints stdout verbatim, standing in for the
// real cuttlefish host binary.
func writeFakeStatusBinary(t *testing.T, hostArtifactsPath, stdout string) {
	t.Helper()
	binDir := filepath.Join(hostArtifactsPath, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	script := "#!/bin/sh\ncat <<'CVDD_EOF'\n" + stdout + "\nCVDD_EOF\n"
	path := filepath.Join(binDir, "cvd_internal_status")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

func TestFetchInstanceStatus_BackfillsWebrtcDeviceIDThenOverwritesName(t *testing.T) {
	m := testManager(t)
	ctx := testContext(t)

	group, err := m.CreateInstanceGroup(ctx, CreateGroupParams{
		GroupName:   "grp",
		Instances:   []InstanceParams{{Name: "cvd-1"}},
		Directories: DirectoryParams{ProductOutPaths: []string{""}},
	})
	require.NoError(t, err)

	writeFakeStatusBinary(t, group.HostArtifactsPath, `[{"instance_name":"legacy-name"}]`)

	raw, err := m.FetchInstanceStatus(ctx, group, group.Instances[0])
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	assert.Equal(t, "legacy-name", obj["webrtc_device_id"])
	assert.Equal(t, "cvd-1", obj["instance_name"])
}

func TestFetchInstanceStatus_PreservesExistingWebrtcDeviceID(t *testing.T) {
	m := testManager(t)
	ctx := testContext(t)

	group, err := m.CreateInstanceGroup(ctx, CreateGroupParams{
		GroupName:   "grp",
		Instances:   []InstanceParams{{Name: "cvd-1"}},
		Directories: DirectoryParams{ProductOutPaths: []string{""}},
	})
	require.NoError(t, err)

	writeFakeStatusBinary(t, group.HostArtifactsPath, `[{"instance_name":"legacy-name","webrtc_device_id":"already-set"}]`)

	raw, err := m.FetchInstanceStatus(ctx, group, group.Instances[0])
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	assert.Equal(t, "already-set", obj["webrtc_device_id"])
	assert.Equal(t, "cvd-1", obj["instance_name"])
}

func TestFetchInstanceStatus_EmptyStdoutFallsBackToWarning(t *testing.T) {
	m := testManager(t)
	ctx := testContext(t)

	group, err := m.CreateInstanceGroup(ctx, CreateGroupParams{
		GroupName:   "grp",
		Instances:   []InstanceParams{{Name: "cvd-1"}},
		Directories: DirectoryParams{ProductOutPaths: []string{""}},
	})
	require.NoError(t, err)

	writeFakeStatusBinary(t, group.HostArtifactsPath, ``)

	raw, err := m.FetchInstanceStatus(ctx, group, group.Instances[0])
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	assert.Equal(t, "cvd-status-unsupported device", obj["warning"])
	assert.Equal(t, "cvd-1", obj["instance_name"])
}

func TestFetchInstanceStatus_MissingBinaryReturnsError(t *testing.T) {
	m := testManager(t)
	ctx := testContext(t)

	group, err := m.CreateInstanceGroup(ctx, CreateGroupParams{
		GroupName:   "grp",
		Instances:   []InstanceParams{{Name: "cvd-1"}},
		Directories: DirectoryParams{ProductOutPaths: []string{""}},
	})
	require.NoError(t, err)

	_, err = m.FetchInstanceStatus(ctx, group, group.Instances[0])
	assert.Error(t, err)
}

func TestFetchInstanceStatus_RejectsMultiObjectArray(t *testing.T) {
	m := testManager(t)
	ctx := testContext(t)

	group, err := m.CreateInstanceGroup(ctx, CreateGroupParams{
		GroupName:   "grp",
		Instances:   []InstanceParams{{Name: "cvd-1"}},
		Directories: DirectoryParams{ProductOutPaths: []string{""}},
	})
	require.NoError(t, err)

	writeFakeStatusBinary(t, group.HostArtifactsPath, `[{"instance_name":"a"},{"instance_name":"b"}]`)

	_, err = m.FetchInstanceStatus(ctx, group, group.Instances[0])
	assert.Error(t, err)
}

func TestFetchGroupStatus_PerInstanceFailureReportedInline(t *testing.T) {
	m := testManager(t)
	ctx := testContext(t)

	group, err := m.CreateInstanceGroup(ctx, CreateGroupParams{
		GroupName:   "grp",
		Instances:   []InstanceParams{{Name: "cvd-1"}, {Name: "cvd-2"}},
		Directories: DirectoryParams{ProductOutPaths: []string{"", ""}},
	})
	require.NoError(t, err)

	// No status binary installed: every fetch fails, but FetchGroupStatus
	// must still return one entry per instance rather than aborting.
	statuses := m.FetchGroupStatus(ctx, group)
	require.Len(t, statuses, 2)

	for i, raw := range statuses {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(raw, &obj))
		assert.Equal(t, group.Instances[i].Name, obj["instance_name"])
		assert.NotEmpty(t, obj["error"])
	}
}
