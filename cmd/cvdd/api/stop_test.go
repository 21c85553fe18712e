package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvdhost/cvdd/lib/instancedb"
)

func TestHandleStop_TransitionsInstancesToStopped(t *testing.T) {
	s := newTestService(t)
	ctx := testContext(t)

	createTestGroup(t, s, ctx, "stopme", "cvd-1")

	err := s.handleStop(ctx, CommandRequest{
		Command:         "stop",
		SelectorOptions: SelectorOptions{GroupName: "stopme"},
	})
	require.NoError(t, err, "stop-binary failures are tolerated by the instance manager")

	groups, err := s.Database.InstanceGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	for _, inst := range groups[0].Instances {
		assert.Equal(t, instancedb.StateStopped, inst.State)
	}
}

func TestHandleStop_UsesConfigFileFromEnvWhenSet(t *testing.T) {
	s := newTestService(t)
	ctx := testContext(t)

	createTestGroup(t, s, ctx, "stopme2", "cvd-1")

	err := s.handleStop(ctx, CommandRequest{
		Command:         "stop",
		SelectorOptions: SelectorOptions{GroupName: "stopme2"},
		Env:             map[string]string{"CUTTLEFISH_CONFIG_FILE": "/nonexistent/cuttlefish_config.json"},
	})
	require.NoError(t, err)
}
