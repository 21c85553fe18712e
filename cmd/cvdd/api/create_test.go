package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvdhost/cvdd/lib/instancedb"
)

func TestHandleCreate_Success(t *testing.T) {
	s := newTestService(t)
	ctx := testContext(t)

	raw, err := s.handleCreate(ctx, CommandRequest{
		Command: "create",
		Create: &CreateRequest{
			GroupName: "newgroup",
			Instances: []InstanceRequest{{Name: "cvd-1"}, {Name: "cvd-2"}},
		},
	})
	require.NoError(t, err)

	var group instancedb.Group
	require.NoError(t, json.Unmarshal(raw, &group))
	assert.Equal(t, "newgroup", group.Name)
	assert.Len(t, group.Instances, 2)
}

func TestHandleCreate_MissingBodyIsValidationError(t *testing.T) {
	s := newTestService(t)
	ctx := testContext(t)

	_, err := s.handleCreate(ctx, CommandRequest{Command: "create"})
	assert.Error(t, err)
}

func TestHandleCreate_InstanceCountMustMatchProductOutPaths(t *testing.T) {
	s := newTestService(t)
	ctx := testContext(t)

	_, err := s.handleCreate(ctx, CommandRequest{
		Command: "create",
		Create: &CreateRequest{
			GroupName: "badgroup",
			Instances: []InstanceRequest{{Name: "cvd-1"}},
			Directories: DirectoryRequest{
				ProductOutPaths: []string{"one", "two"},
			},
		},
	})
	assert.Error(t, err)
}
