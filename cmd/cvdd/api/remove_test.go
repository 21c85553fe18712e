package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRemove_Success(t *testing.T) {
	s := newTestService(t)
	ctx := testContext(t)

	createTestGroup(t, s, ctx, "removeme", "cvd-1")

	err := s.handleRemove(ctx, CommandRequest{
		Command:         "remove",
		SelectorOptions: SelectorOptions{GroupName: "removeme"},
	})
	require.NoError(t, err)

	groups, err := s.Database.InstanceGroups()
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestHandleRemove_UnknownGroupIsError(t *testing.T) {
	s := newTestService(t)
	ctx := testContext(t)

	err := s.handleRemove(ctx, CommandRequest{
		Command:         "remove",
		SelectorOptions: SelectorOptions{GroupName: "nosuchgroup"},
	})
	assert.Error(t, err)
}
