package api

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cvdhost/cvdd/cmd/cvdd/config"
	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/instancemgr"
	"github.com/cvdhost/cvdd/lib/lockfile"
	"github.com/cvdhost/cvdd/lib/logger"
	"github.com/cvdhost/cvdd/lib/paths"
	"github.com/cvdhost/cvdd/lib/reclaim"
	"github.com/cvdhost/cvdd/lib/selector"
)

// newTestService wires a Service over a fresh temp-dir-rooted set of cvdd
// components, mirroring what wire_gen.go's initializeApp assembles.
func newTestService(t *testing.T) *Service {
	t.Helper()
	root := t.TempDir()
	p := paths.New(root)
	require.NoError(t, os.MkdirAll(p.DatabaseDir(), 0o755))
	require.NoError(t, os.MkdirAll(p.LocksDir(), 0o755))
	require.NoError(t, os.MkdirAll(p.GroupsDir(), 0o755))

	locks := lockfile.New(p, 16)
	db := instancedb.New(p, "cvd")
	mgr := instancemgr.New(p, locks, db)
	reclaimer := reclaim.New(db)

	devNull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	t.Cleanup(func() { _ = devNull.Close() })
	sel := selector.New(db, "", devNull, io.Discard)

	return New(&config.Config{}, db, sel, mgr, reclaimer, nil)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return logger.AddToContext(context.Background(), discard)
}

// createTestGroup is a small convenience wrapper around the instance
// manager for handler tests that need an existing group to select.
func createTestGroup(t *testing.T, s *Service, ctx context.Context, groupName string, instanceNames ...string) instancedb.Group {
	t.Helper()
	instances := make([]instancemgr.InstanceParams, len(instanceNames))
	productOut := make([]string, len(instanceNames))
	for i, name := range instanceNames {
		instances[i] = instancemgr.InstanceParams{Name: name}
	}
	group, err := s.InstanceManager.CreateInstanceGroup(ctx, instancemgr.CreateGroupParams{
		GroupName:   groupName,
		Instances:   instances,
		Directories: instancemgr.DirectoryParams{ProductOutPaths: productOut},
	})
	require.NoError(t, err)
	return group
}
