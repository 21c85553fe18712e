package instancemgr

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/lockfile"
	"github.com/cvdhost/cvdd/lib/logger"
	"github.com/cvdhost/cvdd/lib/paths"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	p := paths.New(root)
	require.NoError(t, os.MkdirAll(p.DatabaseDir(), 0o755))
	require.NoError(t, os.MkdirAll(p.LocksDir(), 0o755))
	require.NoError(t, os.MkdirAll(p.GroupsDir(), 0o755))
	locks := lockfile.New(p, 16)
	db := instancedb.New(p, "cvd")
	return New(p, locks, db)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	discard := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return logger.AddToContext(context.Background(), discard)
}
