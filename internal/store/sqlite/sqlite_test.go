package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func TestRecordStartStopRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	rec := store.Record{PID: 4242, Port: 3000, Command: "npm run dev", StartedAt: started}
	require.NoError(t, db.RecordStart(ctx, rec))

	got, err := db.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, 4242, got.PID)
	require.Equal(t, 3000, got.Port)
	require.Equal(t, "npm run dev", got.Command)
	require.True(t, got.Running)
	require.False(t, got.StoppedAt.Valid)

	stopped := started.Add(30 * time.Second)
	require.NoError(t, db.RecordStop(ctx, rec.Key(), stopped, true, "signal: killed"))

	got, err = db.LastRun(ctx)
	require.NoError(t, err)
	require.False(t, got.Running)
	require.True(t, got.StoppedAt.Valid)
	require.True(t, got.ForceKilled)
	require.Equal(t, "signal: killed", got.ExitNote.String)
}

func TestRecordStartIsIdempotentPerRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	rec := store.Record{PID: 100, Port: 5173, Command: "node node_modules/vite/bin/vite.js", StartedAt: started}
	require.NoError(t, db.RecordStart(ctx, rec))
	require.NoError(t, db.RecordStart(ctx, rec))

	var n int
	row := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dev_server_runs;`)
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 1, n)
}

func TestLastRunPicksNewestStart(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.RecordStart(ctx, store.Record{PID: 1, Port: 3000, Command: "npm run dev", StartedAt: base.Add(-time.Hour)}))
	require.NoError(t, db.RecordStart(ctx, store.Record{PID: 2, Port: 3000, Command: "npm start", StartedAt: base}))

	got, err := db.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, got.PID)
}
