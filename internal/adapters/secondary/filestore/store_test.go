package filestore_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/northlive/telemetry-hub/internal/adapters/primary/stream"
	"github.com/northlive/telemetry-hub/internal/adapters/secondary/filestore"
	"github.com/northlive/telemetry-hub/internal/core/domain"
	apperrors "github.com/northlive/telemetry-hub/internal/core/errors"
	"github.com/northlive/telemetry-hub/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *filestore.SnapshotStore {
	t.Helper()
	store, err := filestore.NewSnapshotStore(filepath.Join(t.TempDir(), "state", "hub.json"))
	require.NoError(t, err)
	return store
}

func TestSnapshotStore_LoadMissing(t *testing.T) {
	store := newStore(t)

	_, err := store.Load(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrSnapshotNotFound)
}

func TestSnapshotStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	last := domain.Event{Count: 2, TS: "2024-01-01T00:00:01.000000Z", Payload: json.RawMessage(`{"b":2}`)}
	snap := domain.Snapshot{
		Version: domain.SnapshotVersion,
		SavedAt: time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC),
		Count:   2,
		Last:    &last,
		Log: []domain.Event{
			{Count: 1, TS: "2024-01-01T00:00:00.000000Z", Payload: json.RawMessage(`{"a":1}`)},
			last,
		},
		Telemetry: domain.TelemetryState{Devices: 1, Batteries: []int{50}},
	}

	require.NoError(t, store.Save(ctx, snap))

	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must not survive a save")

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestSnapshotStore_Corrupt(t *testing.T) {
	store := newStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"count":`), 0o600))

	_, err := store.Load(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)
}

func TestSnapshotStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Save(ctx, domain.Snapshot{Count: 1}))

	require.NoError(t, store.Delete(ctx))
	require.NoError(t, store.Delete(ctx))

	_, err := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, store.Ping(ctx))
}

func TestSnapshotStore_HubRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	hub := services.NewHubService(stream.NewHub(0, nil, discardLogger()), services.HubOptions{}, discardLogger())
	pm := services.NewPersistenceManager(hub, store, time.Second, nil, discardLogger())
	hub.OnReset(pm.Discard)

	for i := 0; i < 3; i++ {
		hub.Ingest(ctx, json.RawMessage(`{"eventclass":"vehicle"}`))
	}
	hub.Ingest(ctx, json.RawMessage(`{"type":"telemetry.device","data":{"os":"Linux","languages":"en-GB"}}`))
	require.NoError(t, pm.Flush(ctx))

	t.Run("restart restores state", func(t *testing.T) {
		restarted := services.NewHubService(stream.NewHub(0, nil, discardLogger()), services.HubOptions{}, discardLogger())
		restartedPM := services.NewPersistenceManager(restarted, store, time.Second, nil, discardLogger())

		require.True(t, restartedPM.Restore(ctx))
		assert.Equal(t, hub.State(ctx).Count, restarted.State(ctx).Count)
		assert.Equal(t, hub.Log(ctx), restarted.Log(ctx))
		assert.Equal(t, hub.Telemetry(ctx), restarted.Telemetry(ctx))
	})

	t.Run("reset removes the snapshot", func(t *testing.T) {
		require.NoError(t, hub.Reset(ctx))
		require.NoError(t, pm.Flush(ctx))

		_, err := os.Stat(store.Path())
		assert.True(t, os.IsNotExist(err))

		restarted := services.NewHubService(stream.NewHub(0, nil, discardLogger()), services.HubOptions{}, discardLogger())
		restartedPM := services.NewPersistenceManager(restarted, store, time.Second, nil, discardLogger())
		assert.False(t, restartedPM.Restore(ctx))
		assert.Zero(t, restarted.State(ctx).Count)
	})
}
