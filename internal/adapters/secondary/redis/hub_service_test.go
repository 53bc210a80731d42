package redis_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northlive/telemetry-hub/internal/adapters/primary/stream"
	"github.com/northlive/telemetry-hub/internal/adapters/secondary/redis"
	"github.com/northlive/telemetry-hub/internal/core/domain"
	apperrors "github.com/northlive/telemetry-hub/internal/core/errors"
	"github.com/northlive/telemetry-hub/internal/core/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	server  *miniredis.Miniredis
	client  *goredis.Client
	hub     *redis.HubService
	local   *stream.Hub
	metrics *mocks.RecordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server := miniredis.RunT(t)
	return newReplica(t, server)
}

// newReplica creates another hub process sharing server.
func newReplica(t *testing.T, server *miniredis.Miniredis) *fixture {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        server.Addr(),
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { client.Close() })

	metrics := mocks.NewRecordingMetrics()
	local := stream.NewHub(0, metrics, discardLogger())
	hub := redis.NewHubService(client, local, redis.Options{
		KeyPrefix: "test",
		Channel:   "test:events",
		Clock:     mocks.NewFixedClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		Metrics:   metrics,
	}, discardLogger())

	return &fixture{server: server, client: client, hub: hub, local: local, metrics: metrics}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, f.hub.Start(ctx))
}

func receive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.Event{}
}

func TestHubService_IngestStateLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		f.hub.Ingest(ctx, json.RawMessage(`{"eventclass":"vehicle"}`))
	}

	state := f.hub.State(ctx)
	assert.Equal(t, uint64(3), state.Count)
	require.NotNil(t, state.Last)
	assert.Equal(t, uint64(3), state.Last.Count)
	assert.Equal(t, "2024-06-01T12:00:00.000000Z", state.Last.TS)
	assert.JSONEq(t, `{"eventclass":"vehicle"}`, string(state.Last.Payload))

	log := f.hub.Log(ctx)
	require.Len(t, log, 3)
	for i, e := range log {
		assert.Equal(t, uint64(i+1), e.Count)
	}

	assert.Equal(t, map[string]int64{"vehicle": 3}, f.hub.Telemetry(ctx).EventClasses)
	assert.Equal(t, 3, f.metrics.Counts().Ingested)

	count, err := f.server.Get("test:count")
	require.NoError(t, err)
	assert.Equal(t, "3", count)
}

func TestHubService_EmptyState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	state := f.hub.State(ctx)
	assert.Zero(t, state.Count)
	assert.Nil(t, state.Last)
	assert.Empty(t, f.hub.Log(ctx))

	summary := f.hub.Telemetry(ctx)
	assert.Zero(t, summary.AvgBattery)
	assert.NotNil(t, summary.Networks)
	assert.NotNil(t, summary.Profiles)
}

func TestHubService_LogIsTrimmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 250; i++ {
		f.hub.Ingest(ctx, json.RawMessage(`{}`))
	}

	log := f.hub.Log(ctx)
	require.Len(t, log, domain.DefaultLogCapacity)
	assert.Equal(t, uint64(51), log[0].Count)
	assert.Equal(t, uint64(250), log[len(log)-1].Count)
}

func TestHubService_Telemetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.hub.Ingest(ctx, json.RawMessage(`{"type":"telemetry.device","data":{"deviceClass":"phone","os":"Android","browser":"Chrome","tier":"high","gpuRenderer":"Adreno","cores":8,"memoryGB":4,"timezone":"Europe/London","languages":"en-GB,en"}}`))
	f.hub.Ingest(ctx, json.RawMessage(`{"type":"telemetry.battery","data":{"level":0.5}}`))
	f.hub.Ingest(ctx, json.RawMessage(`{"type":"telemetry.battery","data":{"batteryPct":80}}`))
	f.hub.Ingest(ctx, json.RawMessage(`{"type":"telemetry.network","data":{"effectiveType":"4g"}}`))

	summary := f.hub.Telemetry(ctx)

	assert.Equal(t, int64(1), summary.Devices)
	assert.Equal(t, map[string]int64{"phone": 1}, summary.DeviceClasses)
	assert.Equal(t, map[string]int64{"Android": 1}, summary.OSFamilies)
	assert.Equal(t, map[string]int64{"Chrome": 1}, summary.Browsers)
	assert.Equal(t, map[string]int64{"high": 1}, summary.Tiers)
	assert.Equal(t, map[string]int64{"Adreno": 1}, summary.GPUs)
	assert.Equal(t, map[string]int64{"Europe/London": 1}, summary.Timezones)
	assert.Equal(t, map[string]int64{"en-GB": 1}, summary.Locales)
	assert.Equal(t, map[string]int64{"4g": 1}, summary.Networks)
	assert.Equal(t, 2, summary.BatteryCount)
	assert.Equal(t, 40, summary.AvgBattery)

	require.Len(t, summary.Profiles, 1)
	assert.Equal(t, "Android", summary.Profiles[0].OS)
	assert.Equal(t, float64(8), summary.Profiles[0].Cores)
}

func TestHubService_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a running relay", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.hub.Subscribe(ctx)

		assert.ErrorIs(t, err, apperrors.ErrSubscribeFailed)
	})

	t.Run("delivers events across replicas in order", func(t *testing.T) {
		producer := newFixture(t)
		viewer := newReplica(t, producer.server)
		viewer.start(t)

		sub, err := viewer.hub.Subscribe(ctx)
		require.NoError(t, err)
		defer sub.Close()

		for i := 0; i < 5; i++ {
			producer.hub.Ingest(ctx, json.RawMessage(`{"n":1}`))
		}

		for want := uint64(1); want <= 5; want++ {
			e := receive(t, sub.Events())
			assert.Equal(t, want, e.Count)
			assert.JSONEq(t, `{"n":1}`, string(e.Payload))
		}
		assert.Equal(t, uint64(5), viewer.hub.State(ctx).Count)
	})

	t.Run("relay stops with its context", func(t *testing.T) {
		f := newFixture(t)
		relayCtx, cancel := context.WithCancel(ctx)
		require.NoError(t, f.hub.Start(relayCtx))

		cancel()

		require.Eventually(t, func() bool {
			_, err := f.hub.Subscribe(ctx)
			return err != nil
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestHubService_Reset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.server.Set("unrelated", "keep"))

	f.hub.Ingest(ctx, json.RawMessage(`{"eventclass":"badge"}`))
	f.hub.Ingest(ctx, json.RawMessage(`{"type":"telemetry.device","data":{"os":"iOS"}}`))
	f.hub.Ingest(ctx, json.RawMessage(`{"type":"telemetry.battery","data":{"level":90}}`))

	require.NoError(t, f.hub.Reset(ctx))

	state := f.hub.State(ctx)
	assert.Zero(t, state.Count)
	assert.Nil(t, state.Last)
	assert.Empty(t, f.hub.Log(ctx))
	summary := f.hub.Telemetry(ctx)
	assert.Zero(t, summary.Devices)
	assert.Zero(t, summary.BatteryCount)
	assert.Empty(t, summary.EventClasses)

	assert.Equal(t, []string{"unrelated"}, f.server.Keys())

	next := f.hub.Ingest(ctx, json.RawMessage(`{}`))
	assert.Equal(t, uint64(1), next.Count)
}

func TestHubService_DegradesWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.hub.Ingest(ctx, json.RawMessage(`{}`))
	f.server.Close()

	event := f.hub.Ingest(ctx, json.RawMessage(`{"a":1}`))
	assert.Zero(t, event.Count)
	assert.JSONEq(t, `{"a":1}`, string(event.Payload))

	assert.Zero(t, f.hub.State(ctx).Count)
	assert.Empty(t, f.hub.Log(ctx))
	assert.NotNil(t, f.hub.Telemetry(ctx).EventClasses)
	assert.ErrorIs(t, f.hub.Ping(ctx), apperrors.ErrBackendUnavailable)
	assert.ErrorIs(t, f.hub.Reset(ctx), apperrors.ErrBackendUnavailable)

	errs := f.metrics.Counts().Errors
	assert.Equal(t, 1, errs["ingest"])
	assert.Equal(t, 1, errs["state"])
	assert.Equal(t, 1, errs["log"])
	assert.Equal(t, 1, errs["telemetry"])
	assert.Equal(t, 1, errs["reset"])
}
