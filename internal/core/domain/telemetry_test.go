package domain_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/northlive/telemetry-hub/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observe(agg *domain.Telemetry, payload string) {
	agg.Observe(json.RawMessage(payload))
}

func TestClassify(t *testing.T) {
	t.Run("event class", func(t *testing.T) {
		obs := domain.Classify(json.RawMessage(`{"eventclass":"vehicle"}`))
		assert.Equal(t, map[domain.Table]string{domain.TableEventClasses: "vehicle"}, obs.Increments)
		assert.Nil(t, obs.Battery)
		assert.False(t, obs.Device)
	})

	t.Run("non-object payload contributes nothing", func(t *testing.T) {
		assert.True(t, domain.Classify(json.RawMessage(`[1,2,3]`)).Empty())
		assert.True(t, domain.Classify(json.RawMessage(`"text"`)).Empty())
	})

	t.Run("battery from nested data", func(t *testing.T) {
		obs := domain.Classify(json.RawMessage(`{"type":"telemetry.battery","data":{"batteryPct":81.9}}`))
		require.NotNil(t, obs.Battery)
		assert.Equal(t, 81, *obs.Battery)
	})

	t.Run("battery level fallback and numeric string", func(t *testing.T) {
		obs := domain.Classify(json.RawMessage(`{"type":"telemetry.power_state","payload":{"level":"42"}}`))
		require.NotNil(t, obs.Battery)
		assert.Equal(t, 42, *obs.Battery)
	})

	t.Run("battery without level yields no sample", func(t *testing.T) {
		obs := domain.Classify(json.RawMessage(`{"type":"telemetry.battery","data":{}}`))
		assert.Nil(t, obs.Battery)
	})

	t.Run("battery with junk level yields no sample", func(t *testing.T) {
		obs := domain.Classify(json.RawMessage(`{"type":"telemetry.battery","data":{"level":"full"}}`))
		assert.Nil(t, obs.Battery)
	})

	t.Run("network prefers effectiveType", func(t *testing.T) {
		obs := domain.Classify(json.RawMessage(`{"type":"telemetry.network_env","data":{"effectiveType":"4g","type":"wifi"}}`))
		assert.Equal(t, "4g", obs.Increments[domain.TableNetworks])
	})

	t.Run("network falls back to body type", func(t *testing.T) {
		obs := domain.Classify(json.RawMessage(`{"type":"telemetry.network","data":{"type":"wifi"}}`))
		assert.Equal(t, "wifi", obs.Increments[domain.TableNetworks])
	})

	t.Run("placeholder values are skipped", func(t *testing.T) {
		obs := domain.Classify(json.RawMessage(`{"type":"telemetry.network","data":{"effectiveType":"unknown"}}`))
		_, ok := obs.Increments[domain.TableNetworks]
		assert.False(t, ok)
	})
}

func TestTelemetry_DeviceIdentity(t *testing.T) {
	agg := domain.NewTelemetry(0, 0)
	observe(agg, `{"type":"telemetry.device","data":{"deviceClass":"mobile","os":"iOS","browser":"Safari","tier":"high","gpuRenderer":"Apple GPU","timezone":"Europe/Berlin","languages":"de-DE, en-US","cores":6,"memoryGB":4}}`)

	s := agg.Summary()
	assert.Equal(t, int64(1), s.Devices)
	assert.Equal(t, map[string]int64{"mobile": 1}, s.DeviceClasses)
	assert.Equal(t, map[string]int64{"iOS": 1}, s.OSFamilies)
	assert.Equal(t, map[string]int64{"Safari": 1}, s.Browsers)
	assert.Equal(t, map[string]int64{"high": 1}, s.Tiers)
	assert.Equal(t, map[string]int64{"Apple GPU": 1}, s.GPUs)
	assert.Equal(t, map[string]int64{"Europe/Berlin": 1}, s.Timezones)
	assert.Equal(t, map[string]int64{"de-DE": 1}, s.Locales)

	require.Len(t, s.Profiles, 1)
	p := s.Profiles[0]
	assert.Equal(t, "mobile", p.DeviceClass)
	assert.Equal(t, "Apple GPU", p.GPU)
	assert.Equal(t, float64(6), p.Cores)
	assert.Equal(t, float64(4), p.Memory)
}

func TestTelemetry_DeviceSkipsUnknownFields(t *testing.T) {
	agg := domain.NewTelemetry(0, 0)
	observe(agg, `{"type":"telemetry.device_identity","data":{"deviceClass":"unknown","os":"unavailable","browser":""}}`)

	s := agg.Summary()
	assert.Equal(t, int64(1), s.Devices)
	assert.Empty(t, s.DeviceClasses)
	assert.Empty(t, s.OSFamilies)
	assert.Empty(t, s.Browsers)
	assert.Len(t, s.Profiles, 1)
}

func TestTelemetry_ProfilesBounded(t *testing.T) {
	agg := domain.NewTelemetry(0, domain.DefaultProfileCapacity)
	for i := 0; i < 60; i++ {
		observe(agg, fmt.Sprintf(`{"type":"telemetry.device","data":{"deviceClass":"d%d"}}`, i))
	}

	assert.Equal(t, 50, agg.ProfileCount())
	assert.Equal(t, int64(60), agg.Summary().Devices)

	state := agg.Snapshot()
	require.Len(t, state.Profiles, 50)
	assert.Equal(t, "d10", state.Profiles[0].DeviceClass)
	assert.Equal(t, "d59", state.Profiles[49].DeviceClass)

	recent := agg.Summary().Profiles
	require.Len(t, recent, domain.SummaryProfiles)
	assert.Equal(t, "d50", recent[0].DeviceClass)
}

func TestTelemetry_BatteryAverage(t *testing.T) {
	tests := []struct {
		name    string
		samples []int
		want    int
	}{
		{"no samples", nil, 0},
		{"single", []int{80}, 80},
		{"rounded", []int{80, 81, 81}, 81},
		{"half rounds to even", []int{2, 3}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := domain.NewTelemetry(0, 0)
			for _, s := range tt.samples {
				observe(agg, fmt.Sprintf(`{"type":"telemetry.battery","data":{"level":%d}}`, s))
			}
			summary := agg.Summary()
			assert.Equal(t, tt.want, summary.AvgBattery)
			assert.Equal(t, len(tt.samples), summary.BatteryCount)
		})
	}
}

func TestTelemetry_BatteryBounded(t *testing.T) {
	agg := domain.NewTelemetry(5, 0)
	for i := 0; i < 8; i++ {
		observe(agg, fmt.Sprintf(`{"type":"telemetry.battery","level":%d}`, i*10))
	}

	assert.Equal(t, 5, agg.BatteryCount())
	assert.Equal(t, []int{30, 40, 50, 60, 70}, agg.Snapshot().Batteries)
}

func TestTelemetry_SnapshotRestoreAndReset(t *testing.T) {
	agg := domain.NewTelemetry(0, 0)
	observe(agg, `{"eventclass":"badge"}`)
	observe(agg, `{"type":"telemetry.network","data":{"effectiveType":"wifi"}}`)
	observe(agg, `{"type":"telemetry.battery","data":{"batteryPct":50}}`)

	state := agg.Snapshot()
	raw, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded domain.TelemetryState
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := domain.NewTelemetry(0, 0)
	restored.Restore(decoded)
	assert.Equal(t, agg.Summary(), restored.Summary())

	restored.Reset()
	s := restored.Summary()
	assert.Zero(t, s.Devices)
	assert.Zero(t, s.BatteryCount)
	assert.Empty(t, s.EventClasses)
	assert.Empty(t, s.Networks)
	assert.NotNil(t, s.Networks)
	assert.NotNil(t, s.Profiles)
}
