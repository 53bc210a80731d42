package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HUB_BACKEND", "")
	t.Setenv("SNAPSHOT_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Zero(t, cfg.Server.WriteTimeout)
	assert.Equal(t, BackendMemory, cfg.Hub.Backend)
	assert.Equal(t, 200, cfg.Hub.LogCapacity)
	assert.Equal(t, 50, cfg.Hub.ProfileCapacity)
	assert.Equal(t, 256, cfg.Hub.SubscriberBuffer)
	assert.Equal(t, 15*time.Second, cfg.Hub.KeepAlive)
	assert.Equal(t, SnapshotFile, cfg.Snapshot.Backend)
	assert.Equal(t, 5*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, "ohc:events", cfg.Redis.Channel)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.UsesSnapshots())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HUB_BACKEND", "REDIS")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("SNAPSHOT_INTERVAL", "2s")
	t.Setenv("HUB_KEEPALIVE", "5s")
	t.Setenv("HOSTNAME", "hub-7d9f")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Hub.Backend)
	assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, 2*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, 5*time.Second, cfg.Hub.KeepAlive)
	assert.Equal(t, "hub-7d9f", cfg.App.PodName)
	assert.False(t, cfg.UsesSnapshots())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Hub: HubConfig{
				Backend:          BackendMemory,
				LogCapacity:      200,
				ProfileCapacity:  50,
				BatteryCapacity:  1000,
				SubscriberBuffer: 256,
				KeepAlive:        15 * time.Second,
			},
			Snapshot:  SnapshotConfig{Backend: SnapshotFile, Path: "hub.json", Interval: 5 * time.Second},
			WebSocket: WebSocketConfig{PingInterval: 54 * time.Second, PongWait: 60 * time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown hub backend", mutate: func(c *Config) { c.Hub.Backend = "etcd" }, wantErr: "HUB_BACKEND"},
		{name: "unknown snapshot backend", mutate: func(c *Config) { c.Snapshot.Backend = "s3" }, wantErr: "SNAPSHOT_BACKEND"},
		{name: "postgres without url", mutate: func(c *Config) { c.Snapshot.Backend = SnapshotPostgres }, wantErr: "DATABASE_URL"},
		{name: "zero interval", mutate: func(c *Config) { c.Snapshot.Interval = 0 }, wantErr: "SNAPSHOT_INTERVAL"},
		{name: "zero buffer", mutate: func(c *Config) { c.Hub.SubscriberBuffer = 0 }, wantErr: "HUB_SUBSCRIBER_BUFFER"},
		{name: "ping after pong", mutate: func(c *Config) { c.WebSocket.PingInterval = time.Minute }, wantErr: "WS_PING_INTERVAL"},
		{
			name: "rate limit without rps",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.BurstSize = 1
			},
			wantErr: "RATE_LIMIT_RPS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestString_RedactsDatabaseURL(t *testing.T) {
	cfg := &Config{Snapshot: SnapshotConfig{DatabaseURL: "postgres://user:secret@db:5432/hub"}}

	s := cfg.String()

	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "@db:5432/hub")
}
