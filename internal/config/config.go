package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Hub backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Snapshot backends.
const (
	SnapshotFile     = "file"
	SnapshotPebble   = "pebble"
	SnapshotPostgres = "postgres"
	SnapshotNone     = "none"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Hub state and streaming configuration
	Hub HubConfig

	// Durable snapshot configuration
	Snapshot SnapshotConfig

	// Redis configuration, used when Hub.Backend is redis
	Redis RedisConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// WebSocket configuration
	WebSocket WebSocketConfig

	// Logging configuration
	Logging LoggingConfig

	// Application metadata
	App AppConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // 0 keeps streaming responses open
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// HubConfig holds hub state and broadcaster configuration
type HubConfig struct {
	Backend          string // memory, redis
	LogCapacity      int
	ProfileCapacity  int
	BatteryCapacity  int
	SubscriberBuffer int
	KeepAlive        time.Duration
}

// SnapshotConfig holds durable snapshot configuration
type SnapshotConfig struct {
	Backend        string // file, pebble, postgres, none
	Path           string
	PebbleDir      string
	Interval       time.Duration
	DatabaseURL    string
	MigrationsPath string
	MaxConns       int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	Channel     string
	KeyPrefix   string
	DialTimeout time.Duration
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// RateLimitConfig holds rate limiting configuration for POST /ingest
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongWait        time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string
	Version     string
	Commit      string
	Environment string
	PodName     string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", ":8080"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 0),
			IdleTimeout:     getDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Hub: HubConfig{
			Backend:          strings.ToLower(getEnvOrDefault("HUB_BACKEND", BackendMemory)),
			LogCapacity:      getIntOrDefault("HUB_LOG_CAPACITY", 200),
			ProfileCapacity:  getIntOrDefault("HUB_PROFILE_CAPACITY", 50),
			BatteryCapacity:  getIntOrDefault("HUB_BATTERY_CAPACITY", 1000),
			SubscriberBuffer: getIntOrDefault("HUB_SUBSCRIBER_BUFFER", 256),
			KeepAlive:        getDurationOrDefault("HUB_KEEPALIVE", 15*time.Second),
		},
		Snapshot: SnapshotConfig{
			Backend:        strings.ToLower(getEnvOrDefault("SNAPSHOT_BACKEND", SnapshotFile)),
			Path:           getEnvOrDefault("SNAPSHOT_PATH", "data/hub-snapshot.json"),
			PebbleDir:      getEnvOrDefault("SNAPSHOT_PEBBLE_DIR", "data/pebble"),
			Interval:       getDurationOrDefault("SNAPSHOT_INTERVAL", 5*time.Second),
			DatabaseURL:    os.Getenv("DATABASE_URL"),
			MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "migrations"),
			MaxConns:       getIntOrDefault("DB_MAX_OPEN_CONNS", 4),
		},
		Redis: RedisConfig{
			Host:        getEnvOrDefault("REDIS_HOST", "redis"),
			Port:        getEnvOrDefault("REDIS_PORT", "6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          getIntOrDefault("REDIS_DB", 0),
			Channel:     getEnvOrDefault("REDIS_CHANNEL", "ohc:events"),
			KeyPrefix:   getEnvOrDefault("REDIS_KEY_PREFIX", "ohc"),
			DialTimeout: getDurationOrDefault("REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getBoolOrDefault("RATE_LIMIT_ENABLED", false),
			RequestsPerSecond: getFloatOrDefault("RATE_LIMIT_RPS", 50),
			BurstSize:         getIntOrDefault("RATE_LIMIT_BURST", 100),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:  getStringSliceOrDefault("WS_ALLOWED_ORIGINS", []string{}),
			ReadBufferSize:  getIntOrDefault("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getIntOrDefault("WS_WRITE_BUFFER_SIZE", 1024),
			PingInterval:    getDurationOrDefault("WS_PING_INTERVAL", 54*time.Second),
			PongWait:        getDurationOrDefault("WS_PONG_WAIT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			Format:     getEnvOrDefault("LOG_FORMAT", "json"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getIntOrDefault("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getIntOrDefault("LOG_MAX_AGE_DAYS", 7),
		},
		App: AppConfig{
			Name:        getEnvOrDefault("APP_NAME", "telemetry-hub"),
			Version:     getEnvOrDefault("BUILD_VERSION", "local"),
			Commit:      getEnvOrDefault("GIT_COMMIT", "dev"),
			Environment: getEnvOrDefault("APP_ENV", "development"),
			PodName:     getEnvOrDefault("HOSTNAME", "unknown"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	switch c.Hub.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Sprintf("HUB_BACKEND must be %q or %q", BackendMemory, BackendRedis))
	}

	switch c.Snapshot.Backend {
	case SnapshotFile:
		if c.Snapshot.Path == "" {
			errs = append(errs, "SNAPSHOT_PATH is required for the file snapshot backend")
		}
	case SnapshotPebble:
		if c.Snapshot.PebbleDir == "" {
			errs = append(errs, "SNAPSHOT_PEBBLE_DIR is required for the pebble snapshot backend")
		}
	case SnapshotPostgres:
		if c.Snapshot.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres snapshot backend")
		}
	case SnapshotNone:
	default:
		errs = append(errs, "SNAPSHOT_BACKEND must be one of file, pebble, postgres, none")
	}

	if c.Snapshot.Interval <= 0 {
		errs = append(errs, "SNAPSHOT_INTERVAL must be positive")
	}

	if c.Hub.LogCapacity <= 0 || c.Hub.ProfileCapacity <= 0 || c.Hub.BatteryCapacity <= 0 {
		errs = append(errs, "HUB_LOG_CAPACITY, HUB_PROFILE_CAPACITY and HUB_BATTERY_CAPACITY must be positive")
	}
	if c.Hub.SubscriberBuffer <= 0 {
		errs = append(errs, "HUB_SUBSCRIBER_BUFFER must be positive")
	}
	if c.Hub.KeepAlive <= 0 {
		errs = append(errs, "HUB_KEEPALIVE must be positive")
	}

	if c.Hub.Backend == BackendRedis && c.Redis.Host == "" {
		errs = append(errs, "REDIS_HOST is required for the redis backend")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.BurstSize <= 0) {
		errs = append(errs, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, "WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// UsesSnapshots reports whether state is persisted by the snapshot loop.
// The redis backend is durable on its own.
func (c *Config) UsesSnapshots() bool {
	return c.Hub.Backend == BackendMemory && c.Snapshot.Backend != SnapshotNone
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// String returns a redacted string representation of the config (safe for logging)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s, Hub: %s, Snapshot: %s, DB: %s, Redis: %s, RateLimit: %v, Environment: %s}",
		c.Server.Port,
		c.Hub.Backend,
		c.Snapshot.Backend,
		redactURL(c.Snapshot.DatabaseURL),
		c.Redis.Addr(),
		c.RateLimit.Enabled,
		c.App.Environment,
	)
}

// redactURL redacts sensitive parts of a database URL
func redactURL(url string) string {
	if url == "" {
		return ""
	}
	if idx := strings.Index(url, "@"); idx > 0 {
		return "[REDACTED]" + url[idx:]
	}
	return "[REDACTED]"
}
