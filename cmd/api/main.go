package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	httpAdapter "github.com/northlive/telemetry-hub/internal/adapters/primary/http"
	mw "github.com/northlive/telemetry-hub/internal/adapters/primary/http/middleware"
	"github.com/northlive/telemetry-hub/internal/adapters/primary/stream"
	"github.com/northlive/telemetry-hub/internal/adapters/secondary/filestore"
	"github.com/northlive/telemetry-hub/internal/adapters/secondary/pebble"
	"github.com/northlive/telemetry-hub/internal/adapters/secondary/postgres"
	"github.com/northlive/telemetry-hub/internal/adapters/secondary/redis"
	"github.com/northlive/telemetry-hub/internal/config"
	"github.com/northlive/telemetry-hub/internal/core/ports"
	"github.com/northlive/telemetry-hub/internal/core/services"
	"github.com/northlive/telemetry-hub/internal/infrastructure/logging"
	"github.com/northlive/telemetry-hub/internal/infrastructure/metrics"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.AddSource = cfg.IsDevelopment()
	logCfg.ServiceName = cfg.App.Name
	logCfg.Environment = cfg.App.Environment
	logCfg.File = cfg.Logging.File
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.MaxAgeDays = cfg.Logging.MaxAgeDays
	logger, closeLog := logging.NewLogger(logCfg)
	defer func() { _ = closeLog() }()

	logger.Info("starting service",
		"version", cfg.App.Version,
		"commit", cfg.App.Commit,
		"environment", cfg.App.Environment,
		"backend", cfg.Hub.Backend,
		"snapshot_backend", cfg.Snapshot.Backend,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Metrics and the local fan-out hub
	prom := metrics.New()
	streams := stream.NewHub(cfg.Hub.SubscriberBuffer, prom, logger)

	// 4. Hub backend (and snapshot persistence for the in-process hub)
	checkers := map[string]httpAdapter.HealthChecker{}
	var (
		hub ports.HubService
		pm  *services.PersistenceManager
	)

	switch cfg.Hub.Backend {
	case config.BackendRedis:
		client, err := redis.Connect(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()
		logger.Info("redis connection established", "addr", cfg.Redis.Addr())

		redisHub := redis.NewHubService(client, streams, redis.Options{
			KeyPrefix:       cfg.Redis.KeyPrefix,
			Channel:         cfg.Redis.Channel,
			LogCapacity:     cfg.Hub.LogCapacity,
			ProfileCapacity: cfg.Hub.ProfileCapacity,
			BatteryCapacity: cfg.Hub.BatteryCapacity,
			Metrics:         prom,
		}, logger)
		if err := redisHub.Start(ctx); err != nil {
			return fmt.Errorf("starting event relay: %w", err)
		}
		hub = redisHub
		checkers["redis"] = redisHub

	default:
		memHub := services.NewHubService(streams, services.HubOptions{
			LogCapacity:     cfg.Hub.LogCapacity,
			ProfileCapacity: cfg.Hub.ProfileCapacity,
			BatteryCapacity: cfg.Hub.BatteryCapacity,
			Metrics:         prom,
		}, logger)
		hub = memHub

		if cfg.UsesSnapshots() {
			store, err := openSnapshotStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("failed to close snapshot store", "error", err)
				}
			}()
			checkers["snapshot_store"] = store

			pm = services.NewPersistenceManager(memHub, store, cfg.Snapshot.Interval, prom, logger)
			pm.Restore(ctx)
			memHub.OnReset(pm.Discard)
		}
	}

	persistDone := make(chan struct{})
	persistCtx, stopPersist := context.WithCancel(ctx)
	defer stopPersist()
	if pm != nil {
		go func() {
			defer close(persistDone)
			pm.Run(persistCtx)
		}()
	} else {
		close(persistDone)
	}

	// 5. Optional ingest rate limiter
	var ingestLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		limiterCfg := mw.DefaultRateLimiterConfig()
		limiterCfg.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limiterCfg.BurstSize = cfg.RateLimit.BurstSize
		ingestLimiter = mw.NewRateLimiter(limiterCfg)
		defer ingestLimiter.Stop()
	}

	// 6. Dependency Injection (Wiring the Hexagon)
	errorHandler := httpAdapter.NewErrorHandler(logger)
	router := httpAdapter.NewRouter(httpAdapter.RouterDeps{
		Hub:    httpAdapter.NewHubHandler(hub, cfg.Hub.KeepAlive, errorHandler, logger),
		Health: httpAdapter.NewHealthHandler(cfg.App.Version, checkers),
		About: httpAdapter.NewAboutHandler(hub, httpAdapter.BuildInfo{
			Version: cfg.App.Version,
			Commit:  cfg.App.Commit,
			Pod:     cfg.App.PodName,
			Backend: cfg.Hub.Backend,
		}, nil),
		WebSocket:     httpAdapter.NewWebSocketHandler(hub, cfg, errorHandler, logger),
		Metrics:       prom.Handler(),
		IngestLimiter: ingestLimiter,
	}, logger)

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Closing every subscription first lets /events and /ws handlers return,
	// so Shutdown does not wait out the timeout on open streams.
	streams.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Final snapshot after the last request has been served.
	stopPersist()
	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		logger.Warn("final snapshot flush did not finish before the shutdown deadline")
	}
	stop()

	return nil
}

func openSnapshotStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.SnapshotStore, error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotPebble:
		store, err := pebble.Open(cfg.Snapshot.PebbleDir, nil)
		if err != nil {
			return nil, fmt.Errorf("opening pebble snapshot store: %w", err)
		}
		logger.Info("snapshot store ready", "backend", "pebble", "dir", cfg.Snapshot.PebbleDir)
		return store, nil

	case config.SnapshotPostgres:
		if err := postgres.Migrate(cfg.Snapshot.DatabaseURL, cfg.Snapshot.MigrationsPath); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}

		poolConfig, err := pgxpool.ParseConfig(cfg.Snapshot.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing database URL: %w", err)
		}
		poolConfig.MaxConns = int32(cfg.Snapshot.MaxConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		logger.Info("snapshot store ready", "backend", "postgres")
		return postgres.NewSnapshotStore(pool), nil

	default:
		store, err := filestore.NewSnapshotStore(cfg.Snapshot.Path)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot file: %w", err)
		}
		logger.Info("snapshot store ready", "backend", "file", "path", cfg.Snapshot.Path)
		return store, nil
	}
}
