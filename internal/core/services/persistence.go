package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/northlive/telemetry-hub/internal/core/errors"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

// DefaultSnapshotInterval is the periodic flush cadence.
const DefaultSnapshotInterval = 5 * time.Second

// finalFlushTimeout bounds the flush performed on shutdown.
const finalFlushTimeout = 10 * time.Second

// Flush results reported to metrics.
const (
	FlushOK      = "ok"
	FlushSkipped = "skipped"
	FlushError   = "error"
)

// PersistenceManager periodically writes the hub state to a snapshot store
// and restores it at startup.
type PersistenceManager struct {
	state    ports.StateHolder
	store    ports.SnapshotStore
	interval time.Duration
	metrics  ports.Metrics
	logger   *slog.Logger

	// mu makes snapshot+write and discard mutually exclusive, so a reset
	// can never be overwritten by a flush of the state it cleared.
	mu             sync.Mutex
	discardPending bool
}

// NewPersistenceManager wires a state holder to a snapshot store.
func NewPersistenceManager(
	state ports.StateHolder,
	store ports.SnapshotStore,
	interval time.Duration,
	metrics ports.Metrics,
	logger *slog.Logger,
) *PersistenceManager {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &PersistenceManager{
		state:    state,
		store:    store,
		interval: interval,
		metrics:  metrics,
		logger:   logger.With("component", "persistence"),
	}
}

// Flush writes the current state. A never-used or freshly reset hub is not
// written.
func (p *PersistenceManager) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	snap := p.state.Snapshot()

	if snap.IsPristine() {
		if p.discardPending {
			if err := p.store.Delete(ctx); err != nil {
				p.metrics.SnapshotFlushed(FlushError, time.Since(start))
				return fmt.Errorf("retry snapshot delete: %w", err)
			}
			p.discardPending = false
		}
		p.metrics.SnapshotFlushed(FlushSkipped, time.Since(start))
		return nil
	}

	if err := p.store.Save(ctx, snap); err != nil {
		p.metrics.SnapshotFlushed(FlushError, time.Since(start))
		return fmt.Errorf("save snapshot: %w", err)
	}
	p.discardPending = false

	p.metrics.SnapshotFlushed(FlushOK, time.Since(start))
	p.logger.DebugContext(ctx, "snapshot flushed",
		"count", snap.Count,
		"log_size", len(snap.Log),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Restore loads the stored snapshot into the hub. A missing or unreadable
// snapshot leaves the hub empty and is only logged. It reports whether
// state was restored.
func (p *PersistenceManager) Restore(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := p.store.Load(ctx)
	switch {
	case errors.Is(err, apperrors.ErrSnapshotNotFound):
		p.logger.InfoContext(ctx, "no snapshot found, starting empty")
		return false
	case err != nil:
		p.logger.WarnContext(ctx, "snapshot unreadable, starting empty", "error", err)
		return false
	}

	p.state.Restore(snap)
	p.logger.InfoContext(ctx, "snapshot restored",
		"count", snap.Count,
		"log_size", len(snap.Log),
		"saved_at", snap.SavedAt,
	)
	return true
}

// Discard deletes the stored snapshot. A failed delete is retried by the
// next flush.
func (p *PersistenceManager) Discard(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.Delete(ctx); err != nil {
		p.discardPending = true
		return fmt.Errorf("delete snapshot: %w", err)
	}
	p.discardPending = false
	p.logger.InfoContext(ctx, "snapshot discarded")
	return nil
}

// Run flushes on every interval until ctx is cancelled, then flushes once
// more. Flush failures are logged and do not stop the loop.
func (p *PersistenceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("persistence loop started", "interval", p.interval.String())

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			if err := p.Flush(finalCtx); err != nil {
				p.logger.Error("final snapshot flush failed", "error", err)
			} else {
				p.logger.Info("final snapshot flushed")
			}
			cancel()
			return

		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("snapshot flush failed", "error", err)
			}
		}
	}
}
