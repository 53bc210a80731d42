package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/northlive/telemetry-hub/internal/core/domain"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

// ResetHook runs after the hub state has been cleared.
type ResetHook func(ctx context.Context) error

// HubOptions tunes an in-process hub.
type HubOptions struct {
	LogCapacity     int
	ProfileCapacity int
	BatteryCapacity int
	Clock           ports.Clock
	Metrics         ports.Metrics
}

// HubService implements the telemetry hub in process memory. A single
// mutex serializes ingest, reset, snapshot and restore, so sequence
// numbers are gap-free and subscribers see events in count order.
type HubService struct {
	mu        sync.Mutex
	count     uint64
	last      *domain.Event
	log       *domain.EventLog
	telemetry *domain.Telemetry

	broadcaster ports.EventBroadcaster
	clock       ports.Clock
	metrics     ports.Metrics
	logger      *slog.Logger

	hooksMu    sync.RWMutex
	resetHooks []ResetHook
}

var (
	_ ports.HubService  = (*HubService)(nil)
	_ ports.StateHolder = (*HubService)(nil)
)

// NewHubService creates an empty hub publishing through broadcaster.
func NewHubService(broadcaster ports.EventBroadcaster, opts HubOptions, logger *slog.Logger) *HubService {
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = ports.NopMetrics{}
	}
	return &HubService{
		log:         domain.NewEventLog(opts.LogCapacity),
		telemetry:   domain.NewTelemetry(opts.BatteryCapacity, opts.ProfileCapacity),
		broadcaster: broadcaster,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "hub_service"),
	}
}

// OnReset registers a hook to run after every Reset.
func (s *HubService) OnReset(hook ResetHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.resetHooks = append(s.resetHooks, hook)
}

// Ingest records payload as the next event and broadcasts it.
func (s *HubService) Ingest(ctx context.Context, payload json.RawMessage) domain.Event {
	s.mu.Lock()
	s.count++
	event := domain.NewEvent(s.count, s.clock.Now(), payload)
	s.last = &event
	s.log.Append(event)
	s.telemetry.Observe(event.Payload)
	// Publishing under the lock keeps per-subscriber order equal to count order.
	s.broadcaster.Broadcast(event)
	s.mu.Unlock()

	s.metrics.EventIngested()
	s.logger.DebugContext(ctx, "event ingested", "count", event.Count)
	return event
}

// State returns the current count and last event.
func (s *HubService) State(ctx context.Context) domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.State{Count: s.count, Last: s.last}
}

// Log returns the recent events, most recent last.
func (s *HubService) Log(ctx context.Context) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Items()
}

// Telemetry returns the aggregate summary.
func (s *HubService) Telemetry(ctx context.Context) domain.TelemetrySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry.Summary()
}

// Subscribe registers a live viewer.
func (s *HubService) Subscribe(ctx context.Context) (ports.Subscription, error) {
	return s.broadcaster.Subscribe(), nil
}

// Reset clears count, last event, log and telemetry, then runs the reset
// hooks outside the lock. Hook failures are logged and returned.
func (s *HubService) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.count = 0
	s.last = nil
	s.log.Clear()
	s.telemetry.Reset()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "hub state reset")

	s.hooksMu.RLock()
	hooks := append([]ResetHook(nil), s.resetHooks...)
	s.hooksMu.RUnlock()

	var errs []error
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "reset hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping always succeeds; state lives in process memory.
func (s *HubService) Ping(ctx context.Context) error {
	return nil
}

// Snapshot copies the full state.
func (s *HubService) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{
		Version:   domain.SnapshotVersion,
		SavedAt:   s.clock.Now().UTC(),
		Count:     s.count,
		Log:       s.log.Items(),
		Telemetry: s.telemetry.Snapshot(),
	}
	if s.last != nil {
		last := *s.last
		snap.Last = &last
	}
	return snap
}

// Restore overwrites the full state with snap.
func (s *HubService) Restore(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = snap.Count
	s.last = nil
	if snap.Last != nil {
		last := *snap.Last
		s.last = &last
	}
	s.log.Replace(snap.Log)
	s.telemetry.Restore(snap.Telemetry)
}
