package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/northlive/telemetry-hub/internal/core/domain"
)

// HubService defines the core operations of the telemetry hub. Both the
// in-process hub and the Redis-backed hub implement it.
type HubService interface {
	// Ingest records one payload and returns the stamped event. It never
	// fails; a degraded backend yields an event with count 0.
	Ingest(ctx context.Context, payload json.RawMessage) domain.Event
	State(ctx context.Context) domain.State
	Log(ctx context.Context) []domain.Event
	Telemetry(ctx context.Context) domain.TelemetrySummary
	Subscribe(ctx context.Context) (Subscription, error)
	Reset(ctx context.Context) error
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// Subscription is a live viewer's handle on the event stream.
type Subscription interface {
	ID() string
	// Events yields events in publish order. The channel is closed once
	// the subscription ends.
	Events() <-chan domain.Event
	// Close ends the subscription. Safe to call more than once.
	Close()
}

// EventBroadcaster fans events out to live subscriptions.
type EventBroadcaster interface {
	Broadcast(event domain.Event)
	Subscribe() Subscription
	SubscriberCount() int
}

// Clock is the time source used to stamp events.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Metrics receives hub instrumentation.
type Metrics interface {
	EventIngested()
	SubscribersChanged(n int)
	SubscriberDropped()
	SnapshotFlushed(result string, took time.Duration)
	BackendError(op string)
}

// NopMetrics discards all instrumentation.
type NopMetrics struct{}

func (NopMetrics) EventIngested()                        {}
func (NopMetrics) SubscribersChanged(int)                {}
func (NopMetrics) SubscriberDropped()                    {}
func (NopMetrics) SnapshotFlushed(string, time.Duration) {}
func (NopMetrics) BackendError(string)                   {}
