package stream

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/northlive/telemetry-hub/internal/core/domain"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 256

// Hub maintains the set of active subscribers and fans events out to them.
type Hub struct {
	// subscribers is the live registry
	subscribers map[*Subscriber]struct{}

	// bufferSize is the capacity of each subscriber queue
	bufferSize int

	// mu protects the subscribers map
	mu sync.RWMutex

	metrics ports.Metrics
	logger  *slog.Logger
}

// Ensure Hub implements the EventBroadcaster interface.
var _ ports.EventBroadcaster = (*Hub)(nil)

// NewHub creates a new broadcaster. A nil metrics sink discards metrics.
func NewHub(bufferSize int, metrics ports.Metrics, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		bufferSize:  bufferSize,
		metrics:     metrics,
		logger:      logger.With("component", "stream_hub"),
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() ports.Subscription {
	sub := &Subscriber{
		id:  uuid.NewString(),
		hub: h,
		ch:  make(chan domain.Event, h.bufferSize),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()

	h.metrics.SubscribersChanged(n)
	h.logger.Info("subscriber registered",
		"subscriber_id", sub.id,
		"total_subscribers", n,
	)
	return sub
}

// Unsubscribe removes a subscriber and closes its queue.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	n := len(h.subscribers)
	h.mu.Unlock()

	sub.closeQueue()
	if !ok {
		return
	}

	h.metrics.SubscribersChanged(n)
	h.logger.Info("subscriber unregistered",
		"subscriber_id", sub.id,
		"total_subscribers", n,
	)
}

// Broadcast queues event for every subscriber without blocking. A full
// queue drops its oldest event to make room.
func (h *Hub) Broadcast(event domain.Event) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.offer(event) {
			h.metrics.SubscriberDropped()
			h.logger.Debug("subscriber queue full, dropped oldest event",
				"subscriber_id", sub.id,
				"count", event.Count,
			)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Shutdown closes every subscriber so streaming handlers return.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.closeQueue()
	}
	h.metrics.SubscribersChanged(0)
}

// Subscriber is one registered viewer.
type Subscriber struct {
	id  string
	hub *Hub
	ch  chan domain.Event

	// mu serializes queue writes with close
	mu     sync.Mutex
	closed bool
}

// Ensure Subscriber implements the Subscription interface.
var _ ports.Subscription = (*Subscriber)(nil)

func (s *Subscriber) ID() string { return s.id }

func (s *Subscriber) Events() <-chan domain.Event { return s.ch }

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.hub.Unsubscribe(s)
}

// offer enqueues event, evicting the oldest queued event when full.
// It reports whether an event was dropped.
func (s *Subscriber) offer(event domain.Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	for {
		select {
		case s.ch <- event:
			return dropped
		default:
		}

		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

func (s *Subscriber) closeQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
