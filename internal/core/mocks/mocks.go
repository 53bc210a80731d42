package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/northlive/telemetry-hub/internal/core/domain"
	"github.com/northlive/telemetry-hub/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockSnapshotStore is a mock implementation of ports.SnapshotStore
type MockSnapshotStore struct {
	mock.Mock
}

func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{}
}

func (m *MockSnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockSnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Snapshot), args.Error(1)
}

func (m *MockSnapshotStore) Delete(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSnapshotStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSnapshotStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockEventBroadcaster is a mock implementation of ports.EventBroadcaster
type MockEventBroadcaster struct {
	mock.Mock
}

func NewMockEventBroadcaster() *MockEventBroadcaster {
	return &MockEventBroadcaster{}
}

func (m *MockEventBroadcaster) Broadcast(event domain.Event) {
	m.Called(event)
}

func (m *MockEventBroadcaster) Subscribe() ports.Subscription {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(ports.Subscription)
}

func (m *MockEventBroadcaster) SubscriberCount() int {
	args := m.Called()
	return args.Int(0)
}

// MockHubService is a mock implementation of ports.HubService
type MockHubService struct {
	mock.Mock
}

func NewMockHubService() *MockHubService {
	return &MockHubService{}
}

func (m *MockHubService) Ingest(ctx context.Context, payload json.RawMessage) domain.Event {
	args := m.Called(ctx, payload)
	return args.Get(0).(domain.Event)
}

func (m *MockHubService) State(ctx context.Context) domain.State {
	args := m.Called(ctx)
	return args.Get(0).(domain.State)
}

func (m *MockHubService) Log(ctx context.Context) []domain.Event {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.Event)
}

func (m *MockHubService) Telemetry(ctx context.Context) domain.TelemetrySummary {
	args := m.Called(ctx)
	return args.Get(0).(domain.TelemetrySummary)
}

func (m *MockHubService) Subscribe(ctx context.Context) (ports.Subscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Subscription), args.Error(1)
}

func (m *MockHubService) Reset(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockHubService) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// FixedClock is a ports.Clock that advances only when told to.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MetricsCounts is a point-in-time copy of RecordingMetrics.
type MetricsCounts struct {
	Ingested    int
	Dropped     int
	Subscribers int
	Flushes     map[string]int
	Errors      map[string]int
}

// RecordingMetrics is a ports.Metrics that counts calls.
type RecordingMetrics struct {
	mu     sync.Mutex
	counts MetricsCounts
}

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{counts: MetricsCounts{
		Flushes: make(map[string]int),
		Errors:  make(map[string]int),
	}}
}

func (r *RecordingMetrics) EventIngested() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Ingested++
}

func (r *RecordingMetrics) SubscribersChanged(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Subscribers = n
}

func (r *RecordingMetrics) SubscriberDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Dropped++
}

func (r *RecordingMetrics) SnapshotFlushed(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Flushes[result]++
}

func (r *RecordingMetrics) BackendError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Errors[op]++
}

// Counts returns a copy of the counters.
func (r *RecordingMetrics) Counts() MetricsCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.counts
	out.Flushes = make(map[string]int, len(r.counts.Flushes))
	out.Errors = make(map[string]int, len(r.counts.Errors))
	for k, v := range r.counts.Flushes {
		out.Flushes[k] = v
	}
	for k, v := range r.counts.Errors {
		out.Errors[k] = v
	}
	return out
}
