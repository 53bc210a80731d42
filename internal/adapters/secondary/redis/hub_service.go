package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/northlive/telemetry-hub/internal/core/domain"
	apperrors "github.com/northlive/telemetry-hub/internal/core/errors"
	"github.com/northlive/telemetry-hub/internal/core/ports"
)

const (
	DefaultKeyPrefix = "telemetry-hub"
	DefaultChannel   = "telemetry-hub:events"

	scanBatch = 100
)

// Options tunes a Redis-backed hub.
type Options struct {
	KeyPrefix       string
	Channel         string
	LogCapacity     int
	ProfileCapacity int
	BatteryCapacity int
	Clock           ports.Clock
	Metrics         ports.Metrics
}

type keySet struct {
	prefix    string
	count     string
	last      string
	eventLog  string
	batteries string
	devices   string
	profiles  string
}

func newKeySet(prefix string) keySet {
	return keySet{
		prefix:    prefix,
		count:     prefix + ":count",
		last:      prefix + ":last",
		eventLog:  prefix + ":event_log",
		batteries: prefix + ":telemetry:batteries",
		devices:   prefix + ":telemetry:devices",
		profiles:  prefix + ":telemetry:profiles",
	}
}

func (k keySet) table(t domain.Table) string {
	return k.prefix + ":telemetry:" + string(t)
}

// HubService implements the telemetry hub on Redis so several replicas
// share one count, log and aggregate. Live events travel over Redis
// pub/sub and are relayed into a local broadcaster.
//
// Backend failures never surface to producers: they are logged, counted
// and answered with zero values.
type HubService struct {
	client      goredis.UniversalClient
	keys        keySet
	channel     string
	logCap      int
	profileCap  int
	batteryCap  int
	broadcaster ports.EventBroadcaster
	clock       ports.Clock
	metrics     ports.Metrics
	logger      *slog.Logger

	// ingestMu keeps this replica's writes and publishes in count order.
	ingestMu sync.Mutex
	relaying atomic.Bool
}

var _ ports.HubService = (*HubService)(nil)

// NewHubService creates a hub on client. Call Start before accepting
// subscribers.
func NewHubService(client goredis.UniversalClient, broadcaster ports.EventBroadcaster, opts Options, logger *slog.Logger) *HubService {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = domain.DefaultLogCapacity
	}
	if opts.ProfileCapacity <= 0 {
		opts.ProfileCapacity = domain.DefaultProfileCapacity
	}
	if opts.BatteryCapacity <= 0 {
		opts.BatteryCapacity = domain.DefaultBatteryCapacity
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = ports.NopMetrics{}
	}
	return &HubService{
		client:      client,
		keys:        newKeySet(opts.KeyPrefix),
		channel:     opts.Channel,
		logCap:      opts.LogCapacity,
		profileCap:  opts.ProfileCapacity,
		batteryCap:  opts.BatteryCapacity,
		broadcaster: broadcaster,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "redis_hub"),
	}
}

// Start subscribes to the event channel and relays every message to the
// local broadcaster until ctx is cancelled. It returns once the
// subscription is confirmed by the server.
func (s *HubService) Start(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		s.metrics.BackendError("subscribe")
		return fmt.Errorf("%w: %v", apperrors.ErrSubscribeFailed, err)
	}

	s.relaying.Store(true)
	go s.relay(ctx, pubsub)
	return nil
}

func (s *HubService) relay(ctx context.Context, pubsub *goredis.PubSub) {
	defer func() {
		s.relaying.Store(false)
		pubsub.Close()
		s.logger.Info("event relay stopped")
	}()

	s.logger.Info("event relay started", "channel", s.channel)
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("dropping malformed event message", "error", err)
				continue
			}
			s.broadcaster.Broadcast(event)
		}
	}
}

// Ingest records payload as the next event. When Redis is unavailable the
// returned event carries count 0 and nothing is published.
func (s *HubService) Ingest(ctx context.Context, payload json.RawMessage) domain.Event {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	count, err := s.client.Incr(ctx, s.keys.count).Result()
	if err != nil {
		s.backendError(ctx, "ingest", err)
		return domain.NewEvent(0, s.clock.Now(), payload)
	}

	event := domain.NewEvent(uint64(count), s.clock.Now(), payload)
	data, err := json.Marshal(event)
	if err != nil {
		s.backendError(ctx, "ingest", err)
		return event
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.last, data, 0)
	pipe.RPush(ctx, s.keys.eventLog, data)
	pipe.LTrim(ctx, s.keys.eventLog, int64(-s.logCap), -1)
	if err := s.queueObservation(ctx, pipe, domain.Classify(event.Payload)); err != nil {
		s.logger.WarnContext(ctx, "skipping device profile", "error", err)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.backendError(ctx, "ingest", err)
		return event
	}

	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		s.backendError(ctx, "publish", err)
	}

	s.metrics.EventIngested()
	s.logger.DebugContext(ctx, "event ingested", "count", event.Count)
	return event
}

func (s *HubService) queueObservation(ctx context.Context, pipe goredis.Pipeliner, obs domain.Observation) error {
	for table, key := range obs.Increments {
		pipe.HIncrBy(ctx, s.keys.table(table), key, 1)
	}
	if obs.Battery != nil {
		pipe.RPush(ctx, s.keys.batteries, *obs.Battery)
		pipe.LTrim(ctx, s.keys.batteries, int64(-s.batteryCap), -1)
	}
	if obs.Device {
		pipe.Incr(ctx, s.keys.devices)
	}
	if obs.Profile != nil {
		profile, err := json.Marshal(obs.Profile)
		if err != nil {
			return err
		}
		pipe.RPush(ctx, s.keys.profiles, profile)
		pipe.LTrim(ctx, s.keys.profiles, int64(-s.profileCap), -1)
	}
	return nil
}

// State returns the shared count and last event.
func (s *HubService) State(ctx context.Context) domain.State {
	values, err := s.client.MGet(ctx, s.keys.count, s.keys.last).Result()
	if err != nil {
		s.backendError(ctx, "state", err)
		return domain.State{}
	}

	var state domain.State
	if raw, ok := values[0].(string); ok {
		state.Count, _ = strconv.ParseUint(raw, 10, 64)
	}
	if raw, ok := values[1].(string); ok {
		var last domain.Event
		if err := json.Unmarshal([]byte(raw), &last); err == nil {
			state.Last = &last
		}
	}
	return state
}

// Log returns the shared recent events, most recent last.
func (s *HubService) Log(ctx context.Context) []domain.Event {
	raw, err := s.client.LRange(ctx, s.keys.eventLog, 0, -1).Result()
	if err != nil {
		s.backendError(ctx, "log", err)
		return []domain.Event{}
	}

	events := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		var event domain.Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events
}

// Telemetry reads every table and list in one round trip.
func (s *HubService) Telemetry(ctx context.Context) domain.TelemetrySummary {
	pipe := s.client.Pipeline()
	tableCmds := make(map[domain.Table]*goredis.MapStringStringCmd, len(domain.Tables))
	for _, table := range domain.Tables {
		tableCmds[table] = pipe.HGetAll(ctx, s.keys.table(table))
	}
	batteriesCmd := pipe.LRange(ctx, s.keys.batteries, 0, -1)
	devicesCmd := pipe.Get(ctx, s.keys.devices)
	profilesCmd := pipe.LRange(ctx, s.keys.profiles, int64(-domain.SummaryProfiles), -1)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		s.backendError(ctx, "telemetry", err)
		return domain.BuildSummary(nil, 0, nil, nil)
	}

	tables := make(map[domain.Table]map[string]int64, len(tableCmds))
	for table, cmd := range tableCmds {
		counts := make(map[string]int64, len(cmd.Val()))
		for k, v := range cmd.Val() {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				counts[k] = n
			}
		}
		tables[table] = counts
	}

	batteries := make([]int, 0, len(batteriesCmd.Val()))
	for _, v := range batteriesCmd.Val() {
		if n, err := strconv.Atoi(v); err == nil {
			batteries = append(batteries, n)
		}
	}

	devices, _ := strconv.ParseInt(devicesCmd.Val(), 10, 64)

	profiles := make([]domain.DeviceProfile, 0, len(profilesCmd.Val()))
	for _, v := range profilesCmd.Val() {
		var p domain.DeviceProfile
		if err := json.Unmarshal([]byte(v), &p); err == nil {
			profiles = append(profiles, p)
		}
	}

	return domain.BuildSummary(batteries, devices, tables, profiles)
}

// Subscribe registers a local viewer fed by the pub/sub relay.
func (s *HubService) Subscribe(ctx context.Context) (ports.Subscription, error) {
	if !s.relaying.Load() {
		return nil, fmt.Errorf("%w: event relay is not running", apperrors.ErrSubscribeFailed)
	}
	return s.broadcaster.Subscribe(), nil
}

// Reset deletes every key under the hub prefix.
func (s *HubService) Reset(ctx context.Context) error {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keys.prefix+":*", scanBatch).Result()
		if err != nil {
			s.backendError(ctx, "reset", err)
			return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				s.backendError(ctx, "reset", err)
				return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.InfoContext(ctx, "hub state reset", "keys_deleted", deleted)
	return nil
}

func (s *HubService) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *HubService) backendError(ctx context.Context, op string, err error) {
	s.metrics.BackendError(op)
	s.logger.ErrorContext(ctx, "redis operation failed", "op", op, "error", err)
}
