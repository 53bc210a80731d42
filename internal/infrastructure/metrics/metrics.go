package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/northlive/telemetry-hub/internal/core/ports"
)

const namespace = "hub"

// Prometheus records hub instrumentation on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	eventsIngested  prometheus.Counter
	subscribers     prometheus.Gauge
	droppedEvents   prometheus.Counter
	snapshotFlushes *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	backendErrors   *prometheus.CounterVec
}

var _ ports.Metrics = (*Prometheus)(nil)

// New registers the hub collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		eventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events accepted by the ingest endpoint.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live stream subscribers on this replica.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_dropped_events_total",
			Help:      "Events evicted from full subscriber queues.",
		}),
		snapshotFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_flushes_total",
			Help:      "Snapshot flush attempts by result.",
		}, []string{"result"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_flush_seconds",
			Help:      "Time spent writing snapshots.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Failed state backend operations by operation.",
		}, []string{"op"}),
	}

	p.registry.MustRegister(
		p.eventsIngested,
		p.subscribers,
		p.droppedEvents,
		p.snapshotFlushes,
		p.flushDuration,
		p.backendErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) EventIngested() { p.eventsIngested.Inc() }

func (p *Prometheus) SubscribersChanged(n int) { p.subscribers.Set(float64(n)) }

func (p *Prometheus) SubscriberDropped() { p.droppedEvents.Inc() }

func (p *Prometheus) SnapshotFlushed(result string, took time.Duration) {
	p.snapshotFlushes.WithLabelValues(result).Inc()
	if took > 0 {
		p.flushDuration.Observe(took.Seconds())
	}
}

func (p *Prometheus) BackendError(op string) {
	p.backendErrors.WithLabelValues(op).Inc()
}
