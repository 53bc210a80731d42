package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Counters(t *testing.T) {
	p := New()

	p.EventIngested()
	p.EventIngested()
	p.SubscribersChanged(3)
	p.SubscriberDropped()
	p.SnapshotFlushed("ok", 5*time.Millisecond)
	p.SnapshotFlushed("skipped", 0)
	p.BackendError("ingest")

	assert.Equal(t, float64(2), testutil.ToFloat64(p.eventsIngested))
	assert.Equal(t, float64(3), testutil.ToFloat64(p.subscribers))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.droppedEvents))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.snapshotFlushes.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.snapshotFlushes.WithLabelValues("skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.backendErrors.WithLabelValues("ingest")))
}

func TestPrometheus_Handler(t *testing.T) {
	p := New()
	p.EventIngested()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hub_events_ingested_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
