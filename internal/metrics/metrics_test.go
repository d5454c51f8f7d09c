package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.EventsProcessed.Add(3)
	r.NotificationsQueued.WithLabelValues("mission_done").Inc()
	r.Watermark.Set(42)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fleet_notifications_events_processed_total 3")
	assert.Contains(t, string(body), `fleet_notifications_queued_total{kind="mission_done"} 1`)
	assert.Contains(t, string(body), "fleet_notifications_watermark 42")
}

func TestRegistry_Independent(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	a.LoopErrors.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.LoopErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LoopErrors))
}
