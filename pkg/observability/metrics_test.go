package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetricsClient_CountersAndHistograms(t *testing.T) {
	client := NewPrometheusMetricsClient("traffic_manager_test", nil)

	client.RecordCounter("resolve_requests_total", 1, map[string]string{"outcome": "hit"})
	client.RecordCounter("resolve_requests_total", 1, map[string]string{"outcome": "miss"})
	client.RecordHistogram("resolve_duration_seconds", 0.012, nil)
	client.RecordGauge("inflight_requests", 3, nil)
	client.RecordCacheOperation("get", true, 2*time.Millisecond)
	client.RecordDatabaseOperation("select", "endpoints", nil, 5*time.Millisecond)
	client.RecordAPIOperation("GET", "/api/v1/routes/resolve", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	client.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "traffic_manager_test_resolve_requests_total")
	assert.Contains(t, body, `outcome="hit"`)
	assert.Contains(t, body, "traffic_manager_test_cache_operations_total")
	assert.Contains(t, body, "traffic_manager_test_inflight_requests 3")
}

func TestPrometheusMetricsClient_StartTimer(t *testing.T) {
	client := NewPrometheusMetricsClient("traffic_manager_timer_test", nil)

	stop := client.StartTimer("route_write_duration_seconds", map[string]string{"action": "create"})
	stop()

	rec := httptest.NewRecorder()
	client.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "route_write_duration_seconds")
}

func TestPrometheusMetricsClient_GetOrCreateIsIdempotent(t *testing.T) {
	client := NewPrometheusMetricsClient("traffic_manager_idem_test", nil)

	// Repeated records against the same collector must not re-register
	require.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			client.RecordCounter("events_published_total", 1, map[string]string{"action": "created"})
		}
	})
}

func TestNoOpMetricsClient(t *testing.T) {
	client := NewNoOpMetricsClient()

	assert.NotPanics(t, func() {
		client.RecordCounter("x", 1, nil)
		client.RecordGauge("x", 1, nil)
		client.RecordHistogram("x", 1, nil)
		client.RecordCacheOperation("get", false, time.Millisecond)
		client.StartTimer("x", nil)()
	})
	assert.NoError(t, client.Close())
}
