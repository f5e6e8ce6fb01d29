package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/metrics"
)

func TestCounterIncrementsAcrossLabelValues(t *testing.T) {
	s := metrics.New()
	s.Counter("bus.events.published", "topic", "facility.hvac.command")
	s.Counter("bus.events.published", "topic", "facility.hvac.command")
	s.Counter("bus.events.published", "topic", "facility.power.command")

	body := scrape(t, s)
	assert.Contains(t, body, `bus_events_published{topic="facility.hvac.command"} 2`)
	assert.Contains(t, body, `bus_events_published{topic="facility.power.command"} 1`)
}

func TestCounterWithNoLabels(t *testing.T) {
	s := metrics.New()
	s.Counter("coordinator.quorum.reached")

	body := scrape(t, s)
	assert.Contains(t, body, "coordinator_quorum_reached 1")
}

func TestGaugeSetsLatestValue(t *testing.T) {
	s := metrics.New()
	s.Gauge("modelmanager.memory.used_mb", 128, "agent_type", "hvac")
	s.Gauge("modelmanager.memory.used_mb", 256, "agent_type", "hvac")

	body := scrape(t, s)
	assert.Contains(t, body, `modelmanager_memory_used_mb{agent_type="hvac"} 256`)
}

func TestHistogramObservesSamples(t *testing.T) {
	s := metrics.New()
	s.Histogram("worker.decision.latency_seconds", 0.25, "agent_type", "security")

	body := scrape(t, s)
	assert.Contains(t, body, "worker_decision_latency_seconds_count{agent_type=\"security\"} 1")
	assert.Contains(t, body, "worker_decision_latency_seconds_sum{agent_type=\"security\"} 0.25")
}

func scrape(t *testing.T, s *metrics.Sink) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return strings.ReplaceAll(rec.Body.String(), "\r\n", "\n")
}
