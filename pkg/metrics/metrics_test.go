package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStepIncrementsCounterAndHistogram(t *testing.T) {
	m := New()
	m.RecordStep("agent", "completed", 150*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "workflow_engine_step_dispatch_total")
	assert.Contains(t, rec.Body.String(), `kind="agent"`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStep("code", "failed", time.Second)
		m.RecordPhase("analyze", time.Second)
		m.IncParallelInFlight("fanout")
		m.DecParallelInFlight("fanout")
		m.RecordLoopIteration("fix-loop", "retry")
		m.RecordCheckpoint()
		_ = m.Handler()
		_ = m.Registry()
	})
}

func TestParallelInFlightGauge(t *testing.T) {
	m := New()
	m.IncParallelInFlight("fanout")
	m.IncParallelInFlight("fanout")
	m.DecParallelInFlight("fanout")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "workflow_engine_parallel_children_in_flight")
}
