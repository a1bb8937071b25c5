// Package metrics exposes the engine's Prometheus surface: step dispatch
// outcomes by kind, phase duration, and the number of parallel children
// currently in flight.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects engine-run counters and histograms. A nil *Metrics is
// valid everywhere its methods are called, so callers never need a
// metrics-enabled check at the call site.
type Metrics struct {
	registry *prometheus.Registry

	stepDispatches *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	phaseDuration  *prometheus.HistogramVec
	parallelInFlight *prometheus.GaugeVec
	loopRetries    *prometheus.CounterVec
	checkpoints    prometheus.Counter
}

// New creates a Metrics instance registered against a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.stepDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "step",
			Name:      "dispatch_total",
			Help:      "Total number of step dispatches by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workflow_engine",
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"kind"},
	)

	m.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workflow_engine",
			Subsystem: "phase",
			Name:      "duration_seconds",
			Help:      "Phase execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16),
		},
		[]string{"phase"},
	)

	m.parallelInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Subsystem: "parallel",
			Name:      "children_in_flight",
			Help:      "Number of parallel step children currently executing",
		},
		[]string{"step"},
	)

	m.loopRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Total number of loop step iterations by outcome",
		},
		[]string{"step", "outcome"},
	)

	m.checkpoints = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workflow_engine",
		Subsystem: "session",
		Name:      "checkpoints_saved_total",
		Help:      "Total number of checkpoints saved",
	})

	m.registry.MustRegister(m.stepDispatches, m.stepDuration, m.phaseDuration,
		m.parallelInFlight, m.loopRetries, m.checkpoints)

	return m
}

// RecordStep records one step dispatch outcome and its duration.
func (m *Metrics) RecordStep(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDispatches.WithLabelValues(kind, outcome).Inc()
	m.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordPhase records one phase's wall-clock duration.
func (m *Metrics) RecordPhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// IncParallelInFlight and DecParallelInFlight track live parallel children
// for a named parallel step.
func (m *Metrics) IncParallelInFlight(step string) {
	if m == nil {
		return
	}
	m.parallelInFlight.WithLabelValues(step).Inc()
}

func (m *Metrics) DecParallelInFlight(step string) {
	if m == nil {
		return
	}
	m.parallelInFlight.WithLabelValues(step).Dec()
}

// RecordLoopIteration records one loop-step iteration outcome
// ("retry", "satisfied", "exhausted").
func (m *Metrics) RecordLoopIteration(step, outcome string) {
	if m == nil {
		return
	}
	m.loopRetries.WithLabelValues(step, outcome).Inc()
}

// RecordCheckpoint increments the checkpoints-saved counter.
func (m *Metrics) RecordCheckpoint() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}

// Handler returns the HTTP handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
