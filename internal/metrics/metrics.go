// Package metrics exports docasync task telemetry to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartikbazzad/bunbase/docasync"
)

const namespace = "docasync"

// Metrics implements docasync.Recorder on its own registry, so several
// clients in one process (or one test binary) never collide.
type Metrics struct {
	registry *prometheus.Registry

	// TasksSubmitted counts tasks by operation.
	TasksSubmitted *prometheus.CounterVec
	// TaskOutcomes counts terminal outcomes by operation and result (ok, error).
	TaskOutcomes *prometheus.CounterVec
	// TaskDuration is the time from submission to outcome.
	TaskDuration *prometheus.HistogramVec
	// BatchEntryFailures counts swallowed per-entry batch failures by action.
	BatchEntryFailures *prometheus.CounterVec
	// PoolPanics counts tasks whose engine call panicked plus raw work items
	// recovered by the worker pool.
	PoolPanics prometheus.Counter
}

// New registers every collector on a fresh registry. pending, when non-nil,
// backs the queue depth gauge (usually workerpool.Pool.Pending).
func New(pending func() int) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		TasksSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of background tasks submitted",
		}, []string{"op"}),
		TaskOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Total number of task outcomes delivered",
		}, []string{"op", "result"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task latency from submission to outcome in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		BatchEntryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_entry_failures_total",
			Help:      "Total number of batch entries that failed and were skipped",
		}, []string{"action"}),
		PoolPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_panics_total",
			Help:      "Total number of tasks and work items that panicked",
		}),
	}

	if pending != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_pending",
			Help:      "Work items waiting for a worker",
		}, func() float64 { return float64(pending()) })
	}
	return m
}

func (m *Metrics) TaskSubmitted(op string) {
	m.TasksSubmitted.WithLabelValues(op).Inc()
}

func (m *Metrics) TaskFinished(op string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, docasync.ErrPanic) {
			m.PoolPanics.Inc()
		}
	}
	m.TaskOutcomes.WithLabelValues(op, result).Inc()
	m.TaskDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) BatchEntryFailed(action string) {
	m.BatchEntryFailures.WithLabelValues(action).Inc()
}

// PoolPanicked matches workerpool.Options.OnPanic.
func (m *Metrics) PoolPanicked(any) {
	m.PoolPanics.Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
