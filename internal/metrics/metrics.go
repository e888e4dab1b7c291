// Package metrics provides Prometheus collectors for the flywheel scheduler and retry queue.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the namespace for all flywheel metrics.
	Namespace = "flywheel"

	schedulerSubsystem  = "scheduler"
	retryQueueSubsystem = "retry_queue"
	operationSubsystem  = "operation"
)

// Metrics holds all Prometheus metrics for the flywheel service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Scheduler metrics
	TaskRunsTotal       *prometheus.CounterVec
	TaskDurationSeconds *prometheus.HistogramVec
	SkippedRunsTotal    *prometheus.CounterVec
	TasksRunning        *prometheus.GaugeVec

	// Retry queue metrics
	EnqueuedTotal        *prometheus.CounterVec
	FallbackWritesTotal  *prometheus.CounterVec
	FallbackDrainedTotal prometheus.Counter
	AttemptsTotal        *prometheus.CounterVec
	ExhaustedTotal       *prometheus.CounterVec
	CleanedTotal         prometheus.Counter

	// Operation metrics
	OperationsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers all flywheel metrics on reg.
// A nil reg uses the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{gatherer: prometheus.DefaultGatherer}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	m.initSchedulerMetrics(factory)
	m.initRetryQueueMetrics(factory)
	m.initOperationMetrics(factory)

	return m
}

func (m *Metrics) initSchedulerMetrics(factory promauto.Factory) {
	m.TaskRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: schedulerSubsystem,
			Name:      "task_runs_total",
			Help:      "Total number of task runs by outcome",
		},
		[]string{"task", "status"},
	)

	m.TaskDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: schedulerSubsystem,
			Name:      "task_duration_seconds",
			Help:      "Duration of task runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27min
		},
		[]string{"task"},
	)

	m.SkippedRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: schedulerSubsystem,
			Name:      "skipped_runs_total",
			Help:      "Task triggers skipped because the previous run was still executing",
		},
		[]string{"task"},
	)

	m.TasksRunning = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: schedulerSubsystem,
			Name:      "task_running",
			Help:      "1 while the task handler is executing",
		},
		[]string{"task"},
	)
}

func (m *Metrics) initRetryQueueMetrics(factory promauto.Factory) {
	m.EnqueuedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: retryQueueSubsystem,
			Name:      "enqueued_total",
			Help:      "Retry items written to the operation store",
		},
		[]string{"operation"},
	)

	m.FallbackWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: retryQueueSubsystem,
			Name:      "fallback_writes_total",
			Help:      "Retry items written to local disk because the store was unreachable",
		},
		[]string{"operation"},
	)

	m.FallbackDrainedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: retryQueueSubsystem,
			Name:      "fallback_drained_total",
			Help:      "Fallback records re-submitted to the store",
		},
	)

	m.AttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: retryQueueSubsystem,
			Name:      "attempts_total",
			Help:      "Retry attempts by operation and result",
		},
		[]string{"operation", "result"},
	)

	m.ExhaustedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: retryQueueSubsystem,
			Name:      "exhausted_total",
			Help:      "Retry items moved to failed after reaching max retries",
		},
		[]string{"operation"},
	)

	m.CleanedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: retryQueueSubsystem,
			Name:      "cleaned_total",
			Help:      "Terminal retry items deleted by cleanup",
		},
	)
}

func (m *Metrics) initOperationMetrics(factory promauto.Factory) {
	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: operationSubsystem,
			Name:      "results_total",
			Help:      "Task operation results by operation and outcome",
		},
		[]string{"operation", "result"},
	)
}

// Handler returns the HTTP handler exposing the registry these metrics live in.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// TaskStarted marks a task as running.
func (m *Metrics) TaskStarted(task string) {
	if m == nil {
		return
	}
	m.TasksRunning.WithLabelValues(task).Set(1)
}

// TaskFinished records a completed task run.
func (m *Metrics) TaskFinished(task string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TasksRunning.WithLabelValues(task).Set(0)
	m.TaskRunsTotal.WithLabelValues(task, resultLabel(success)).Inc()
	m.TaskDurationSeconds.WithLabelValues(task).Observe(elapsed.Seconds())
}

// TaskSkipped records a trigger dropped by the single-flight guard.
func (m *Metrics) TaskSkipped(task string) {
	if m == nil {
		return
	}
	m.SkippedRunsTotal.WithLabelValues(task).Inc()
}

// Enqueued records a retry item written to the store.
func (m *Metrics) Enqueued(operation string) {
	if m == nil {
		return
	}
	m.EnqueuedTotal.WithLabelValues(operation).Inc()
}

// FallbackWritten records a retry item written to local disk.
func (m *Metrics) FallbackWritten(operation string) {
	if m == nil {
		return
	}
	m.FallbackWritesTotal.WithLabelValues(operation).Inc()
}

// FallbackDrained records fallback records re-submitted to the store.
func (m *Metrics) FallbackDrained(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.FallbackDrainedTotal.Add(float64(count))
}

// Attempt records the result of one retry attempt.
func (m *Metrics) Attempt(operation string, success bool) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(operation, resultLabel(success)).Inc()
}

// Exhausted records a retry item reaching its ceiling.
func (m *Metrics) Exhausted(operation string) {
	if m == nil {
		return
	}
	m.ExhaustedTotal.WithLabelValues(operation).Inc()
}

// Cleaned records terminal items deleted by cleanup.
func (m *Metrics) Cleaned(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.CleanedTotal.Add(float64(count))
}

// OperationResult records the outcome of a task operation.
func (m *Metrics) OperationResult(operation string, success bool) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, resultLabel(success)).Inc()
}
