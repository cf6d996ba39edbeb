// Package metrics defines the Prometheus collectors for task execution,
// event publishing, event consumption and retention sweeps.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "insurance_ai"

// Metrics holds the application collectors.
type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted    *prometheus.CounterVec
	tasksCompleted    *prometheus.CounterVec
	requeueFailures   *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	eventsPublished   *prometheus.CounterVec
	publishFailures   *prometheus.CounterVec
	listenerHandled   *prometheus.CounterVec
	sweeperDeleted    *prometheus.CounterVec
	submissionsDenied *prometheus.CounterVec
}

// New creates collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted for execution.",
		}, []string{"type"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks that reached a terminal status, by type and status.",
		}, []string{"type", "status"}),
		requeueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_requeue_failures_total",
			Help:      "Unfinished tasks that could not be queued again and were revoked.",
		}, []string{"type"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of work function execution.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"type"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events appended to the stream transport.",
		}, []string{"event_type"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Publish attempts that failed to reach the transport.",
		}, []string{"event_type"}),
		listenerHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_messages_total",
			Help:      "Messages processed by the event listener, by outcome.",
		}, []string{"event_type", "outcome"}),
		sweeperDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_deleted_total",
			Help:      "Rows removed by the retention sweeper.",
		}, []string{"table"}),
		submissionsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_rate_limited_total",
			Help:      "Task submissions rejected by the per-institution rate limit.",
		}, []string{"institution_id"}),
	}

	reg.MustRegister(
		m.tasksSubmitted,
		m.tasksCompleted,
		m.requeueFailures,
		m.taskDuration,
		m.eventsPublished,
		m.publishFailures,
		m.listenerHandled,
		m.sweeperDeleted,
		m.submissionsDenied,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// TaskSubmitted counts an accepted submission.
func (m *Metrics) TaskSubmitted(taskType string) {
	if m == nil {
		return
	}
	m.tasksSubmitted.WithLabelValues(taskType).Inc()
}

// TaskCompleted records a terminal status and the execution duration.
func (m *Metrics) TaskCompleted(taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(taskType, status).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// TaskRequeueFailed counts a recovered or stuck task that could not be
// queued again.
func (m *Metrics) TaskRequeueFailed(taskType string) {
	if m == nil {
		return
	}
	m.requeueFailures.WithLabelValues(taskType).Inc()
}

// EventPublished counts a successful append.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// EventPublishFailed counts a failed append.
func (m *Metrics) EventPublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(eventType).Inc()
}

// ListenerHandled counts a processed message. Outcome is one of
// "handled", "skipped", "failed", "unknown" or "malformed".
func (m *Metrics) ListenerHandled(eventType, outcome string) {
	if m == nil {
		return
	}
	m.listenerHandled.WithLabelValues(eventType, outcome).Inc()
}

// SweeperDeleted adds n removed rows for table.
func (m *Metrics) SweeperDeleted(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperDeleted.WithLabelValues(table).Add(float64(n))
}

// SubmissionDenied counts a rate-limited submission.
func (m *Metrics) SubmissionDenied(institutionID string) {
	if m == nil {
		return
	}
	m.submissionsDenied.WithLabelValues(institutionID).Inc()
}
