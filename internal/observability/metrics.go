package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var stepDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds the Prometheus instruments for the API and the triage workflow.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrorsTotal     *prometheus.CounterVec

	WorkflowRunsTotal         *prometheus.CounterVec
	WorkflowStepAttemptsTotal *prometheus.CounterVec
	WorkflowStepDuration      *prometheus.HistogramVec
	TriggersPublishedTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_triage_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticket_triage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_triage_http_errors_total",
			Help: "Total number of HTTP requests that ended in an error response.",
		}, []string{"method", "path", "code"}),
		WorkflowRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_triage_workflow_runs_total",
			Help: "Workflow runs by outcome.",
		}, []string{"outcome"}),
		WorkflowStepAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_triage_workflow_step_attempts_total",
			Help: "Workflow step attempts by step and result.",
		}, []string{"step", "result"}),
		WorkflowStepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticket_triage_workflow_step_duration_seconds",
			Help:    "Duration of a single workflow step attempt.",
			Buckets: stepDurationBuckets,
		}, []string{"step"}),
		TriggersPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_triage_triggers_published_total",
			Help: "ticket/created triggers handed to the queue, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPErrorsTotal,
		m.WorkflowRunsTotal,
		m.WorkflowStepAttemptsTotal,
		m.WorkflowStepDuration,
		m.TriggersPublishedTotal,
	)
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.HTTPErrorsTotal.WithLabelValues(method, path, code).Inc()
}

// RecordRun counts a finished workflow run.
func (m *Metrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.WorkflowRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordStep counts one step attempt and its duration.
func (m *Metrics) RecordStep(step, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowStepAttemptsTotal.WithLabelValues(step, result).Inc()
	m.WorkflowStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordPublish counts a trigger publication.
func (m *Metrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.TriggersPublishedTotal.WithLabelValues(result).Inc()
}
