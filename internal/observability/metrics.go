package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Orchestrator runs by outcome and the number of tool rounds they used
//   - Model calls by purpose with latency and token consumption
//   - Tool execution patterns and latencies
//   - Stream events delivered to clients
//   - HTTP API traffic and retention sweeps
//
// All methods are safe to call on a nil *Metrics, which records nothing.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordToolExecution("get_pantry_items", "success", time.Since(start).Seconds())
type Metrics struct {
	// RunsTotal counts orchestrator runs.
	// Labels: outcome (completed|round_cap|cancelled|error)
	RunsTotal *prometheus.CounterVec

	// ActiveRuns is the number of runs currently streaming.
	ActiveRuns prometheus.Gauge

	// RoundsPerRun observes how many model calls a run made.
	// Buckets: 1..6
	RoundsPerRun prometheus.Histogram

	// ModelCallCounter counts model calls.
	// Labels: purpose (chat|title), status (success|error), stop_reason
	ModelCallCounter *prometheus.CounterVec

	// ModelCallDuration measures model call latency in seconds.
	// Labels: purpose
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	ModelCallDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption.
	// Labels: direction (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	ToolExecutionDuration *prometheus.HistogramVec

	// EventsEmitted counts stream events by type.
	// Labels: type
	EventsEmitted *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (orchestrator|provider|store|usage|title), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// RetentionDeleted counts conversations removed by the retention sweeper.
	RetentionDeleted prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the Prometheus default registry, which the /metrics handler serves.
// Registering twice on the same registry panics, so call this once per process
// (tests pass a fresh prometheus.NewRegistry()).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sous_runs_total",
				Help: "Total number of orchestrator runs by outcome",
			},
			[]string{"outcome"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sous_active_runs",
				Help: "Number of orchestrator runs currently streaming",
			},
		),

		RoundsPerRun: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sous_run_model_calls",
				Help:    "Number of model calls made per run",
				Buckets: []float64{1, 2, 3, 4, 5, 6},
			},
		),

		ModelCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sous_model_calls_total",
				Help: "Total number of model calls by purpose, status and stop reason",
			},
			[]string{"purpose", "status", "stop_reason"},
		),

		ModelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sous_model_call_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"purpose"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sous_model_tokens_total",
				Help: "Total number of model tokens by direction",
			},
			[]string{"direction"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sous_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sous_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"tool_name"},
		),

		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sous_stream_events_total",
				Help: "Total number of stream events emitted by type",
			},
			[]string{"type"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sous_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sous_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sous_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		RetentionDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sous_retention_deleted_conversations_total",
				Help: "Total number of conversations deleted by retention sweeps",
			},
		),
	}
}

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished decrements the active runs gauge and records the outcome and
// number of model calls.
//
// Example:
//
//	metrics.RunFinished("completed", 2)
func (m *Metrics) RunFinished(outcome string, modelCalls int) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(outcome).Inc()
	if modelCalls > 0 {
		m.RoundsPerRun.Observe(float64(modelCalls))
	}
}

// RecordModelCall records metrics for a model call.
//
// Example:
//
//	start := time.Now()
//	// ... stream from the model ...
//	metrics.RecordModelCall("chat", "success", "tool_use", time.Since(start).Seconds(), 1200, 85)
func (m *Metrics) RecordModelCall(purpose, status, stopReason string, durationSeconds float64, inputTokens, outputTokens int64) {
	if m == nil {
		return
	}
	m.ModelCallCounter.WithLabelValues(purpose, status, stopReason).Inc()
	m.ModelCallDuration.WithLabelValues(purpose).Observe(durationSeconds)
	if inputTokens > 0 {
		m.TokensUsed.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensUsed.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordEvent counts one emitted stream event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("provider", "rate_limit")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordRetentionSweep adds the number of conversations a sweep removed.
func (m *Metrics) RecordRetentionSweep(deleted int64) {
	if m == nil || deleted <= 0 {
		return
	}
	m.RetentionDeleted.Add(float64(deleted))
}
