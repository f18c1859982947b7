// Package observability provides the metrics, structured logging and tracing
// used across sous.
//
// # Metrics
//
// Metrics are Prometheus collectors prefixed with "sous_". They track
// orchestrator runs by outcome, model calls by purpose, token consumption,
// tool executions, stream events and HTTP traffic:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RunStarted()
//	defer metrics.RunFinished("completed", modelCalls)
//
// A nil *Metrics records nothing, so components accept it as optional.
//
// # Logging
//
// NewLogger builds a log/slog logger in JSON or text format whose handler
// redacts API keys, bearer tokens and similar secrets from messages and string
// attributes. The returned *slog.LevelVar lets the level change at runtime:
//
//	logger, level := observability.NewLogger(observability.LogConfig{Level: "info"})
//	level.Set(slog.LevelDebug)
//
// Correlation IDs travel in the context (AddRunID, AddUserID, AddToolCallID)
// and are attached with LoggerWithContext.
//
// # Tracing
//
// NewTracer exports OpenTelemetry spans over OTLP/gRPC when an endpoint is
// configured and returns a no-op tracer otherwise. Spans are created for each
// run (orchestrator.run), each model call (model.chat, model.title) and each
// tool execution (tool.<name>).
package observability
