package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "sous"

// Tracer starts OpenTelemetry spans for runs, model calls, tool executions
// and HTTP requests. A nil *Tracer is usable and starts spans on the global
// provider, which is a no-op unless something installed one.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{Endpoint: "localhost:4317"})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceRun(ctx, runID, conversationID)
//	defer span.End()
type Tracer struct {
	provider    *sdktrace.TracerProvider
	tracer      trace.Tracer
	serviceName string
}

// TraceConfig configures span export.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint string

	// SamplingRate is the fraction of runs recorded. 0 means 1.
	SamplingRate float64

	// EnableInsecure dials the collector without TLS.
	EnableInsecure bool
}

// NewTracer builds a tracer and the function that flushes it on exit. Without
// an endpoint, or when the exporter cannot be built, spans are not exported.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	disabled := &Tracer{tracer: otel.Tracer(config.ServiceName), serviceName: config.ServiceName}
	noop := func(context.Context) error { return nil }
	if config.Endpoint == "" {
		return disabled, noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		slog.Warn("tracing disabled: exporter setup failed", "endpoint", config.Endpoint, "error", err)
		return disabled, noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(serviceResource(config)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(config.SamplingRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider:    provider,
		tracer:      provider.Tracer(config.ServiceName),
		serviceName: config.ServiceName,
	}, provider.Shutdown
}

func serviceResource(config TraceConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return resource.Default()
	}
	return res
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate == 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Start opens a span named name as a child of the span in ctx.
func (t *Tracer) Start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(defaultServiceName)
	if t != nil && t.tracer != nil {
		tracer = t.tracer
	}
	return tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err. A nil err is ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value pairs on span:
//
//	tracer.SetAttributes(span, "round", 2, "tool_calls", 1)
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, keyvals[i+1]))
	}
	span.SetAttributes(attrs...)
}

// TraceRun opens the root span of one orchestrator run.
func (t *Tracer) TraceRun(ctx context.Context, runID, conversationID string) (context.Context, trace.Span) {
	return t.Start(ctx, "orchestrator.run", trace.SpanKindServer,
		attribute.String("run.id", runID),
		attribute.String("conversation.id", conversationID),
	)
}

// TraceModelCall opens a span for one model call. The span is named after
// the call's purpose, such as model.chat or model.title.
func (t *Tracer) TraceModelCall(ctx context.Context, purpose, model string, round int) (context.Context, trace.Span) {
	return t.Start(ctx, "model."+purpose, trace.SpanKindClient,
		attribute.String("llm.purpose", purpose),
		attribute.String("llm.model", model),
		attribute.Int("run.round", round),
	)
}

// TraceToolExecution opens a span for one kitchen tool call.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, "tool."+toolName, trace.SpanKindInternal, attribute.String("tool.name", toolName))
}

// TraceHTTPRequest opens a server span for a gateway request.
func (t *Tracer) TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return t.Start(ctx, method+" "+path, trace.SpanKindServer,
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
}

func toAttribute(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

// TraceID returns the active trace ID in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
