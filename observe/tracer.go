package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// SpanCompute is the span name used around every underlying computation.
const SpanCompute = "genmemo.compute"

// CacheMeta identifies a cache and the fingerprint being worked on.
type CacheMeta struct {
	Name string // cache name, "default" when empty
	Key  string // fingerprint
}

// CacheName returns Name or "default".
func (m CacheMeta) CacheName() string {
	if m.Name == "" {
		return "default"
	}
	return m.Name
}

// Tracer starts and ends spans around computations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta CacheMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta CacheMeta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanCompute,
		trace.WithAttributes(
			attribute.String("cache.name", meta.CacheName()),
			attribute.String("cache.key", meta.Key),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NopTracer returns a Tracer backed by the OpenTelemetry no-op provider.
func NopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}
