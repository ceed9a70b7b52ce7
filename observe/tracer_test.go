package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (Tracer, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewTracer(tp.Tracer("test")), sr
}

func TestCacheMeta_CacheName(t *testing.T) {
	if got := (CacheMeta{}).CacheName(); got != "default" {
		t.Errorf("empty name = %q, want default", got)
	}
	if got := (CacheMeta{Name: "courses"}).CacheName(); got != "courses" {
		t.Errorf("name = %q, want courses", got)
	}
}

func TestTracer_SpanAttributes(t *testing.T) {
	tracer, sr := newRecordingTracer()

	_, span := tracer.StartSpan(context.Background(), CacheMeta{Name: "explanations", Key: "explain-bonjour"})
	tracer.EndSpan(span, nil)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != SpanCompute {
		t.Errorf("span name = %q", s.Name())
	}
	attrs := map[string]string{}
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["cache.name"] != "explanations" || attrs["cache.key"] != "explain-bonjour" {
		t.Errorf("unexpected attributes: %v", attrs)
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status().Code)
	}
}

func TestTracer_ErrorRecording(t *testing.T) {
	tracer, sr := newRecordingTracer()

	_, span := tracer.StartSpan(context.Background(), CacheMeta{Key: "k"})
	tracer.EndSpan(span, errors.New("resource exhausted"))

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	if s.Status().Description != "resource exhausted" {
		t.Errorf("description = %q", s.Status().Description)
	}
	if len(s.Events()) == 0 {
		t.Error("expected an exception event")
	}
}

func TestNopTracer_NoPanic(t *testing.T) {
	tracer := NopTracer()
	_, span := tracer.StartSpan(context.Background(), CacheMeta{Key: "k"})
	tracer.EndSpan(span, errors.New("x"))
}
