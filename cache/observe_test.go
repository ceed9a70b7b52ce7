package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/lingetic/genmemo/observe"
	"github.com/lingetic/genmemo/store"
)

// testObserver records metrics and spans in memory.
type testObserver struct {
	reader *sdkmetric.ManualReader
	spans  *tracetest.SpanRecorder
	meter  metric.Meter
	tracer trace.Tracer
}

func newTestObserver() *testObserver {
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	return &testObserver{
		reader: reader,
		spans:  spans,
		meter:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"),
		tracer: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("test"),
	}
}

func (o *testObserver) Tracer() trace.Tracer           { return o.tracer }
func (o *testObserver) Meter() metric.Meter            { return o.meter }
func (o *testObserver) Logger() observe.Logger         { return observe.NopLogger() }
func (o *testObserver) Shutdown(context.Context) error { return nil }

func (o *testObserver) counter(t *testing.T, name, attr, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := o.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(attr)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestMemo_EmitsMetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	obs := newTestObserver()
	m, err := Open(ctx, store.Config{Path: filepath.Join(t.TempDir(), "c.jsonl")},
		WithObserver(obs), WithName("explanations"))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	_, _ = m.GetOrCompute(ctx, "a", constant(`1`))
	_, _ = m.GetOrCompute(ctx, "a", constant(`1`))
	_, _ = m.GetOrCompute(ctx, "b", func(context.Context) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})

	if got := obs.counter(t, observe.MetricLookups, "result", "hit"); got != 1 {
		t.Errorf("hit lookups = %d, want 1", got)
	}
	if got := obs.counter(t, observe.MetricLookups, "result", "miss"); got != 2 {
		t.Errorf("miss lookups = %d, want 2", got)
	}
	if got := obs.counter(t, observe.MetricComputes, "outcome", "failure"); got != 1 {
		t.Errorf("failed computes = %d, want 1", got)
	}

	ended := obs.spans.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	for _, s := range ended {
		if s.Name() != observe.SpanCompute {
			t.Errorf("span name = %q", s.Name())
		}
	}
}
