package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricLookups         = "genmemo.cache.lookups"
	MetricComputes        = "genmemo.cache.computes"
	MetricComputeDuration = "genmemo.cache.compute.duration_ms"
	MetricWriteFailures   = "genmemo.cache.write_failures"
)

// Metrics records cache activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records a fast-path index lookup.
	RecordLookup(ctx context.Context, meta CacheMeta, hit bool)

	// RecordCompute records one underlying computation and its outcome.
	RecordCompute(ctx context.Context, meta CacheMeta, duration time.Duration, err error)

	// RecordWriteFailure records a result that could not be persisted.
	RecordWriteFailure(ctx context.Context, meta CacheMeta)
}

type metricsImpl struct {
	lookups       metric.Int64Counter
	computes      metric.Int64Counter
	duration      metric.Float64Histogram
	writeFailures metric.Int64Counter
}

// NewMetrics creates the cache instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	lookups, err := meter.Int64Counter(MetricLookups,
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	computes, err := meter.Int64Counter(MetricComputes,
		metric.WithDescription("Underlying computations by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(MetricComputeDuration,
		metric.WithDescription("Underlying computation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	writeFailures, err := meter.Int64Counter(MetricWriteFailures,
		metric.WithDescription("Computed results that could not be persisted"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		lookups:       lookups,
		computes:      computes,
		duration:      duration,
		writeFailures: writeFailures,
	}, nil
}

func (m *metricsImpl) RecordLookup(ctx context.Context, meta CacheMeta, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.name", meta.CacheName()),
		attribute.String("result", result),
	))
}

func (m *metricsImpl) RecordCompute(ctx context.Context, meta CacheMeta, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	opt := metric.WithAttributes(
		attribute.String("cache.name", meta.CacheName()),
		attribute.String("outcome", outcome),
	)
	m.computes.Add(ctx, 1, opt)
	m.duration.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordWriteFailure(ctx context.Context, meta CacheMeta) {
	m.writeFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.name", meta.CacheName()),
	))
}

type nopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) RecordLookup(context.Context, CacheMeta, bool)                   {}
func (nopMetrics) RecordCompute(context.Context, CacheMeta, time.Duration, error) {}
func (nopMetrics) RecordWriteFailure(context.Context, CacheMeta)                  {}
