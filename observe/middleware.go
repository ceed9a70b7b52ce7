package observe

import (
	"context"
	"time"
)

// ComputeFunc is the signature of a guarded computation.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Middleware wraps computations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a ComputeFunc safe for concurrent use.
//   - Context: the span context is passed to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// MiddlewareFromObserver builds a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Metrics returns the metrics recorder used by the middleware.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the logger used by the middleware.
func (m *Middleware) Logger() Logger { return m.logger }

// Wrap instruments fn for the fingerprint in meta.
func (m *Middleware) Wrap(meta CacheMeta, fn ComputeFunc) ComputeFunc {
	return func(ctx context.Context) ([]byte, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		// End the span even if fn panics; the panic keeps unwinding.
		var (
			result []byte
			err    = errPanicked
		)
		defer func() {
			duration := time.Since(start)
			m.tracer.EndSpan(span, err)
			m.metrics.RecordCompute(ctx, meta, duration, err)

			fields := []Field{
				F("cache", meta.CacheName()),
				F("key", meta.Key),
				F("duration_ms", duration.Milliseconds()),
			}
			if err != nil {
				m.logger.Error(ctx, "computation failed", append(fields, F("error", err))...)
				return
			}
			m.logger.Debug(ctx, "computation completed", fields...)
		}()

		result, err = fn(ctx)
		return result, err
	}
}
