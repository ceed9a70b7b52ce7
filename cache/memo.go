package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/lingetic/genmemo/observe"
	"github.com/lingetic/genmemo/store"
)

// Stats is a point-in-time snapshot of Memo activity.
type Stats struct {
	Entries        int   // resolved fingerprints in the index
	Hits           int64 // lookups answered from the index
	Misses         int64 // lookups that led to a computation
	Computes       int64 // computations started
	Failures       int64 // computations that failed or panicked
	SharedFailures int64 // callers handed another caller's failure
	WriteFailures  int64 // results that could not be persisted
	Pending        int   // fingerprints with callers in flight
}

// Memo is a durable, deduplicating memoization cache.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - At most once: for a fingerprint, a successful computation runs at most
//     once for the lifetime of the backing store.
//   - Context: GetOrCompute honours cancellation while waiting for another
//     caller's computation. The ComputeFunc receives the caller's context.
type Memo struct {
	name   string
	store  store.Store
	logger observe.Logger
	mw     *observe.Middleware
	strict bool

	index    *index
	registry *registry

	hits           atomic.Int64
	misses         atomic.Int64
	computes       atomic.Int64
	failures       atomic.Int64
	sharedFailures atomic.Int64
	writeFailures  atomic.Int64
	closed         atomic.Bool
}

// New loads st once and returns a Memo backed by it. The Memo owns st and
// closes it on Close. A corrupt store is reported as an error matching
// store.ErrCorrupt.
func New(ctx context.Context, st store.Store, opts ...Option) (*Memo, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tracer := observe.NopTracer()
	metrics := observe.NopMetrics()
	if o.observer != nil {
		m, err := observe.NewMetrics(o.observer.Meter())
		if err != nil {
			return nil, fmt.Errorf("cache: create metrics: %w", err)
		}
		metrics = m
		tracer = observe.NewTracer(o.observer.Tracer())
		if o.logger == nil {
			o.logger = o.observer.Logger()
		}
	}
	if o.logger == nil {
		o.logger = observe.NopLogger()
	}

	entries, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: load store: %w", err)
	}

	m := &Memo{
		name:     o.name,
		store:    st,
		logger:   o.logger,
		mw:       observe.NewMiddleware(tracer, metrics, o.logger),
		strict:   o.strict,
		index:    newIndex(entries),
		registry: newRegistry(),
	}
	m.logger.Debug(ctx, "cache loaded",
		observe.F("cache", m.meta("").CacheName()),
		observe.F("entries", len(entries)),
	)
	return m, nil
}

// Open opens the store described by cfg and returns a Memo backed by it.
func Open(ctx context.Context, cfg store.Config, opts ...Option) (*Memo, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Logger == nil {
		cfg.Logger = o.logger
		if cfg.Logger == nil && o.observer != nil {
			cfg.Logger = o.observer.Logger()
		}
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: open store: %w", err)
	}
	m, err := New(ctx, st, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return m, nil
}

func (m *Memo) meta(key string) observe.CacheMeta {
	return observe.CacheMeta{Name: m.name, Key: key}
}

// GetOrCompute returns the result for key, computing and persisting it if no
// result exists yet. Concurrent callers for the same key wait for a single
// computation. Failures are returned as *ComputeError and are never cached.
func (m *Memo) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (json.RawMessage, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if err := ValidateKey(key); err != nil {
		return nil, fmt.Errorf("%w: %q", err, key)
	}
	if compute == nil {
		return nil, ErrNilCompute
	}
	meta := m.meta(key)

	if v, ok := m.index.get(key); ok {
		m.recordHit(ctx, meta)
		return v, nil
	}

	g, joined := m.registry.join(key)
	defer m.registry.leave(key, g)

	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()

	// Another caller may have resolved key while we waited.
	if v, ok := m.index.get(key); ok {
		m.recordHit(ctx, meta)
		return v, nil
	}
	if failure := m.registry.sharedFailure(g, joined); failure != nil {
		m.sharedFailures.Add(1)
		return nil, &ComputeError{Key: key, Err: failure, Shared: true}
	}

	m.misses.Add(1)
	m.mw.Metrics().RecordLookup(ctx, meta, false)
	return m.compute(ctx, meta, g, compute)
}

// compute runs one flight while holding g.
func (m *Memo) compute(ctx context.Context, meta observe.CacheMeta, g *gate, compute ComputeFunc) (json.RawMessage, error) {
	m.computes.Add(1)

	settled := false
	defer func() {
		if !settled {
			m.failures.Add(1)
			m.registry.settle(g, ErrComputePanicked)
		}
	}()

	run := m.mw.Wrap(meta, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err == nil && !json.Valid(v) {
			err = ErrInvalidResult
		}
		return v, err
	})
	raw, err := run(ctx)
	if err != nil {
		m.failures.Add(1)
		shared := err
		if ctx.Err() != nil {
			// The caller gave up; others should try for themselves.
			shared = nil
		}
		m.registry.settle(g, shared)
		settled = true
		return nil, &ComputeError{Key: meta.Key, Err: err}
	}

	// Stores keep compact JSON, so hits before and after a restart match.
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		m.failures.Add(1)
		m.registry.settle(g, nil)
		settled = true
		return nil, &ComputeError{Key: meta.Key, Err: err}
	}
	value := json.RawMessage(buf.Bytes())
	werr := m.persist(ctx, meta, value)
	m.index.put(meta.Key, value)
	m.registry.settle(g, nil)
	settled = true

	if werr != nil && m.strict {
		return slices.Clone(value), &WriteError{Key: meta.Key, Err: werr}
	}
	return slices.Clone(value), nil
}

// persist appends the entry to the store. A failed write is logged and
// counted; the value stays usable for this process.
func (m *Memo) persist(ctx context.Context, meta observe.CacheMeta, value json.RawMessage) error {
	// Cancellation after a successful compute must not lose the result.
	err := m.store.Append(context.WithoutCancel(ctx), meta.Key, value)
	if err == nil {
		return nil
	}
	m.writeFailures.Add(1)
	m.mw.Metrics().RecordWriteFailure(ctx, meta)
	m.logger.Warn(ctx, "failed to persist cache entry",
		observe.F("cache", meta.CacheName()),
		observe.F("key", meta.Key),
		observe.F("error", err),
	)
	return err
}

func (m *Memo) recordHit(ctx context.Context, meta observe.CacheMeta) {
	m.hits.Add(1)
	m.mw.Metrics().RecordLookup(ctx, meta, true)
}

// Get returns the result for key if it has been resolved. It never computes.
func (m *Memo) Get(key string) (json.RawMessage, bool) {
	return m.index.get(key)
}

// Len returns the number of resolved fingerprints.
func (m *Memo) Len() int { return m.index.len() }

// Keys returns the resolved fingerprints in sorted order.
func (m *Memo) Keys() []string { return m.index.keys() }

// Stats returns a snapshot of the Memo's counters.
func (m *Memo) Stats() Stats {
	return Stats{
		Entries:        m.index.len(),
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		Computes:       m.computes.Load(),
		Failures:       m.failures.Load(),
		SharedFailures: m.sharedFailures.Load(),
		WriteFailures:  m.writeFailures.Load(),
		Pending:        m.registry.len(),
	}
}

// Close closes the backing store. Further GetOrCompute calls return ErrClosed.
func (m *Memo) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.store.Close()
}
