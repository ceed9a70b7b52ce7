package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Do is GetOrCompute for typed results. The value is stored as JSON and
// decoded on every return, so hits and misses yield identical values.
//
// When strict writes are enabled and persisting fails, Do returns the decoded
// value together with the *WriteError.
func Do[T any](ctx context.Context, m *Memo, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := m.GetOrCompute(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if raw == nil {
		return zero, err
	}

	var out T
	if derr := json.Unmarshal(raw, &out); derr != nil {
		return zero, fmt.Errorf("cache: decode %q: %w", key, derr)
	}
	return out, err
}

// Wrap memoizes fn. Each input is fingerprinted with keyer under namespace;
// a nil keyer uses DefaultKeyer.
func Wrap[In, Out any](m *Memo, namespace string, keyer Keyer, fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return func(ctx context.Context, in In) (Out, error) {
		key, err := keyer.Key(namespace, in)
		if err != nil {
			var zero Out
			return zero, err
		}
		return Do(ctx, m, key, func(ctx context.Context) (Out, error) {
			return fn(ctx, in)
		})
	}
}
