package cache

import "github.com/lingetic/genmemo/observe"

type options struct {
	name     string
	logger   observe.Logger
	observer observe.Observer
	strict   bool
}

// Option configures a Memo.
type Option func(*options)

// WithName labels the Memo in logs, metrics and spans.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger. It takes precedence over the observer's logger.
func WithLogger(logger observe.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver enables metrics and tracing through obs.
func WithObserver(obs observe.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithStrictWrites makes GetOrCompute return a *WriteError when a computed
// result cannot be persisted. The result is still returned and indexed.
func WithStrictWrites(strict bool) Option {
	return func(o *options) { o.strict = strict }
}
