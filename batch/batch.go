// Package batch runs a function over many items with bounded concurrency.
//
// One item's failure never cancels its siblings: every item runs (unless the
// parent context is cancelled) and the Report says which succeeded.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lingetic/genmemo/observe"
)

// DefaultConcurrency bounds in-flight calls when Options.Concurrency is unset.
const DefaultConcurrency = 5

// Options configures Run.
type Options struct {
	// Concurrency is the maximum number of calls in flight.
	// Default: DefaultConcurrency
	Concurrency int

	// Logger receives one warning per failed item.
	Logger observe.Logger
}

// Result is the outcome for one item.
type Result[Out any] struct {
	Index int
	Value Out
	Err   error
}

// Report holds results in input order.
type Report[Out any] struct {
	Results   []Result[Out]
	Succeeded int
	Failed    int
}

// Err joins every item error, or returns nil when all items succeeded.
func (r Report[Out]) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", res.Index, res.Err))
		}
	}
	return errors.Join(errs...)
}

// String summarizes the report.
func (r Report[Out]) String() string {
	return fmt.Sprintf("processed %d of %d items successfully", r.Succeeded, len(r.Results))
}

// Run calls fn for every item, at most opts.Concurrency at a time. Items not
// yet started when ctx is cancelled fail with ctx's error.
func Run[In, Out any](ctx context.Context, items []In, opts Options, fn func(ctx context.Context, i int, item In) (Out, error)) Report[Out] {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = observe.NopLogger()
	}

	results := make([]Result[Out], len(items))

	// Errors stay in results; returning nil keeps siblings running.
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, item := range items {
		results[i].Index = i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			v, err := fn(ctx, i, item)
			if err != nil {
				opts.Logger.Warn(ctx, "batch item failed",
					observe.F("index", i),
					observe.F("error", err),
				)
				results[i].Err = err
				return nil
			}
			results[i].Value = v
			return nil
		})
	}
	_ = g.Wait()

	report := Report[Out]{Results: results}
	for _, r := range results {
		if r.Err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}
	return report
}
