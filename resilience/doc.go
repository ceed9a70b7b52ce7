// Package resilience paces and retries calls to flaky remote services.
//
// It is used by the generation client, never by the cache: a cache computation
// either succeeds or fails, and whatever retrying happens inside it is the
// collaborator's business.
//
// # Patterns
//
//   - Retry: re-runs failed operations with exponential, linear or constant
//     backoff plus jitter. RetryIf decides which errors are worth retrying;
//     IsTemporary is a ready-made predicate for errors that say so.
//
//   - Rate Limiter: a token bucket (golang.org/x/time/rate) that either
//     rejects or waits when requests arrive too fast. PerMinute builds one
//     from a quota expressed the way most model APIs publish it.
//
// # Usage
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts:  5,
//	        InitialDelay: 5 * time.Second,
//	        Jitter:       true,
//	        RetryIf:      resilience.IsTemporary,
//	    })),
//	    resilience.WithRateLimiter(resilience.PerMinute(60)),
//	)
//
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return callModel(ctx)
//	})
package resilience
