// Package health reports whether the cache and its backing store are in a
// state where results are being kept.
//
// A Checker reports a Result with a Status: Healthy, Degraded (working, but
// something is being lost, such as results that could not be persisted) or
// Unhealthy. An Aggregator runs several checkers concurrently under one
// deadline and folds their results into a Report.
//
//	agg := health.NewAggregator(5 * time.Second)
//	agg.Register(cache.NewChecker(memo), store.NewChecker(cfg))
//	report := agg.Run(ctx)
//	if report.Status != health.StatusHealthy {
//	    ...
//	}
package health
