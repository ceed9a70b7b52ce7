// Package cache memoizes expensive computations keyed by a fingerprint.
//
// A Memo sits in front of a costly call, typically a generative model request,
// and guarantees that for any fingerprint the call runs at most once to
// success across all goroutines of the process and across restarts. Results
// are kept in an in-memory index and persisted to a store.Store so a later run
// resumes where the previous one stopped.
//
// Concurrent callers asking for the same missing fingerprint queue on a
// per-fingerprint gate: one of them computes, the others observe its result.
// Callers for different fingerprints never wait on each other's computations.
// Failures are never cached; callers already waiting on a failed computation
// receive that same failure, and later callers start a new one.
package cache
