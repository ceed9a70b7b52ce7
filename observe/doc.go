// Package observe provides the logging, metrics and tracing used around cache
// lookups and the computations they guard.
//
// It is an instrumentation library only: it never runs computations itself.
// The cache package wires an Observer in through its options; commands build
// one from configuration with NewObserver.
package observe
