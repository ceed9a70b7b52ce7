package cache

import (
	"context"
	"fmt"

	"github.com/lingetic/genmemo/health"
)

// Checker reports the health of a Memo.
//
// It is healthy while every computed result has been persisted and degraded
// once a write has failed, since those results will not survive a restart.
type Checker struct {
	memo *Memo
}

// NewChecker returns a health checker for m.
func NewChecker(m *Memo) *Checker {
	return &Checker{memo: m}
}

// Name returns the checker name.
func (c *Checker) Name() string {
	return "cache:" + c.memo.meta("").CacheName()
}

// Check inspects the Memo's counters.
func (c *Checker) Check(_ context.Context) health.Result {
	if c.memo.closed.Load() {
		return health.Unhealthy("cache is closed", ErrClosed)
	}
	s := c.memo.Stats()
	details := map[string]any{
		"entries":        s.Entries,
		"hits":           s.Hits,
		"misses":         s.Misses,
		"failures":       s.Failures,
		"write_failures": s.WriteFailures,
		"pending":        s.Pending,
	}
	if s.WriteFailures > 0 {
		return health.Degraded(fmt.Sprintf("%d results were not persisted", s.WriteFailures)).WithDetails(details)
	}
	return health.Healthy(fmt.Sprintf("%d entries", s.Entries)).WithDetails(details)
}

var _ health.Checker = (*Checker)(nil)
