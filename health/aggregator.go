package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds an Aggregator run when no timeout is given.
const DefaultTimeout = 10 * time.Second

// NamedResult is a Result tagged with its checker's name.
type NamedResult struct {
	Name string `json:"name"`
	Result
}

// Report is the outcome of running every registered checker.
type Report struct {
	Status  Status        `json:"status"`
	Results []NamedResult `json:"results"`
}

// Aggregator runs checkers concurrently and combines their results.
type Aggregator struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

// NewAggregator creates an aggregator. A non-positive timeout selects
// DefaultTimeout.
func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{timeout: timeout}
}

// Register adds checkers. A checker whose name is already registered replaces
// the earlier one in place.
func (a *Aggregator) Register(checkers ...Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
outer:
	for _, c := range checkers {
		for i, existing := range a.checkers {
			if existing.Name() == c.Name() {
				a.checkers[i] = c
				continue outer
			}
		}
		a.checkers = append(a.checkers, c)
	}
}

// Names returns the registered checker names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.checkers))
	for i, c := range a.checkers {
		names[i] = c.Name()
	}
	return names
}

// Run executes every checker and returns results in registration order. The
// overall status is the worst individual status; no checkers means healthy.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([]NamedResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Go(func() {
			results[i] = NamedResult{Name: c.Name(), Result: run(ctx, c)}
		})
	}
	wg.Wait()

	report := Report{Status: StatusHealthy, Results: results}
	for _, r := range results {
		report.Status = report.Status.Worse(r.Status)
	}
	return report
}

// run executes one checker, turning a missed deadline or a panic into an
// unhealthy result.
func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	resultCh := make(chan Result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- Unhealthy(fmt.Sprintf("check panicked: %v", p), ErrCheckPanicked)
			}
		}()
		resultCh <- c.Check(ctx)
	}()

	var result Result
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		result = Unhealthy("check timed out", ErrCheckTimeout)
	}
	result.Duration = time.Since(start)
	if result.Timestamp.IsZero() {
		result.Timestamp = start
	}
	return result
}

// Checker exposes the aggregator as a single checker named "aggregate".
func (a *Aggregator) Checker() Checker {
	return NewCheckerFunc("aggregate", func(ctx context.Context) Result {
		report := a.Run(ctx)
		details := make(map[string]any, len(report.Results))
		for _, r := range report.Results {
			details[r.Name] = r.Status.String()
		}

		var message string
		switch report.Status {
		case StatusHealthy:
			message = "all checks passed"
		case StatusDegraded:
			message = "some checks degraded"
		default:
			message = "some checks failed"
		}
		return Result{Status: report.Status, Message: message, Details: details, Timestamp: time.Now()}
	})
}
