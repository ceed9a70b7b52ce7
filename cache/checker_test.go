package cache

import (
	"context"
	"testing"

	"github.com/lingetic/genmemo/health"
)

func TestChecker(t *testing.T) {
	ctx := context.Background()

	m, _ := newTestMemo(t, WithName("explanations"))
	c := NewChecker(m)
	if c.Name() != "cache:explanations" {
		t.Errorf("Name() = %q", c.Name())
	}
	if _, err := m.GetOrCompute(ctx, "k", constant(`1`)); err != nil {
		t.Fatal(err)
	}
	r := c.Check(ctx)
	if r.Status != health.StatusHealthy {
		t.Errorf("Status = %v, want healthy", r.Status)
	}
	if r.Details["entries"] != 1 {
		t.Errorf("Details[entries] = %v, want 1", r.Details["entries"])
	}

	_ = m.Close()
	if r := c.Check(ctx); r.Status != health.StatusUnhealthy {
		t.Errorf("Status after Close = %v, want unhealthy", r.Status)
	}
}

func TestChecker_DegradedAfterWriteFailure(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, &failingStore{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetOrCompute(ctx, "k", constant(`1`)); err != nil {
		t.Fatal(err)
	}

	r := NewChecker(m).Check(ctx)
	if r.Status != health.StatusDegraded {
		t.Errorf("Status = %v, want degraded", r.Status)
	}
}

func TestChecker_InAggregator(t *testing.T) {
	m, _ := newTestMemo(t)
	agg := health.NewAggregator(0)
	agg.Register(NewChecker(m))

	report := agg.Run(context.Background())
	if report.Status != health.StatusHealthy {
		t.Errorf("overall = %v, want healthy", report.Status)
	}
	if report.Results[0].Name != "cache:default" {
		t.Errorf("name = %q", report.Results[0].Name)
	}
}
