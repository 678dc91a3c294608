package scheduler

import (
	"testing"
	"time"

	"romvault-engine/internal/breaker"
)

func TestSelectRespectsGlobalCap(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{ID: 1, Host: "a", Priority: 2, QueuedAt: now, Inserted: 0},
		{ID: 2, Host: "b", Priority: 2, QueuedAt: now, Inserted: 1},
		{ID: 3, Host: "c", Priority: 2, QueuedAt: now, Inserted: 2},
	}
	plan := Select(candidates, now, 2, 5, map[string]int{}, nil)
	if len(plan.ToStart) != 2 {
		t.Fatalf("expected 2 ids selected under global cap, got %d", len(plan.ToStart))
	}
}

func TestSelectPrefersHigherPriorityThenAge(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{ID: 1, Host: "a", Priority: 1, QueuedAt: now, Inserted: 0},
		{ID: 2, Host: "b", Priority: 3, QueuedAt: now, Inserted: 1},
	}
	plan := Select(candidates, now, 1, 5, map[string]int{}, nil)
	if len(plan.ToStart) != 1 || plan.ToStart[0] != 2 {
		t.Fatalf("expected high-priority id 2 selected first, got %v", plan.ToStart)
	}
}

func TestSelectAgingPromotesStarvedItem(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{ID: 1, Host: "a", Priority: 1, QueuedAt: now.Add(-1 * time.Hour), Inserted: 0},
		{ID: 2, Host: "b", Priority: 1, QueuedAt: now, Inserted: 1},
	}
	plan := Select(candidates, now, 1, 5, map[string]int{}, nil)
	if len(plan.ToStart) != 1 || plan.ToStart[0] != 1 {
		t.Fatalf("expected aged item 1 to win, got %v", plan.ToStart)
	}
}

func TestSelectSkipsOpenBreakerHost(t *testing.T) {
	now := time.Now()
	reg := breaker.NewRegistry(breaker.ModePerHost)
	reg.For("broken.example").Execute(func() error { return assertErr{} })
	for i := 0; i < 10; i++ {
		reg.For("broken.example").Execute(func() error { return assertErr{} })
	}

	candidates := []Candidate{
		{ID: 1, Host: "broken.example", Priority: 3, QueuedAt: now, Inserted: 0},
		{ID: 2, Host: "ok.example", Priority: 1, QueuedAt: now, Inserted: 1},
	}
	plan := Select(candidates, now, 5, 5, map[string]int{}, reg)
	if len(plan.ToStart) != 1 || plan.ToStart[0] != 2 {
		t.Fatalf("expected only id 2 (healthy host) selected, got %v", plan.ToStart)
	}
}

func TestSelectRespectsPerHostCap(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{ID: 1, Host: "a", Priority: 1, QueuedAt: now, Inserted: 0},
		{ID: 2, Host: "a", Priority: 1, QueuedAt: now, Inserted: 1},
	}
	plan := Select(candidates, now, 5, 1, map[string]int{"a": 1}, nil)
	if len(plan.ToStart) != 0 {
		t.Fatalf("expected no ids selected once per-host cap reached, got %v", plan.ToStart)
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
