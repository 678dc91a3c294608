package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	p := New(1, 2)
	defer p.Shutdown()

	var ran atomic.Bool
	done := make(chan struct{})
	err := p.Submit(func(ctx context.Context) {
		ran.Store(true)
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	if !ran.Load() {
		t.Fatal("expected task to have run")
	}
}

func TestLivenessReplacesStaleWorkerThenDegrades(t *testing.T) {
	p := New(1, 1)
	defer p.Shutdown()

	for i := 0; i < 7; i++ {
		p.CheckLiveness(-time.Second) // every worker looks "stale"
	}
	if !p.degraded.Load() {
		t.Fatal("expected pool to enter degraded state after repeated liveness failures")
	}
	if err := p.Submit(func(ctx context.Context) {}); err != ErrDegraded {
		t.Fatalf("expected ErrDegraded, got %v", err)
	}
}
