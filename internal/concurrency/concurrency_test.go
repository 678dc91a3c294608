package concurrency

import (
	"context"
	"testing"
	"time"
)

func TestGlobalSlotsBound(t *testing.T) {
	c := NewController(1)
	ctx := context.Background()
	if err := c.AcquireGlobal(ctx); err != nil {
		t.Fatal(err)
	}
	if c.TryAcquireGlobal() {
		t.Fatal("expected second acquire to fail with only 1 global slot")
	}
	c.ReleaseGlobal()
	if !c.TryAcquireGlobal() {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestResizeRaisesAndLowersWithinBounds(t *testing.T) {
	c := NewController(3)
	c.InitChunks(1, 3, 1, 6)

	target := c.Resize(1, true)
	if target != 4 {
		t.Fatalf("expected target 4 after healthy resize, got %d", target)
	}
	for i := 0; i < 10; i++ {
		target = c.Resize(1, false)
	}
	if target != 1 {
		t.Fatalf("expected target to floor at 1, got %d", target)
	}
}

func TestMonitorDetectsStall(t *testing.T) {
	c := NewController(3)
	c.InitChunks(1, 4, 1, 8)
	m := NewMonitor(c, 10*time.Millisecond, time.Millisecond, 1000)

	m.RecordChunkProgress(1, 0, 10)
	time.Sleep(5 * time.Millisecond)
	m.RecordChunkProgress(1, 0, 10) // no progress -> should be flagged stalled

	target := m.Tick(1)
	if target != 3 {
		t.Fatalf("expected stall to lower target to 3, got %d", target)
	}
}
