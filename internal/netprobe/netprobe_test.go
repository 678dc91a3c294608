package netprobe

import "testing"

func TestInitialChunkTargetScalesWithSpeed(t *testing.T) {
	if got := InitialChunkTarget(600, 3, 12); got != 12 {
		t.Fatalf("expected cap for fast link, got %d", got)
	}
	if got := InitialChunkTarget(10, 3, 12); got != 3 {
		t.Fatalf("expected floor for slow link, got %d", got)
	}
	if got := InitialChunkTarget(100, 3, 12); got != 5 {
		t.Fatalf("expected floor+2 for mid-tier link, got %d", got)
	}
}
