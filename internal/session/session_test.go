package session

import (
	"context"
	"testing"
)

func TestStartIssuesDistinctTokens(t *testing.T) {
	m := NewManager()
	_, tok1 := m.Start(context.Background(), 1)
	_, tok2 := m.Start(context.Background(), 1)

	if tok1 == tok2 {
		t.Fatal("expected distinct tokens across Start calls")
	}
	if m.IsCurrent(1, tok1) {
		t.Fatal("stale token should no longer be current")
	}
	if !m.IsCurrent(1, tok2) {
		t.Fatal("latest token should be current")
	}
}

func TestStartCancelsPreviousRun(t *testing.T) {
	m := NewManager()
	ctx1, _ := m.Start(context.Background(), 1)
	_, _ = m.Start(context.Background(), 1)

	select {
	case <-ctx1.Done():
	default:
		t.Fatal("starting a new run should cancel the previous run's context")
	}
}

func TestInvalidateClearsCurrentToken(t *testing.T) {
	m := NewManager()
	ctx, tok := m.Start(context.Background(), 7)
	m.Invalidate(7)

	if m.IsCurrent(7, tok) {
		t.Fatal("token should not be current after Invalidate")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("context should be cancelled after Invalidate")
	}
}
