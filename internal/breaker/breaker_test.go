package breaker

import (
	"errors"
	"testing"
	"time"

	"romvault-engine/internal/apperr"
)

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute, ResetTimeout: time.Hour})
	failing := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return failing })
	}
	if b.State() != Open {
		t.Fatalf("expected OPEN after 3 failures, got %s", b.State())
	}

	err := b.Execute(func() error { t.Fatal("f should not be invoked while OPEN"); return nil })
	if !errors.Is(err, apperr.ErrCircuitOpen) {
		t.Fatalf("expected ERR_CIRCUIT_OPEN, got %v", err)
	}
}

func TestHalfOpenClosesAfterSuccesses(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Minute, ResetTimeout: 10 * time.Millisecond})
	_ = b.Execute(func() error { return errors.New("boom") })
	if b.State() != Open {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to be admitted, got %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HALF_OPEN after one success, got %s", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected second probe to be admitted, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected CLOSED after two successes, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Minute, ResetTimeout: 5 * time.Millisecond})
	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(10 * time.Millisecond)

	_ = b.Execute(func() error { return errors.New("still broken") })
	if b.State() != Open {
		t.Fatalf("expected re-OPEN after half-open failure, got %s", b.State())
	}
}

func TestRegistryPerHostIsolatesBreakers(t *testing.T) {
	r := NewRegistry(ModePerHost)
	r.For("a.example").cfg.FailureThreshold = 1
	_ = r.Execute("a.example", func() error { return errors.New("boom") })

	if r.For("a.example").State() != Open {
		t.Fatal("host a should be OPEN")
	}
	if r.For("b.example").State() != Closed {
		t.Fatal("host b should be unaffected")
	}
}
