package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(0)
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(DownloadProgress, map[string]any{"id": 1})

	select {
	case msg := <-ch:
		if msg.Event != DownloadProgress {
			t.Fatalf("got event %q, want %q", msg.Event, DownloadProgress)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestStateChangedDebounces(t *testing.T) {
	b := New(30 * time.Millisecond)
	ch, unsub := b.Subscribe(8)
	defer unsub()

	for v := int64(1); v <= 5; v++ {
		b.Publish(StateChanged, v)
	}

	select {
	case msg := <-ch:
		if msg.Payload.(int64) != 5 {
			t.Fatalf("expected coalesced payload 5, got %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced event")
	}

	select {
	case msg := <-ch:
		t.Fatalf("expected exactly one coalesced emission, got extra %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSlowSubscriberIsDroppedNotBlocked(t *testing.T) {
	b := New(0)
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(DownloadProgress, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	<-ch
}
