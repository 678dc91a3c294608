// Package eventbus is the typed, in-process pub/sub fan-out to the UI
// boundary described in spec §4.2, grounded on the teacher's FanoutHandler
// pattern (internal/logger/logger.go) generalized from log records to
// arbitrary engine events.
package eventbus

import (
	"sync"
	"time"
)

// Event names (contractual, per spec §4.2 and §6).
const (
	StateChanged        = "state-changed"
	DownloadProgress    = "download-progress"
	DownloadCompleted   = "download-completed"
	DownloadFailed      = "download-failed"
	ChunkCompleted      = "chunk-completed"
	ChunkFailed         = "chunk-failed"
	MergeStarted        = "merge-started"
	VerificationStarted = "verification-started"
	NeedsConfirmation   = "needs-confirmation"
	LogEntry            = "log:entry"
)

// Message is one published event.
type Message struct {
	Event   string
	Payload any
}

type subscriber struct {
	ch     chan Message
	closed bool
}

// Bus is a process-wide singleton owned by one engine instance (per the
// design notes' "process-wide singletons -> owned by the engine instance").
// Publish never blocks: slow subscribers are dropped, per §5's
// back-pressure rule.
type Bus struct {
	mu          sync.Mutex
	subs        map[int]*subscriber
	nextID      int
	debounce    time.Duration
	debounceMu  sync.Mutex
	pendingVer  any
	debounceSet bool
	timer       *time.Timer
}

// New creates a Bus. debounce is the state-changed coalescing window
// (≈50ms per spec §4.2); 0 disables coalescing (useful in tests).
func New(debounce time.Duration) *Bus {
	return &Bus{subs: make(map[int]*subscriber), debounce: debounce}
}

// Subscribe returns a channel of events and an unsubscribe func. The
// channel has a small buffer; once full, further sends to it are dropped
// rather than blocking the publisher.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Message, buffer)}
	b.subs[id] = sub
	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok && !s.closed {
			s.closed = true
			close(s.ch)
			delete(b.subs, id)
		}
	}
}

// Publish fans out event to every subscriber without blocking.
func (b *Bus) Publish(event string, payload any) {
	if event == StateChanged && b.debounce > 0 {
		b.publishDebounced(payload)
		return
	}
	b.emit(Message{Event: event, Payload: payload})
}

func (b *Bus) publishDebounced(payload any) {
	b.debounceMu.Lock()
	defer b.debounceMu.Unlock()
	b.pendingVer = payload
	if b.debounceSet {
		return
	}
	b.debounceSet = true
	b.timer = time.AfterFunc(b.debounce, func() {
		b.debounceMu.Lock()
		v := b.pendingVer
		b.debounceSet = false
		b.debounceMu.Unlock()
		b.emit(Message{Event: StateChanged, Payload: v})
	})
}

func (b *Bus) emit(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.ch <- msg:
		default:
			// Back-pressure: drop for this slow subscriber; it can
			// recover by calling snapshot.
		}
	}
}

// Close tears down all subscriptions, called on engine shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	for id, s := range b.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		delete(b.subs, id)
	}
}
