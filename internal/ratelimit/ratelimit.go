// Package ratelimit implements the sliding-window request limiter (spec
// §4.5), used to throttle IPC and per-host request initiation. Grounded on
// burkut's hand-rolled PerHostRateLimiter (internal/engine/ratelimit.go)
// for the per-key map shape, generalized from a byte-budget token bucket
// to a request-count sliding window, and on golang.org/x/time/rate for the
// companion byte-throughput shaping used by the transport package.
package ratelimit

import (
	"sync"
	"time"
)

// window tracks request timestamps within the trailing period for one key.
type window struct {
	mu        sync.Mutex
	hits      []time.Time
	lastUsed  time.Time
	limit     int
	period    time.Duration
}

// Limiter is a sliding-window limiter keyed by hostname, client id, or IPC
// channel name.
type Limiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	limit      int
	period     time.Duration
	idleExpiry time.Duration
}

// New creates a limiter admitting up to limit calls per period, per key.
func New(limit int, period time.Duration) *Limiter {
	return &Limiter{
		windows:    make(map[string]*window),
		limit:      limit,
		period:     period,
		idleExpiry: 10 * period,
	}
}

// Allow increments the key's usage and returns whether the call is within
// budget for the current window.
func (l *Limiter) Allow(key string) bool {
	w := l.windowFor(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.lastUsed = now
	cutoff := now.Add(-w.period)

	kept := w.hits[:0]
	for _, t := range w.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.hits = kept

	if len(w.hits) >= w.limit {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

func (l *Limiter) windowFor(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{limit: l.limit, period: l.period, lastUsed: time.Now()}
		l.windows[key] = w
	}
	return w
}

// Compact removes keys with no recent activity, per §4.5's "periodic
// compaction removes keys with no recent activity."
func (l *Limiter) Compact() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, w := range l.windows {
		w.mu.Lock()
		idle := now.Sub(w.lastUsed) > l.idleExpiry
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
		}
	}
}

// RunCompactor starts a goroutine that compacts every interval until stop
// is closed.
func (l *Limiter) RunCompactor(interval time.Duration, stop <-chan struct{}) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				l.Compact()
			}
		}
	}()
}
