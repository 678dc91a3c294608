// Package speed is the per-download Speed Tracker (spec §4.6): an
// exponentially-weighted moving average of bytes/sec with an ETA
// projection, grounded in the teacher's congestion controller's own EWMA
// smoothing (internal/core/congestion.go) applied to raw throughput
// instead of a congestion signal.
package speed

import (
	"sync"
	"time"
)

const defaultAlpha = 0.3

// Tracker smooths one download's throughput samples.
type Tracker struct {
	mu         sync.Mutex
	alpha      float64
	currentBps float64
	lastBytes  int64
	lastSample time.Time
	started    bool
}

func New() *Tracker {
	return &Tracker{alpha: defaultAlpha}
}

// Sample feeds a new cumulative downloaded-bytes reading.
func (t *Tracker) Sample(totalBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if !t.started {
		t.started = true
		t.lastBytes = totalBytes
		t.lastSample = now
		return
	}

	elapsed := now.Sub(t.lastSample).Seconds()
	if elapsed <= 0 {
		return
	}
	delta := totalBytes - t.lastBytes
	if delta < 0 {
		delta = 0
	}
	instantaneous := float64(delta) / elapsed

	if t.currentBps == 0 {
		t.currentBps = instantaneous
	} else {
		t.currentBps = t.alpha*instantaneous + (1-t.alpha)*t.currentBps
	}
	t.lastBytes = totalBytes
	t.lastSample = now
}

// CurrentBps returns the smoothed throughput.
func (t *Tracker) CurrentBps() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentBps
}

// ETASeconds returns the projected remaining seconds, or (0, false) when
// size or throughput is unknown.
func (t *Tracker) ETASeconds(downloaded, total int64) (float64, bool) {
	t.mu.Lock()
	bps := t.currentBps
	t.mu.Unlock()

	if total <= 0 || bps <= 0 {
		return 0, false
	}
	remaining := total - downloaded
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / bps, true
}
