package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// BandwidthManager shapes global throughput with zero overhead when
// disabled, grounded directly on the teacher's BandwidthManager
// (internal/core/bandwidth.go), minus the Wails-coupled priority
// micro-sleep hack: priority now only affects scheduling order upstream.
type BandwidthManager struct {
	limiter *rate.Limiter
	enabled atomic.Bool
	mu      sync.Mutex
}

func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{limiter: rate.NewLimiter(rate.Inf, 0)}
}

// SetLimit updates the global bytes/sec limit; 0 disables shaping.
func (b *BandwidthManager) SetLimit(bytesPerSec int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bytesPerSec <= 0 {
		b.enabled.Store(false)
		b.limiter.SetLimit(rate.Inf)
		return
	}
	b.enabled.Store(true)
	b.limiter.SetLimit(rate.Limit(bytesPerSec))
	b.limiter.SetBurst(bytesPerSec)
}

// Wait blocks until n bytes may be consumed under the current limit.
func (b *BandwidthManager) Wait(ctx context.Context, n int) error {
	if !b.enabled.Load() {
		return nil
	}
	return b.limiter.WaitN(ctx, n)
}
