// Package concurrency implements the Concurrency Controller (spec §4.7):
// a global active-downloads semaphore, per-download chunk semaphores, and
// the AIMD-style adaptive resize loop, grounded directly in the teacher's
// CongestionController (internal/core/congestion.go /
// internal/network/congestion.go) and built on golang.org/x/sync/semaphore
// for the structured-concurrency slots named in the design notes.
package concurrency

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Controller owns the global download slot and per-download chunk slots.
type Controller struct {
	global *semaphore.Weighted

	mu     sync.Mutex
	chunks map[uint]*chunkSlot
}

type chunkSlot struct {
	sem    *semaphore.Weighted
	target int
	floor  int
	cap    int
}

func NewController(globalSlots int) *Controller {
	return &Controller{
		global: semaphore.NewWeighted(int64(globalSlots)),
		chunks: make(map[uint]*chunkSlot),
	}
}

// AcquireGlobal blocks until a global download slot is free.
func (c *Controller) AcquireGlobal(ctx context.Context) error {
	return c.global.Acquire(ctx, 1)
}

func (c *Controller) ReleaseGlobal() { c.global.Release(1) }

// TryAcquireGlobal attempts a non-blocking acquire, used by the Scheduler
// when deciding how many queued downloads it may start this tick.
func (c *Controller) TryAcquireGlobal() bool {
	return c.global.TryAcquire(1)
}

// InitChunks registers a download's initial chunk concurrency target
// (default 3, adaptive up to cap per spec §4.7).
func (c *Controller) InitChunks(id uint, initial, floor, cap int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[id] = &chunkSlot{
		sem:    semaphore.NewWeighted(int64(initial)),
		target: initial,
		floor:  floor,
		cap:    cap,
	}
}

func (c *Controller) AcquireChunk(ctx context.Context, id uint) error {
	c.mu.Lock()
	slot := c.chunks[id]
	c.mu.Unlock()
	if slot == nil {
		return nil
	}
	return slot.sem.Acquire(ctx, 1)
}

func (c *Controller) ReleaseChunk(id uint) {
	c.mu.Lock()
	slot := c.chunks[id]
	c.mu.Unlock()
	if slot != nil {
		slot.sem.Release(1)
	}
}

// RemoveDownload drops bookkeeping for a finished/cancelled download.
func (c *Controller) RemoveDownload(id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chunks, id)
}

// Resize applies the AIMD decision for one window: healthy -> +1 up to
// cap, degraded (stall or falling throughput) -> -1 down to floor.
// Because golang.org/x/sync/semaphore has no shrink primitive, growth
// creates a wider semaphore and replaces the old one; shrink is advisory
// (the target is enforced for future acquires; already-running chunks are
// allowed to finish under the old weight) which matches the teacher's own
// "adjust future concurrency, don't preempt in-flight work" behavior.
func (c *Controller) Resize(id uint, healthy bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.chunks[id]
	if !ok {
		return 0
	}
	if healthy {
		if slot.target < slot.cap {
			slot.target++
			slot.sem = semaphore.NewWeighted(int64(slot.target))
		}
	} else {
		if slot.target > slot.floor {
			slot.target--
			slot.sem = semaphore.NewWeighted(int64(slot.target))
		}
	}
	return slot.target
}

func (c *Controller) Target(id uint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok := c.chunks[id]; ok {
		return slot.target
	}
	return 0
}
