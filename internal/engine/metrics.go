package engine

import (
	"time"

	"github.com/davecgh/go-spew/spew"

	"romvault-engine/internal/filesystem"
)

// SessionMetrics is the supplemented session_metrics() operation: a
// point-in-time rollup of throughput, queue depth, and breaker health that
// the original spec's folder-watch distillation never named but which the
// teacher's own dashboard relies on.
type SessionMetrics struct {
	StateCounts     map[string]int64  `json:"state_counts"`
	BreakerStates   map[string]string `json:"breaker_states"`
	AggregateBps    float64           `json:"aggregate_bps"`
	DiskFreeBytes   uint64            `json:"disk_free_bytes"`
	DiskTotalBytes  uint64            `json:"disk_total_bytes"`
	ActiveDownloads int               `json:"active_downloads"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// SessionMetrics aggregates a live snapshot of engine health for the UI's
// status bar, without requiring a full downloads snapshot.
func (e *Engine) SessionMetrics() (SessionMetrics, error) {
	counts, err := e.store.StateCounts()
	if err != nil {
		return SessionMetrics{}, err
	}
	stateCounts := make(map[string]int64, len(counts))
	for state, n := range counts {
		stateCounts[string(state)] = n
	}

	breakerStates := make(map[string]string)
	for host, state := range e.breakers.States() {
		breakerStates[host] = string(state)
	}

	e.mu.Lock()
	var aggregate float64
	for _, t := range e.trackers {
		aggregate += t.CurrentBps()
	}
	active := 0
	for _, n := range e.hostActive {
		active += n
	}
	e.mu.Unlock()

	free, total, _ := filesystem.DiskUsage(e.cfg.StagingRoot)

	return SessionMetrics{
		StateCounts:     stateCounts,
		BreakerStates:   breakerStates,
		AggregateBps:    aggregate,
		DiskFreeBytes:   free,
		DiskTotalBytes:  total,
		ActiveDownloads: active,
		GeneratedAt:     time.Now(),
	}, nil
}

// DebugDump is the supplemented debug(id) operation: a structured snapshot
// of one download's row, chunk plan, and recent attempts, for support
// tickets and bug reports rather than the UI proper.
type DebugDump struct {
	Download string
	Chunks   string
	Attempts string
}

// Debug renders id's full internal state via go-spew, matching the
// teacher's own debug-command convention of dumping structs verbatim
// instead of hand-formatting a diagnostic string.
func (e *Engine) Debug(id uint) (DebugDump, error) {
	d, err := e.store.Get(id)
	if err != nil {
		return DebugDump{}, err
	}
	chunks, err := e.store.ListChunks(id)
	if err != nil {
		return DebugDump{}, err
	}
	attempts, err := e.store.ListAttempts(id, 20)
	if err != nil {
		return DebugDump{}, err
	}
	return DebugDump{
		Download: spew.Sdump(d),
		Chunks:   spew.Sdump(chunks),
		Attempts: spew.Sdump(attempts),
	}, nil
}
