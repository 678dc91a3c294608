// Package scheduler picks which queued downloads to start (spec §4.8). It
// is pure and does no I/O, grounded on the teacher's real SmartScheduler
// (internal/queue/scheduler.go, host-limit bookkeeping and
// GetNextTask/OnTaskStarted pattern) and its dead heap-based PriorityQueue
// (internal/core/queue.go) for the priority+age scoring idea, adapted into
// the exact scoring formula spec.md §4.8 names.
package scheduler

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"romvault-engine/internal/breaker"
)

const (
	PriorityWeight = 10.0
	AgeWeight      = 0.05
)

// Candidate is one queued download as seen by the scheduler.
type Candidate struct {
	ID        uint
	Host      string
	Priority  int
	QueuedAt  time.Time
	Inserted  int // insertion sequence, for tie-breaking
}

type scored struct {
	Candidate
	score float64
}

// Plan decides which ids to start this tick.
type Plan struct {
	ToStart []uint
}

// Select scores and filters candidates against global/per-host capacity
// and breaker state, returning the ids the Engine should transition to
// STARTING.
func Select(
	candidates []Candidate,
	now time.Time,
	globalFree int,
	perHostCap int,
	hostActive map[string]int,
	breakers *breaker.Registry,
) Plan {
	scoredList := lo.Map(candidates, func(c Candidate, _ int) scored {
		age := now.Sub(c.QueuedAt).Seconds()
		return scored{Candidate: c, score: float64(c.Priority)*PriorityWeight + age*AgeWeight}
	})

	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].Inserted < scoredList[j].Inserted
	})

	hostCounts := make(map[string]int, len(hostActive))
	for h, n := range hostActive {
		hostCounts[h] = n
	}

	plan := Plan{}
	remaining := globalFree
	for _, c := range scoredList {
		if remaining <= 0 {
			break
		}
		if hostCounts[c.Host] >= perHostCap {
			continue
		}
		if breakers != nil {
			if b := breakers.For(c.Host); b != nil && b.State() == breaker.Open {
				continue
			}
		}
		plan.ToStart = append(plan.ToStart, c.ID)
		hostCounts[c.Host]++
		remaining--
	}
	return plan
}
