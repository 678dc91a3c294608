// Package breaker implements the Circuit Breaker Registry (spec §4.4): a
// CLOSED -> OPEN -> HALF_OPEN state machine per host or one global breaker,
// designed independently in the teacher's idiom (no direct breaker analog
// exists in the example pack) but following the same small-struct,
// mutex-guarded, explicitly-owned-by-the-engine shape as the teacher's
// CongestionController and BandwidthManager.
package breaker

import (
	"sync"
	"time"

	"romvault-engine/internal/apperr"
)

type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config holds one breaker's thresholds (spec §4.4 defaults).
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	ResetTimeout     time.Duration
}

var GlobalDefaults = Config{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 60 * time.Second, ResetTimeout: 60 * time.Second}
var PerHostDefaults = Config{FailureThreshold: 10, SuccessThreshold: 2, OpenTimeout: 120 * time.Second, ResetTimeout: 60 * time.Second}

// Breaker is one CLOSED/OPEN/HALF_OPEN state machine.
type Breaker struct {
	cfg Config
	mu  sync.Mutex

	state        State
	failures     int
	successes    int
	openedAt     time.Time
	halfOpenBusy bool
}

func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// allow decides, under lock, whether a call may proceed right now, and
// transitions OPEN -> HALF_OPEN once the reset timeout has elapsed.
func (b *Breaker) allow() bool {
	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = HalfOpen
			b.halfOpenBusy = false
			b.successes = 0
			return b.tryHalfOpenSlot()
		}
		return false
	case HalfOpen:
		return b.tryHalfOpenSlot()
	default:
		return false
	}
}

// tryHalfOpenSlot admits exactly one probe at a time while HALF_OPEN.
func (b *Breaker) tryHalfOpenSlot() bool {
	if b.halfOpenBusy {
		return false
	}
	b.halfOpenBusy = true
	return true
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case HalfOpen:
		b.successes++
		b.halfOpenBusy = false
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	case Closed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	switch b.state {
	case HalfOpen:
		b.halfOpenBusy = false
		b.state = Open
		b.openedAt = time.Now()
		b.successes = 0
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = time.Now()
		}
	}
}

// Execute runs f only if the breaker currently admits calls; otherwise it
// returns ERR_CIRCUIT_OPEN without invoking f.
func (b *Breaker) Execute(f func() error) error {
	b.mu.Lock()
	if !b.allow() {
		b.mu.Unlock()
		return apperr.ErrCircuitOpen
	}
	b.mu.Unlock()

	err := f()

	b.mu.Lock()
	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	b.mu.Unlock()
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Mode selects whether the Registry keys breakers per host or globally.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeGlobal  Mode = "global"
	ModePerHost Mode = "per_host"
)

// Registry owns every breaker for the process lifetime (per the design
// notes: "process-wide singletons -> owned by the engine instance").
type Registry struct {
	mode   Mode
	mu     sync.Mutex
	global *Breaker
	byHost map[string]*Breaker
}

func NewRegistry(mode Mode) *Registry {
	r := &Registry{mode: mode, byHost: make(map[string]*Breaker)}
	if mode == ModeGlobal {
		r.global = New(GlobalDefaults)
	}
	return r
}

// For returns the breaker that should guard a call to host, or nil if
// breaking is disabled.
func (r *Registry) For(host string) *Breaker {
	switch r.mode {
	case ModeOff:
		return nil
	case ModeGlobal:
		return r.global
	case ModePerHost:
		r.mu.Lock()
		defer r.mu.Unlock()
		b, ok := r.byHost[host]
		if !ok {
			b = New(PerHostDefaults)
			r.byHost[host] = b
		}
		return b
	default:
		return nil
	}
}

// Execute wraps f with the appropriate breaker, or calls it directly when
// breaking is disabled for host.
func (r *Registry) Execute(host string, f func() error) error {
	b := r.For(host)
	if b == nil {
		return f()
	}
	return b.Execute(f)
}

// States reports every tracked breaker's state, for session_metrics().
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State)
	if r.mode == ModeGlobal && r.global != nil {
		out["global"] = r.global.State()
	}
	for host, b := range r.byHost {
		out[host] = b.State()
	}
	return out
}

// Shutdown drops every breaker; they own no timers, so this is just a
// reference release (per §4.4 "destroyed on engine shutdown").
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = nil
	r.byHost = make(map[string]*Breaker)
}
