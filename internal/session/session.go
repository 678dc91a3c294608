// Package session implements per-download monotonic session tokens that
// invalidate stale I/O callbacks after a pause or cancel, grounded in the
// teacher's activeDownloadInfo{Cancel context.CancelFunc} pattern
// (internal/engine/worker.go) generalized into an explicit comparable
// token instead of relying solely on context cancellation.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Token is an opaque per-run identifier. The zero value never compares
// equal to an issued token.
type Token string

// Manager issues and tracks the current token for each download id.
type Manager struct {
	mu      sync.RWMutex
	current map[uint]Token
	cancels map[uint]context.CancelFunc
}

func NewManager() *Manager {
	return &Manager{
		current: make(map[uint]Token),
		cancels: make(map[uint]context.CancelFunc),
	}
}

// Start mints a fresh token for id, wraps parent with a CancelFunc the
// Manager owns, and returns both to the caller that will launch the run.
func (m *Manager) Start(parent context.Context, id uint) (context.Context, Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	tok := Token(uuid.NewString())
	m.current[id] = tok
	m.cancels[id] = cancel
	return ctx, tok
}

// Invalidate ends the current run for id: its context is cancelled and no
// token will compare current again until the next Start.
func (m *Manager) Invalidate(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	delete(m.current, id)
}

// IsCurrent reports whether tok is still the live session for id. Callers
// must check this immediately before any state-mutating effect of an I/O
// callback (§4.3, §5 "suspension points").
func (m *Manager) IsCurrent(id uint, tok Token) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current[id] == tok
}

// Shutdown invalidates every tracked session, used during engine teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
		delete(m.current, id)
	}
}
