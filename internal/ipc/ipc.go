// Package ipc exposes the Download Engine over the JSON request/response
// bus described in spec §6, grounded on the teacher's chi-based HTTP
// surface (internal/api/server.go) and its gorilla/websocket event push
// for the one-way engine -> UI event stream, replacing the Wails-bound
// runtime.EventsEmit calls the teacher used when the UI was an embedded
// webview rather than an external process.
package ipc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"romvault-engine/internal/apperr"
	"romvault-engine/internal/engine"
	"romvault-engine/internal/eventbus"
	"romvault-engine/internal/ratelimit"
)

// Server is the HTTP façade: one JSON POST endpoint per engine operation,
// plus a /ws stream of eventbus messages.
type Server struct {
	eng     *engine.Engine
	bus     *eventbus.Bus
	log     *slog.Logger
	limiter *ratelimit.Limiter
	router  chi.Router
	upgrade websocket.Upgrader
}

func NewServer(eng *engine.Engine, bus *eventbus.Bus, log *slog.Logger) *Server {
	s := &Server{
		eng:     eng,
		bus:     bus,
		log:     log,
		limiter: ratelimit.New(50, time.Second),
		upgrade: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.rateLimitMiddleware)

	r.Post("/engine.add", s.handleAdd)
	r.Post("/engine.add_batch", s.handleAddBatch)
	r.Post("/engine.pause", s.handlePause)
	r.Post("/engine.pause_all", s.handlePauseAll)
	r.Post("/engine.resume", s.handleResume)
	r.Post("/engine.resume_all", s.handleResumeAll)
	r.Post("/engine.cancel", s.handleCancel)
	r.Post("/engine.cancel_all", s.handleCancelAll)
	r.Post("/engine.retry", s.handleRetry)
	r.Post("/engine.remove", s.handleRemove)
	r.Post("/engine.confirm_overwrite", s.handleConfirmOverwrite)
	r.Post("/engine.snapshot", s.handleSnapshot)
	r.Post("/engine.session_metrics", s.handleSessionMetrics)
	r.Post("/engine.debug", s.handleDebug)
	r.Get("/ws", s.handleWebsocket)
	return r
}

// rateLimitMiddleware enforces the IPC-channel sliding window named in
// spec §4.5's "(b) state-query IPC from the UI".
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.URL.Path) {
			writeError(w, apperr.New(apperr.Validation, "ERR_RATE_LIMITED", "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind, code, msg := "NetworkError", "", err.Error()
	if ae, ok := err.(*apperr.Error); ok {
		kind, code, msg = string(ae.Kind), ae.Code, ae.Message
	}
	status := http.StatusBadRequest
	switch apperr.Kind(kind) {
	case apperr.State, apperr.Network, apperr.Server, apperr.CircuitOpen:
		status = http.StatusConflict
	case apperr.Disk, apperr.Integrity:
		status = http.StatusUnprocessableEntity
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"kind": kind, "code": code, "message": msg}})
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, "", "malformed request body", err)
	}
	return nil
}
