package ipc

import (
	"net/http"
	"strconv"

	"romvault-engine/internal/apperr"
	"romvault-engine/internal/engine"
)

type addRequest struct {
	URL              string `json:"url"`
	SavePath         string `json:"save_path"`
	SaveName         string `json:"save_name"`
	TotalBytes       int64  `json:"total_bytes,omitempty"`
	Priority         int    `json:"priority,omitempty"`
	DeclaredHash     string `json:"declared_hash,omitempty"`
	DeclaredHashAlgo string `json:"declared_hash_algo,omitempty"`
}

func (a addRequest) toEngine() engine.AddRequest {
	return engine.AddRequest{
		URL: a.URL, SavePath: a.SavePath, SaveName: a.SaveName,
		TotalBytes: a.TotalBytes, Priority: a.Priority,
		DeclaredHash: a.DeclaredHash, DeclaredHashAlgo: a.DeclaredHashAlgo,
	}
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.eng.Add(req.toEngine())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": id})
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []addRequest `json:"items"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	converted := make([]engine.AddRequest, len(req.Items))
	for i, item := range req.Items {
		converted[i] = item.toEngine()
	}
	ids, err := s.eng.AddBatch(converted)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ids": ids})
}

type idRequest struct {
	ID uint `json:"id"`
}

func parseID(r *http.Request) (uint, error) {
	var req idRequest
	if err := decode(r, &req); err != nil {
		return 0, err
	}
	if req.ID == 0 {
		return 0, apperr.New(apperr.Validation, "", "id is required")
	}
	return req.ID, nil
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.Pause(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.PauseAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.Resume(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleResumeAll(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.ResumeAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.CancelAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.Retry(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.Remove(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleConfirmOverwrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint `json:"id"`
		Accept bool `json:"accept"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.ConfirmOverwrite(req.ID, req.Accept); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	minVersion, _ := strconv.ParseInt(r.URL.Query().Get("min_version"), 10, 64)
	version, items, err := s.eng.Snapshot(minVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"version": version, "items": items})
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.eng.SessionMetrics()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, metrics)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dump, err := s.eng.Debug(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, dump)
}
