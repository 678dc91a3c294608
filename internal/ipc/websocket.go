package ipc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSubscription = 64
)

// handleWebsocket upgrades the connection and relays every Event Bus
// message as a JSON frame, matching the teacher's runtime.EventsEmit
// fan-out but addressed at a plain websocket client instead of an embedded
// webview's JS bridge.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	messages, unsubscribe := s.bus.Subscribe(wsSubscription)
	defer unsubscribe()

	for msg := range messages {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		payload, err := json.Marshal(map[string]any{"event": msg.Event, "payload": msg.Payload})
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
