package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pollInterval is the cadence at which status is pushed to watchers.
const pollInterval = 500 * time.Millisecond

// handleWatch streams the session's status over a websocket instead of
// requiring the client to poll. The connection closes after a terminal
// status has been delivered.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			msg := s.orch.Poll(sessionID)
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("Websocket write failed", "session", sessionID, "error", err)
				return
			}
			if msg.Terminal() {
				return
			}
		}
	}
}
