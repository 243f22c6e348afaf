package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/logs"
)

// logsHandler serves GET /ws/scenes/{scene}/services/{id}/logs: the
// buffered lines of the service, then each new line as it arrives.
func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	key := authority.Key{Scene: r.PathValue("scene"), Service: r.PathValue("id")}
	if s.logs == nil {
		http.Error(w, "log streaming is not configured", http.StatusNotImplemented)
		return
	}
	tail, err := logs.Open(r.Context(), key, s.deps.Authority, s.logs, s.logLines)
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := tail.Close(ctx); err != nil {
			s.logger.Warn("closing log tail", "scene", key.Scene, "service", key.Service, "error", err)
		}
	}()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	logClients.Inc()
	defer logClients.Dec()

	lines := make(chan authority.LogEvent, outboxSize)
	stop := tail.Listen(func(ev authority.LogEvent) {
		select {
		case lines <- ev:
		default:
		}
	})
	defer stop()

	for _, ev := range tail.Lines() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	done := readUntilClosed(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-lines:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
