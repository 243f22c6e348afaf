package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/graph"
	"github.com/AaronLay10/SceneWorkbench/internal/layout"
	"github.com/AaronLay10/SceneWorkbench/internal/scene"
)

// Gesture is a message sent by a canvas client. Which fields are read
// depends on Type.
type Gesture struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"` // echoed in the result
	Source    string   `json:"source,omitempty"`
	Target    string   `json:"target,omitempty"`
	Edges     []string `json:"edges,omitempty"`
	Edge      string   `json:"edge,omitempty"`
	Node      string   `json:"node,omitempty"`
	Previous  string   `json:"previous,omitempty"`
	Payload   string   `json:"payload,omitempty"`
	Condition string   `json:"condition,omitempty"`
	Key       string   `json:"key,omitempty"`
	Confirmed bool     `json:"confirmed,omitempty"`
	X         float64  `json:"x,omitempty"`
	Y         float64  `json:"y,omitempty"`
}

// CanvasMessage is a message pushed to a canvas client.
type CanvasMessage struct {
	Type     string          `json:"type"` // snapshot, notice or result
	Snapshot *graph.Snapshot `json:"snapshot,omitempty"`
	Notice   *scene.Notice   `json:"notice,omitempty"`
	ID       string          `json:"id,omitempty"`
	OK       bool            `json:"ok,omitempty"`
	Error    string          `json:"error,omitempty"`
}

var errUnknownGesture = errors.New("unknown gesture")

// applyGesture runs one gesture against sess.
func applyGesture(ctx context.Context, sess *scene.Session, g Gesture) error {
	switch g.Type {
	case "connect":
		return sess.Connect(ctx, g.Source, g.Target)
	case "disconnect":
		ids := g.Edges
		if g.Edge != "" {
			ids = append(ids, g.Edge)
		}
		return sess.Disconnect(ctx, ids...)
	case "delete_node":
		return sess.DeleteNode(ctx, g.Node, scene.Answer(g.Confirmed))
	case "set_condition":
		return sess.SetCondition(ctx, g.Edge, authority.Condition(g.Condition))
	case "move":
		return sess.MoveNode(g.Node, layout.Point{X: g.X, Y: g.Y})
	case "relayout":
		return sess.Relayout()
	case "reload":
		return sess.Reload(ctx)
	case "shortcut":
		return sess.HandleShortcut(ctx, g.Key)
	case "create_service":
		return sess.CreateService(ctx, g.Node, g.Payload)
	case "update_service":
		return sess.UpdateService(ctx, g.Previous, g.Node, g.Payload)
	case "start_all":
		return sess.StartAll(ctx)
	case "stop_all":
		return sess.StopAll(ctx)
	case "start_service":
		return sess.StartService(ctx, g.Node)
	case "stop_service":
		return sess.StopService(ctx, g.Node)
	}
	return fmt.Errorf("%w: %q", errUnknownGesture, g.Type)
}

// canvasHandler serves GET /ws/scenes/{scene}. The client receives the
// current snapshot, then every notice followed by a fresh snapshot, and the
// result of each gesture it sends.
func (s *Server) canvasHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("scene")
	if err := authority.ValidateSceneName(name); err != nil {
		writeError(w, err)
		return
	}
	sess, release, err := s.sessions.Acquire(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	canvasClients.Inc()
	defer canvasClients.Dec()

	out := make(chan CanvasMessage, outboxSize)
	var missed atomic.Bool
	stopListen := sess.Listen(func(n scene.Notice) {
		select {
		case out <- CanvasMessage{Type: "notice", Notice: &n}:
		default:
			// Slow client; the next snapshot catches it up.
			missed.Store(true)
		}
	})
	defer stopListen()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var g Gesture
			if jerr := json.Unmarshal(data, &g); jerr != nil {
				err = fmt.Errorf("%w: invalid JSON", errUnknownGesture)
			} else {
				err = applyGesture(ctx, sess, g)
			}
			result := "ok"
			msg := CanvasMessage{Type: "result", ID: g.ID, OK: err == nil}
			if err != nil {
				result = "rejected"
				msg.Error = err.Error()
			}
			if errors.Is(err, errUnknownGesture) {
				gestures.WithLabelValues("unknown", result).Inc()
			} else {
				gestures.WithLabelValues(g.Type, result).Inc()
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	s.writeCanvas(conn, sess, out, done, &missed)
}

const outboxSize = 64

func (s *Server) writeCanvas(conn *websocket.Conn, sess *scene.Session, out <-chan CanvasMessage, done <-chan struct{}, missed *atomic.Bool) {
	write := func(msg CanvasMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("ws write failed", "error", err)
			return false
		}
		return true
	}
	sendSnapshot := func() bool {
		snap, err := sess.Snapshot()
		if err != nil {
			return false
		}
		return write(CanvasMessage{Type: "snapshot", Snapshot: &snap})
	}

	if !sendSnapshot() {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	stale := false
	for {
		select {
		case <-done:
			return

		case msg := <-out:
			if !write(msg) {
				return
			}
			if msg.Notice != nil && msg.Notice.Kind == scene.NoticeClosed {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			stale = stale || msg.Type == "notice" || missed.Swap(false)
			// One snapshot per burst of notices.
			if stale && len(out) == 0 {
				stale = false
				if !sendSnapshot() {
					return
				}
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
