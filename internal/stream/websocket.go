package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/ashureev/persona-lab/internal/session"
)

const writeTimeout = 5 * time.Second

// SessionSource resolves a session owned by a user.
type SessionSource interface {
	Get(ownerID, id string) (*session.Session, error)
}

// Frame is one server-to-client WebSocket message.
type Frame struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Event    *session.Event    `json:"event,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// clientMessage is a client-to-server WebSocket message.
type clientMessage struct {
	Type string `json:"type"`
}

// Handler serves GET /ws/sessions/{id}: it sends the current snapshot and
// then every event of that session. Clients may see an event that is
// already part of the snapshot and should dedupe by message id.
type Handler struct {
	sessions       SessionSource
	hub            *Hub
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a stream handler.
func NewHandler(sessions SessionSource, hub *Hub, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		sessions:       sessions,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess, err := h.sessions.Get(userID, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, session.ErrForbidden):
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	slog.Info("Session stream opened", "user_id", userID, "session_id", sessionID)

	sub := h.hub.Subscribe(sessionID)
	defer sub.Cancel()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snap := sess.Snapshot()
	if err := writeFrame(ctx, ws, Frame{Type: "snapshot", Snapshot: &snap}); err != nil {
		slog.Debug("Failed to send snapshot", "error", err)
		return
	}

	go h.readLoop(ctx, cancel, ws, sessionID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				slog.Info("Session stream closed", "session_id", sessionID)
				return
			}
			if err := writeFrame(ctx, ws, Frame{Type: "event", Event: &ev}); err != nil {
				slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
				return
			}
		}
	}
}

// readLoop answers pings and cancels ctx when the client goes away.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sessionID string) {
	defer cancel()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeFrame(ctx, ws, Frame{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
