package stream

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/neelsabhaya/lumina.ai/internal/identity"
)

// WebSocketHandler upgrades authenticated requests into session event
// streams.
type WebSocketHandler struct {
	sm            *Manager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sm *Manager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sm:            sm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev || h.allowedOrigin == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || strings.EqualFold(origin, h.allowedOrigin)
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if ownerID == "" {
		http.Error(w, `{"error":"sign_in_required"}`, http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", ownerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", ownerID)
		}
	}()

	h.sm.Register(ownerID, sessionID, ws)
	defer h.sm.Unregister(ownerID, sessionID, ws)

	// The stream is write-only; reading just detects the peer going away.
	for {
		if _, _, err := ws.Read(r.Context()); err != nil {
			return
		}
	}
}
