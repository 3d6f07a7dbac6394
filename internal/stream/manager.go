// Package stream pushes live session events to WebSocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/neelsabhaya/lumina.ai/internal/engine"
)

const writeTimeout = 5 * time.Second

// Manager tracks active WebSocket connections per owner and tab, and fans
// engine events out to them. It implements engine.Notifier.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewManager creates a new stream manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for an owner and tab session.
func (m *Manager) GetActive(ownerID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[ownerID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a new WebSocket connection for an owner/tab.
func (m *Manager) Register(ownerID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[ownerID]; !exists {
		m.active[ownerID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[ownerID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "stream replaced")
	}

	m.active[ownerID][sessionID] = conn
	slog.Info("Session stream registered", "user_id", ownerID, "session_id", sessionID)
}

// Unregister removes a WebSocket connection for an owner/tab.
func (m *Manager) Unregister(ownerID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[ownerID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, ownerID)
			}
			slog.Info("Session stream unregistered", "user_id", ownerID, "session_id", sessionID)
		}
	}
}

// CloseOwner forcefully terminates all active streams for an owner.
func (m *Manager) CloseOwner(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[ownerID]
	if !ok {
		return
	}

	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusNormalClosure, "stream closed")
		slog.Info("Session stream closed", "user_id", ownerID, "session_id", sid)
	}
	delete(m.active, ownerID)
}

// Notify delivers an engine event to the owner's matching tab, if connected.
func (m *Manager) Notify(event engine.Event) {
	conn := m.GetActive(event.OwnerID, event.SessionID)
	if conn == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to marshal session event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		slog.Debug("Session event write failed", "user_id", event.OwnerID,
			"session_id", event.SessionID, "error", err)
	}
}

var _ engine.Notifier = (*Manager)(nil)
