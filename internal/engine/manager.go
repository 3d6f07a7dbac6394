package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/neelsabhaya/lumina.ai/internal/grader"
	"github.com/neelsabhaya/lumina.ai/internal/identity"
	"github.com/neelsabhaya/lumina.ai/internal/store"
)

const janitorInterval = 5 * time.Minute

// Manager hands out one Controller per owner and tab session and reacts to
// auth state changes: a sign-out ends and drops every session the owner has
// in memory. Durable records are never touched by either path.
type Manager struct {
	grader   grader.Client
	repo     store.Repository
	notifier Notifier
	logger   *slog.Logger
	limit    int

	mu          sync.RWMutex
	controllers map[string]map[string]*Controller // ownerID -> tab sessionID
}

// NewManager creates a controller registry.
func NewManager(gc grader.Client, repo store.Repository, notifier Notifier, limit int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		grader:      gc,
		repo:        repo,
		notifier:    notifier,
		logger:      logger,
		limit:       limit,
		controllers: make(map[string]map[string]*Controller),
	}
}

// Get returns the controller for an owner/tab pair, creating it on first use.
func (m *Manager) Get(ownerID, sessionID string) *Controller {
	m.mu.RLock()
	if sessions, ok := m.controllers[ownerID]; ok {
		if c, ok := sessions[sessionID]; ok {
			m.mu.RUnlock()
			return c
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.controllers[ownerID]; !ok {
		m.controllers[ownerID] = make(map[string]*Controller)
	}
	if c, ok := m.controllers[ownerID][sessionID]; ok {
		return c
	}
	c := NewController(ownerID, sessionID, m.grader, m.repo, m.notifier, m.limit, m.logger)
	m.controllers[ownerID][sessionID] = c
	m.logger.Info("Session controller created", "user_id", ownerID, "session_id", sessionID)
	return c
}

// EndOwnerSessions ends and drops every in-memory session for an owner.
func (m *Manager) EndOwnerSessions(ownerID string) {
	m.mu.Lock()
	sessions := m.controllers[ownerID]
	delete(m.controllers, ownerID)
	m.mu.Unlock()

	for sessionID, c := range sessions {
		c.End()
		m.logger.Info("Session ended", "user_id", ownerID, "session_id", sessionID)
	}
}

// Watch subscribes to auth events once and reacts until ctx is done.
// Sign-out ends the owner's sessions; sign-in needs no engine action.
func (m *Manager) Watch(ctx context.Context, events <-chan identity.AuthEvent) {
	go func() {
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.Type == identity.AuthSignedOut {
					m.EndOwnerSessions(event.OwnerID)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StartJanitor runs a background goroutine that periodically sweeps
// controllers idle past ttl out of memory. Their durable records remain.
func (m *Manager) StartJanitor(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(janitorInterval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Session janitor started", "interval", janitorInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.sweepIdle(ttl)
			case <-ctx.Done():
				m.logger.Info("Session janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) sweepIdle(ttl time.Duration) {
	threshold := time.Now().Add(-ttl)

	m.mu.Lock()
	var expired []*Controller
	for ownerID, sessions := range m.controllers {
		for sessionID, c := range sessions {
			if c.IdleSince().Before(threshold) {
				expired = append(expired, c)
				delete(sessions, sessionID)
				m.logger.Info("Session janitor expiring idle session",
					"user_id", ownerID, "session_id", sessionID)
			}
		}
		if len(sessions) == 0 {
			delete(m.controllers, ownerID)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		c.End()
	}

	if len(expired) > 0 {
		m.logger.Info("Session janitor sweep completed", "expired", len(expired))
	}
}
