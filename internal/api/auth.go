package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
	"github.com/neelsabhaya/lumina.ai/internal/identity"
)

// AuthHandler bridges the external identity provider's sign-in/sign-out
// callbacks into owner cookies and auth events.
type AuthHandler struct {
	*Handler
	watcher *identity.Watcher
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *Handler, watcher *identity.Watcher) *AuthHandler {
	return &AuthHandler{Handler: base, watcher: watcher}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signin", h.SignIn)
		r.Post("/signout", h.SignOut)
	})
}

// SignIn establishes (or refreshes) the owner identity and announces it.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromRequest(r)
	if ownerID == "" {
		var err error
		ownerID, err = identity.GenerateOwnerID()
		if err != nil {
			slog.Error("Failed to generate owner identity", "error", err)
			Error(w, http.StatusInternalServerError, "failed to establish identity")
			return
		}
	}

	now := time.Now()
	user := &domain.User{
		UserID:     ownerID,
		Username:   identity.DeriveUsername(ownerID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.repo.UpsertUser(r.Context(), user); err != nil {
		slog.Error("Failed to persist owner", "user_id", ownerID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to establish identity")
		return
	}

	identity.SetOwnerCookie(w, ownerID, h.isDevelopment())
	h.watcher.SignedIn(ownerID)

	JSON(w, http.StatusOK, map[string]string{
		"user_id":  user.UserID,
		"username": user.Username,
	})
}

// SignOut clears the owner identity and announces the sign-out; the engine
// ends the owner's in-memory sessions in response. Durable records remain.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	identity.ClearOwnerCookie(w, h.isDevelopment())

	if ownerID != "" {
		h.watcher.SignedOut(ownerID)
	}
	JSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}
