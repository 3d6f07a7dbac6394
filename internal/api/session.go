package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
	"github.com/neelsabhaya/lumina.ai/internal/engine"
	"github.com/neelsabhaya/lumina.ai/internal/identity"
)

// maxRequestBodySize caps inbound JSON payloads (1MB).
const maxRequestBodySize = 1 << 20

// SessionHandler handles refinement session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/grade", h.Grade)
		r.Get("/session", h.GetSession)
		r.Post("/session/continue", h.ContinueSession)
		r.Post("/session/end", h.EndSession)
		r.Get("/history", h.ListHistory)
		r.Post("/history/{id}/restore", h.RestoreSession)
		r.Delete("/history/{id}", h.DeleteHistory)
		r.Get("/me", h.GetMe)
	})
}

type gradeRequest struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
}

type sessionResponse struct {
	ID                string           `json:"id,omitempty"`
	Messages          []domain.Message `json:"messages"`
	Score             int              `json:"score"`
	Status            domain.Status    `json:"status"`
	Title             string           `json:"title,omitempty"`
	ArchitectedPrompt string           `json:"architected_prompt,omitempty"`
	DisplayOutput     bool             `json:"display_output"`
}

func toSessionResponse(session domain.Session) sessionResponse {
	return sessionResponse{
		ID:                session.ID,
		Messages:          session.Messages,
		Score:             session.Score,
		Status:            session.Status,
		Title:             session.Title,
		ArchitectedPrompt: session.ArchitectedOutput,
		DisplayOutput:     session.DisplayOutput(),
	}
}

// controller resolves the engine controller for the request's owner and tab.
// A nil return means the 401 response has already been written.
func (h *SessionHandler) controller(w http.ResponseWriter, r *http.Request) *engine.Controller {
	ownerID := identity.OwnerIDFromContext(r.Context())
	if ownerID == "" {
		Error(w, http.StatusUnauthorized, "sign_in_required")
		return nil
	}
	return h.engines.Get(ownerID, identity.SessionIDFromContext(r.Context()))
}

// Grade runs one refinement turn for the active session.
func (h *SessionHandler) Grade(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ownerID := identity.OwnerIDFromContext(r.Context())
	result, err := ctrl.Submit(r.Context(), req.Prompt, req.Mode)
	switch {
	case errors.Is(err, engine.ErrEmptyInput):
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	case errors.Is(err, engine.ErrEvaluationInFlight):
		Error(w, http.StatusConflict, "evaluation already in flight")
		return
	case errors.Is(err, engine.ErrSessionSuperseded):
		Error(w, http.StatusConflict, "session ended while evaluating")
		return
	case errors.Is(err, engine.ErrNotAuthenticated):
		Error(w, http.StatusUnauthorized, "sign_in_required")
		return
	case err != nil:
		slog.Error("Grade request failed", "user_id", ownerID, "error", err)
		Error(w, http.StatusInternalServerError, "grading failed")
		return
	}

	if err := h.repo.UpdateLastSeen(r.Context(), ownerID, time.Now()); err != nil {
		slog.Warn("Failed to update last seen", "user_id", ownerID, "error", err)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"session": toSessionResponse(ctrl.Snapshot()),
	})
}

// GetSession returns the active session snapshot.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(ctrl.Snapshot()))
}

// ContinueSession returns a completed session to refinement.
func (h *SessionHandler) ContinueSession(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	ctrl.ContinueRefining()
	JSON(w, http.StatusOK, toSessionResponse(ctrl.Snapshot()))
}

// EndSession resets the active session. The durable record is untouched.
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	ctrl.End()
	JSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// ListHistory returns the owner's recent sessions, most recent first.
func (h *SessionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	records, err := ctrl.Recent(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if records == nil {
		records = []*domain.PromptRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"history": records})
}

// RestoreSession loads a persisted record into the active session.
func (h *SessionHandler) RestoreSession(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	ownerID := identity.OwnerIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	record, err := h.repo.GetPrompt(r.Context(), ownerID, id)
	if err != nil {
		slog.Error("Failed to load session record", "user_id", ownerID, "record_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if record == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	ctrl.Load(record)
	JSON(w, http.StatusOK, toSessionResponse(ctrl.Snapshot()))
}

// DeleteHistory removes a persisted record. Deleting the active session's
// record also ends it.
func (h *SessionHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	id := chi.URLParam(r, "id")
	if err := ctrl.Delete(r.Context(), id); err != nil {
		slog.Error("Failed to delete session record", "record_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GetMe returns the current owner's information.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	if ownerID == "" {
		Error(w, http.StatusUnauthorized, "sign_in_required")
		return
	}

	user, err := h.repo.GetUser(r.Context(), ownerID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  user.UserID,
		"username": user.Username,
	})
}
