// Package engine implements the session refinement engine: it owns the
// in-memory session, runs the turn protocol against the grading oracle,
// applies the completion policy, and synchronizes with the history store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
	"github.com/neelsabhaya/lumina.ai/internal/grader"
	"github.com/neelsabhaya/lumina.ai/internal/store"
)

// Validation errors. These are rejected before any network activity.
var (
	ErrEmptyInput         = errors.New("prompt text is empty")
	ErrNotAuthenticated   = errors.New("sign in required")
	ErrEvaluationInFlight = errors.New("evaluation already in flight")
	// ErrSessionSuperseded is returned when the session was ended, loaded, or
	// deleted while an evaluation was pending; the stale result is discarded.
	ErrSessionSuperseded = errors.New("session superseded while evaluation was pending")
)

// DefaultMode is used when the caller does not pick an evaluation profile.
const DefaultMode = "General"

// Conversation notices appended by the engine itself.
const (
	completionNotice = "Architecture complete! I have generated your refined prompt below. Would you like to stay to refine this further, or end this session?"
	restoredNotice   = "Architecture successfully restored from your history."
	failureNotice    = "Architect failed to respond."
)

// StoreNotice is the best-effort warning surfaced when a history write fails.
// In-memory session state stays authoritative regardless.
const StoreNotice = "history could not be saved"

// Event describes a session state change for live subscribers.
type Event struct {
	OwnerID   string        `json:"owner_id"`
	SessionID string        `json:"session_id"`
	Status    domain.Status `json:"status"`
	Score     int           `json:"score"`
	Completed bool          `json:"completed,omitempty"`
}

// Notifier receives engine events. Implementations must not block.
type Notifier interface {
	Notify(event Event)
}

// SubmitResult is what a single turn resolves to.
type SubmitResult struct {
	RecordID    string        `json:"session_id,omitempty"`
	Score       int           `json:"score"`
	Feedback    string        `json:"feedback"`
	Status      domain.Status `json:"status"`
	Completed   bool          `json:"completed"`
	Failed      bool          `json:"failed,omitempty"`
	StoreNotice string        `json:"store_notice,omitempty"`
}

// Controller drives one refinement session for one owner and tab. All state
// it owns is mutated under its lock; the only suspension points (the oracle
// call) happen outside it, guarded by the in-flight flag and a generation
// counter.
type Controller struct {
	ownerID   string
	sessionID string
	grader    grader.Client
	repo      store.Repository
	notifier  Notifier
	logger    *slog.Logger
	limit     int

	mu         sync.Mutex
	session    domain.Session
	inFlight   bool
	generation uint64
	recent     []*domain.PromptRecord
	lastActive time.Time
}

// NewController creates a controller for an authenticated owner.
func NewController(ownerID, sessionID string, gc grader.Client, repo store.Repository, notifier Notifier, limit int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	return &Controller{
		ownerID:    ownerID,
		sessionID:  sessionID,
		grader:     gc,
		repo:       repo,
		notifier:   notifier,
		logger:     logger,
		limit:      limit,
		session:    domain.Session{OwnerID: ownerID, Status: domain.StatusEmpty},
		lastActive: time.Now(),
	}
}

// Submit runs one refinement turn: validate, grade, commit. The user message
// and its resolution (assistant reply or failure notice) become visible
// atomically; callers never observe a dangling user turn.
func (c *Controller) Submit(ctx context.Context, text, mode string) (*SubmitResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if c.ownerID == "" {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(mode) == "" {
		mode = DefaultMode
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrEvaluationInFlight
	}
	c.inFlight = true
	generation := c.generation
	history := slices.Clone(c.session.Messages)
	c.lastActive = time.Now()
	c.mu.Unlock()

	result, gradeErr := c.grader.Grade(ctx, text, history, mode)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		// The session was ended, reloaded, or deleted while this evaluation
		// was pending. The flag was already cleared by whoever bumped the
		// generation; the result must not be applied.
		c.logger.Info("Discarding stale evaluation result",
			"user_id", c.ownerID, "session_id", c.sessionID)
		return nil, ErrSessionSuperseded
	}
	c.inFlight = false

	c.session.Messages = append(c.session.Messages, domain.Message{Role: domain.RoleUser, Content: text})
	if c.session.Status == domain.StatusEmpty || c.session.Status == domain.StatusEnded {
		c.session.Status = domain.StatusRefining
	}

	if gradeErr != nil {
		// Oracle unreachable: keep the score, keep the conversation linear.
		c.session.Messages = append(c.session.Messages, domain.Message{Role: domain.RoleAssistant, Content: failureNotice})
		c.logger.Warn("Grading failed, turn resolved with failure notice",
			"user_id", c.ownerID, "session_id", c.sessionID, "error", gradeErr)
		c.notifyLocked(false)
		return &SubmitResult{
			RecordID: c.session.ID,
			Score:    c.session.Score,
			Feedback: failureNotice,
			Status:   c.session.Status,
			Failed:   true,
		}, nil
	}

	c.session.Messages = append(c.session.Messages, domain.Message{Role: domain.RoleAssistant, Content: result.Feedback})
	c.session.Score = result.Score

	completed := result.Score >= domain.CompletionScore && result.Feedback != "" && !c.session.HasOutput()
	var storeNotice string
	if completed {
		storeNotice = c.completeLocked(ctx, result)
	} else {
		storeNotice = c.updateRecordLocked(ctx, result)
	}

	c.notifyLocked(completed)
	return &SubmitResult{
		RecordID:    c.session.ID,
		Score:       c.session.Score,
		Feedback:    result.Feedback,
		Status:      c.session.Status,
		Completed:   completed,
		StoreNotice: storeNotice,
	}, nil
}

// completeLocked captures the architected output, persists the first durable
// record, and appends the continue/end offer. The persisted chat history
// excludes the offer message.
func (c *Controller) completeLocked(ctx context.Context, result grader.Result) string {
	c.session.ArchitectedOutput = result.Feedback
	c.session.Status = domain.StatusComplete

	original := c.session.FirstUserText()
	c.session.Title = domain.TitleFromText(original)

	record := &domain.PromptRecord{
		OwnerID:           c.ownerID,
		OriginalText:      original,
		ArchitectedPrompt: result.Feedback,
		Score:             result.Score,
		Title:             c.session.Title,
		ChatHistory:       slices.Clone(c.session.Messages),
	}

	var storeNotice string
	id, err := c.repo.CreatePrompt(ctx, record)
	if err != nil {
		c.logger.Error("Failed to persist completed session",
			"user_id", c.ownerID, "session_id", c.sessionID, "error", err)
		storeNotice = StoreNotice
	} else {
		c.session.ID = id
		c.refreshRecentLocked(ctx)
	}

	c.session.Messages = append(c.session.Messages, domain.Message{Role: domain.RoleAssistant, Content: completionNotice})
	c.logger.Info("Session completed",
		"user_id", c.ownerID, "session_id", c.sessionID, "record_id", c.session.ID, "score", result.Score)
	return storeNotice
}

// updateRecordLocked pushes the latest turn into an existing durable record.
// Sessions without a durable ID stay memory-only. The captured output is
// written back unchanged; it is set exactly once at completion.
func (c *Controller) updateRecordLocked(ctx context.Context, result grader.Result) string {
	if c.session.ID == "" {
		return ""
	}

	err := c.repo.UpdatePrompt(ctx, c.ownerID, c.session.ID, domain.PromptUpdate{
		ArchitectedPrompt: c.session.ArchitectedOutput,
		Score:             result.Score,
		ChatHistory:       slices.Clone(c.session.Messages),
	})
	if err != nil {
		c.logger.Error("Failed to update session record",
			"user_id", c.ownerID, "record_id", c.session.ID, "error", err)
		return StoreNotice
	}
	c.refreshRecentLocked(ctx)
	return ""
}

// Load replaces the in-memory state from a persisted record. A record with
// no stored turn history gets a synthesized two-message summary so there is
// something to render; this is a display fallback, not restored data.
func (c *Controller) Load(record *domain.PromptRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.inFlight = false
	c.lastActive = time.Now()

	messages := slices.Clone(record.ChatHistory)
	if len(messages) == 0 {
		messages = []domain.Message{
			{Role: domain.RoleUser, Content: record.OriginalText},
			{Role: domain.RoleAssistant, Content: restoredNotice},
		}
	}

	c.session = domain.Session{
		ID:                record.ID,
		OwnerID:           c.ownerID,
		Messages:          messages,
		Score:             record.Score,
		ArchitectedOutput: record.ArchitectedPrompt,
		Title:             record.Title,
		Status:            domain.StatusRefining,
	}
	c.notifyLocked(false)
}

// End resets all in-memory state. The durable record is untouched. A pending
// evaluation, if any, is invalidated.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked()
}

func (c *Controller) endLocked() {
	c.generation++
	c.inFlight = false
	c.session.Reset()
	c.lastActive = time.Now()
	c.notifyLocked(false)
}

// ContinueRefining returns a completed session to refinement without
// clearing the captured output.
func (c *Controller) ContinueRefining() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == domain.StatusComplete {
		c.session.Status = domain.StatusRefining
		c.notifyLocked(false)
	}
}

// Delete removes a durable record. Deleting an absent record is a no-op;
// deleting the active session's record also ends the session.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.repo.DeletePrompt(ctx, c.ownerID, id); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}

	c.mu.Lock()
	c.recent = slices.DeleteFunc(c.recent, func(r *domain.PromptRecord) bool {
		return r.ID == id
	})
	if c.session.ID == id && id != "" {
		c.endLocked()
	}
	c.mu.Unlock()
	return nil
}

// Recent returns the owner's recent records, most recent first.
func (c *Controller) Recent(ctx context.Context) ([]*domain.PromptRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshRecentLocked(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(c.recent), nil
}

func (c *Controller) refreshRecentLocked(ctx context.Context) error {
	records, err := c.repo.ListPrompts(ctx, c.ownerID, c.limit)
	if err != nil {
		c.logger.Warn("Failed to refresh recent sessions", "user_id", c.ownerID, "error", err)
		return fmt.Errorf("list session records: %w", err)
	}
	c.recent = records
	return nil
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.session
	snapshot.Messages = slices.Clone(c.session.Messages)
	return snapshot
}

// IdleSince reports the last time this controller saw activity.
func (c *Controller) IdleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Controller) notifyLocked(completed bool) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(Event{
		OwnerID:   c.ownerID,
		SessionID: c.sessionID,
		Status:    c.session.Status,
		Score:     c.session.Score,
		Completed: completed,
	})
}
