// Package domain contains core domain types for the Lumina refinement engine.
package domain

import "strings"

// Status describes where a refinement session is in its lifecycle.
type Status string

const (
	// StatusEmpty means no turns have been submitted yet.
	StatusEmpty Status = "EMPTY"
	// StatusRefining means at least one turn exists and the completion
	// criterion has not been met.
	StatusRefining Status = "REFINING"
	// StatusComplete means the architected output has been captured and the
	// user has been offered the continue/end choice.
	StatusComplete Status = "COMPLETE"
	// StatusEnded is terminal for this session instance. A new submission
	// starts a fresh session.
	StatusEnded Status = "ENDED"
)

// Message roles. The engine only ever appends these two.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Score thresholds. Completion is captured at the top of the scale while the
// surrounding UI displays captured output from 90 upward. The asymmetry is
// observed product behavior and must not be unified here.
const (
	CompletionScore = 100
	DisplayScore    = 90
)

// Message is a single immutable conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is one logical refinement conversation. It has no durable identity
// (empty ID) until the completion criterion is first met.
type Session struct {
	ID                string    `json:"id,omitempty"`
	OwnerID           string    `json:"owner_id"`
	Messages          []Message `json:"messages"`
	Score             int       `json:"score"`
	ArchitectedOutput string    `json:"architected_output,omitempty"`
	Title             string    `json:"title,omitempty"`
	Status            Status    `json:"status"`
}

// FirstUserText returns the content of the first user turn, or "" if none.
func (s *Session) FirstUserText() string {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// HasOutput reports whether the architected output has been captured.
func (s *Session) HasOutput() bool {
	return s.ArchitectedOutput != ""
}

// DisplayOutput reports whether the captured output has crossed the display
// threshold used by the surrounding UI.
func (s *Session) DisplayOutput() bool {
	return s.HasOutput() && s.Score >= DisplayScore
}

// Reset clears all in-memory state and marks the session ended. The durable
// record, if any, is untouched.
func (s *Session) Reset() {
	s.ID = ""
	s.Messages = nil
	s.Score = 0
	s.ArchitectedOutput = ""
	s.Title = ""
	s.Status = StatusEnded
}

// TitleFromText derives a session title from the first words of the original
// user text.
func TitleFromText(text string) string {
	words := strings.Fields(text)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ") + "..."
}
