package domain

import "time"

// PromptRecord is the durable, owner-scoped representation of a refinement
// session. ChatHistory holds the full turn log at the time of the last write.
type PromptRecord struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	OriginalText      string    `json:"original_text"`
	ArchitectedPrompt string    `json:"architected_prompt"`
	Score             int       `json:"score"`
	Title             string    `json:"title"`
	ChatHistory       []Message `json:"chat_history"`
	CreatedAt         time.Time `json:"created_at"`
}

// PromptUpdate carries the fields an existing record may receive on a
// subsequent turn. The title is derived once at creation and never recomputed.
type PromptUpdate struct {
	ArchitectedPrompt string
	Score             int
	ChatHistory       []Message
}
