// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
)

// DefaultHistoryLimit bounds the "recent sessions" listing.
const DefaultHistoryLimit = 10

// Repository defines the interface for persisting owners and prompt records.
// All prompt operations are scoped to the caller's owner ID: reads against
// another owner's record report not-found, writes silently affect zero rows.
type Repository interface {
	// GetUser retrieves an owner by ID. Returns (nil, nil) when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates an owner record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for an owner.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreatePrompt persists a new prompt record, assigns its ID and creation
	// time, and returns the ID.
	CreatePrompt(ctx context.Context, record *domain.PromptRecord) (string, error)

	// GetPrompt retrieves a single prompt record scoped to the owner.
	// Returns (nil, nil) when absent or owned by someone else.
	GetPrompt(ctx context.Context, ownerID, id string) (*domain.PromptRecord, error)

	// UpdatePrompt applies a partial update to an owner's record. Updating a
	// record that does not exist for this owner affects nothing.
	UpdatePrompt(ctx context.Context, ownerID, id string, upd domain.PromptUpdate) error

	// ListPrompts returns the owner's records, most recent first, bounded by
	// limit (DefaultHistoryLimit when limit <= 0).
	ListPrompts(ctx context.Context, ownerID string, limit int) ([]*domain.PromptRecord, error)

	// DeletePrompt removes an owner's record. Deleting an absent record is a
	// no-op, not an error.
	DeletePrompt(ctx context.Context, ownerID, id string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
