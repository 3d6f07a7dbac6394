package domain

import "time"

// User is an authenticated owner of refinement sessions. The engine only
// consumes the identity fact; credential handling lives outside this service.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
