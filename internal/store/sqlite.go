package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
	"github.com/neelsabhaya/lumina.ai/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		original_text TEXT NOT NULL,
		architected_prompt TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		chat_history TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_owner_created ON prompts(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves an owner by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates an owner record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for an owner.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// CreatePrompt persists a new prompt record and returns the assigned ID.
func (s *SQLiteStore) CreatePrompt(ctx context.Context, record *domain.PromptRecord) (string, error) {
	history, err := json.Marshal(record.ChatHistory)
	if err != nil {
		return "", fmt.Errorf("marshal chat history: %w", err)
	}

	record.ID = uuid.NewString()
	record.CreatedAt = time.Now()

	query := `
	INSERT INTO prompts (id, user_id, original_text, architected_prompt, score, title, chat_history, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.OwnerID, record.OriginalText, record.ArchitectedPrompt,
		record.Score, record.Title, string(history), record.CreatedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert prompt: %w", err)
	}
	return record.ID, nil
}

// GetPrompt retrieves a single owner-scoped prompt record.
func (s *SQLiteStore) GetPrompt(ctx context.Context, ownerID, id string) (*domain.PromptRecord, error) {
	query := `
		SELECT id, user_id, original_text, architected_prompt, score, title, chat_history, created_at
		FROM prompts WHERE id = ? AND user_id = ?`

	record, err := scanPrompt(s.db.QueryRowContext(ctx, query, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt row: %w", err)
	}
	return record, nil
}

// UpdatePrompt applies a partial update to an owner's record.
func (s *SQLiteStore) UpdatePrompt(ctx context.Context, ownerID, id string, upd domain.PromptUpdate) error {
	history, err := json.Marshal(upd.ChatHistory)
	if err != nil {
		return fmt.Errorf("marshal chat history: %w", err)
	}

	query := `
	UPDATE prompts SET architected_prompt = ?, score = ?, chat_history = ?
	WHERE id = ? AND user_id = ?`

	result, err := s.db.ExecContext(ctx, query,
		upd.ArchitectedPrompt, upd.Score, string(history), id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdatePrompt affected 0 rows", "prompt_id", id, "user_id", ownerID)
	}

	return nil
}

// ListPrompts returns the owner's records, most recent first.
func (s *SQLiteStore) ListPrompts(ctx context.Context, ownerID string, limit int) ([]*domain.PromptRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT id, user_id, original_text, architected_prompt, score, title, chat_history, created_at
		FROM prompts WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close prompt rows", "error", closeErr)
		}
	}()

	var records []*domain.PromptRecord
	for rows.Next() {
		record, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}

	return records, nil
}

// DeletePrompt removes an owner's record. Retries with exponential backoff
// to ride out SQLITE_BUSY while a concurrent write is flushing.
func (s *SQLiteStore) DeletePrompt(ctx context.Context, ownerID, id string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deletePromptOnce(ctx, ownerID, id)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
				slog.Debug("DeletePrompt failed with SQLITE_BUSY, retrying",
					"prompt_id", id,
					"user_id", ownerID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		return fmt.Errorf("failed to delete prompt %s after %d attempts: %w", id, maxRetries, err)
	}

	return nil
}

func (s *SQLiteStore) deletePromptOnce(ctx context.Context, ownerID, id string) error {
	query := `DELETE FROM prompts WHERE id = ? AND user_id = ?`
	_, err := s.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row scanner) (*domain.PromptRecord, error) {
	var record domain.PromptRecord
	var history string
	var createdAt int64

	err := row.Scan(
		&record.ID, &record.OwnerID, &record.OriginalText, &record.ArchitectedPrompt,
		&record.Score, &record.Title, &history, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	record.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(history), &record.ChatHistory); err != nil {
		return nil, fmt.Errorf("unmarshal chat history: %w", err)
	}

	return &record, nil
}
