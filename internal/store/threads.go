package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimerfeng/docagent/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ThreadStore handles conversation threads
type ThreadStore struct {
	db *pgxpool.Pool
}

// NewThreadStore creates a thread store
func NewThreadStore(db *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{db: db}
}

// List returns the user's threads, most recently updated first, without messages
func (s *ThreadStore) List(ctx context.Context, userID string) ([]models.Thread, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM threads WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	threads := []models.Thread{}
	for rows.Next() {
		var t models.Thread
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// Create inserts a thread; an empty title becomes the default
func (s *ThreadStore) Create(ctx context.Context, userID, title string) (*models.Thread, error) {
	if title == "" {
		title = models.DefaultThreadTitle
	}

	t := models.Thread{ID: uuid.New(), UserID: userID, Title: title, Messages: []models.Message{}}
	err := s.db.QueryRow(ctx, `
		INSERT INTO threads (id, user_id, title) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.Title).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return &t, nil
}

// Get returns a thread with its messages
func (s *ThreadStore) Get(ctx context.Context, userID string, id uuid.UUID) (*models.Thread, error) {
	var t models.Thread
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, title, messages, created_at, updated_at
		FROM threads WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&t.ID, &t.UserID, &t.Title, &t.Messages, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	if t.Messages == nil {
		t.Messages = []models.Message{}
	}
	return &t, nil
}

// Rename sets a thread's title
func (s *ThreadStore) Rename(ctx context.Context, userID string, id uuid.UUID, title string) (*models.Thread, error) {
	var t models.Thread
	err := s.db.QueryRow(ctx, `
		UPDATE threads SET title = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, title, created_at, updated_at
	`, id, userID, title).Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to rename thread: %w", err)
	}
	return &t, nil
}

// Delete removes a thread
func (s *ThreadStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM threads WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurn appends one user/assistant exchange and optionally sets the title
// in a single statement. It is the only write a chat turn performs.
func (s *ThreadStore) AppendTurn(ctx context.Context, userID string, id uuid.UUID, user, assistant models.Message, title *string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE threads
		SET messages = messages || $3::jsonb,
			title = COALESCE($4::text, title),
			updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, id, userID, []models.Message{user, assistant}, title)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
