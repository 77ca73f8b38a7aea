package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultThreadTitle is assigned to threads created without a title
const DefaultThreadTitle = "New Chat"

// Message roles stored on a thread
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored conversational turn half
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Thread is a persisted conversation owned by one user
type Thread struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Messages  []Message `json:"messages,omitempty" db:"messages"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
