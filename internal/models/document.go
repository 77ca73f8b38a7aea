package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus represents the ingestion status of a document
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusExtracting DocumentStatus = "extracting"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusError      DocumentStatus = "error"
	DocumentStatusDuplicate  DocumentStatus = "duplicate"
)

// DocumentTypes is the closed set of values metadata extraction may assign
var DocumentTypes = []string{
	"article", "report", "tutorial", "documentation", "email", "memo", "legal", "academic", "other",
}

// DocumentMetadata is the model-extracted description of a document
type DocumentMetadata struct {
	Topic        string   `json:"topic" validate:"required"`
	DocumentType string   `json:"document_type" validate:"required,oneof=article report tutorial documentation email memo legal academic other"`
	KeyEntities  []string `json:"key_entities" validate:"max=10"`
	Summary      string   `json:"summary" validate:"max=500"`
	Language     string   `json:"language" validate:"required"`
}

// Document represents an uploaded file owned by one user
type Document struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	UserID       string            `json:"user_id" db:"user_id"`
	Filename     string            `json:"filename" db:"filename"`
	FileType     string            `json:"file_type" db:"file_type"`
	FileSize     int64             `json:"file_size" db:"file_size"`
	StoragePath  string            `json:"storage_path" db:"storage_path"`
	ContentHash  string            `json:"content_hash" db:"content_hash"`
	Status       DocumentStatus    `json:"status" db:"status"`
	ChunkCount   int               `json:"chunk_count" db:"chunk_count"`
	PageCount    *int              `json:"page_count,omitempty" db:"page_count"`
	Metadata     *DocumentMetadata `json:"metadata" db:"metadata"`
	ErrorMessage *string           `json:"error_message" db:"error_message"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Chunk is one contiguous span of a document's text plus its embedding
type Chunk struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DocumentID  uuid.UUID `json:"document_id" db:"document_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Content     string    `json:"content" db:"content"`
	ChunkIndex  int       `json:"chunk_index" db:"chunk_index"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Embedding   []float32 `json:"-" db:"embedding"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
