package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/docagent/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const documentColumns = `id, user_id, filename, file_type, file_size, storage_path, content_hash,
	status, chunk_count, page_count, metadata, error_message, created_at, updated_at`

// DocumentStore handles documents and their chunks
type DocumentStore struct {
	db *pgxpool.Pool
}

// NewDocumentStore creates a document store
func NewDocumentStore(db *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{db: db}
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.UserID, &d.Filename, &d.FileType, &d.FileSize, &d.StoragePath,
		&d.ContentHash, &d.Status, &d.ChunkCount, &d.PageCount, &d.Metadata,
		&d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *DocumentStore) queryDocuments(ctx context.Context, sql string, args ...any) ([]*models.Document, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Create inserts a new document row
func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusPending
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO documents (id, user_id, filename, file_type, file_size, storage_path, content_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, doc.ID, doc.UserID, doc.Filename, doc.FileType, doc.FileSize, doc.StoragePath,
		doc.ContentHash, doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// Get returns a document owned by userID
func (s *DocumentStore) Get(ctx context.Context, userID string, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, err
}

// Load returns a document regardless of owner; used by background processing
func (s *DocumentStore) Load(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return doc, err
}

// List returns a user's documents, newest first
func (s *DocumentStore) List(ctx context.Context, userID string) ([]*models.Document, error) {
	docs, err := s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// FindByHash returns the user's document with identical content, if any
func (s *DocumentStore) FindByHash(ctx context.Context, userID, hash string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE user_id = $1 AND content_hash = $2
		ORDER BY created_at DESC LIMIT 1
	`, userID, hash))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to find document by hash: %w", err)
	}
	return doc, err
}

// FindByFilename returns every document of the user with the given name
func (s *DocumentStore) FindByFilename(ctx context.Context, userID, filename string) ([]*models.Document, error) {
	docs, err := s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 AND filename = $2`, userID, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents by filename: %w", err)
	}
	return docs, nil
}

// Delete removes a document; its chunks cascade
func (s *DocumentStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus moves a document to a new processing status
func (s *DocumentStore) SetStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set document status: %w", err)
	}
	return nil
}

// SetPageCount records the page count of a paginated source file
func (s *DocumentStore) SetPageCount(ctx context.Context, id uuid.UUID, pages int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET page_count = $2, updated_at = now() WHERE id = $1`, id, pages)
	if err != nil {
		return fmt.Errorf("failed to set page count: %w", err)
	}
	return nil
}

// SetMetadata stores extracted metadata
func (s *DocumentStore) SetMetadata(ctx context.Context, id uuid.UUID, meta *models.DocumentMetadata) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET metadata = $2, updated_at = now() WHERE id = $1`, id, meta)
	if err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}
	return nil
}

// MarkCompleted finishes processing
func (s *DocumentStore) MarkCompleted(ctx context.Context, id uuid.UUID, chunkCount int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $2, chunk_count = $3, error_message = NULL, updated_at = now()
		WHERE id = $1
	`, id, models.DocumentStatusCompleted, chunkCount)
	if err != nil {
		return fmt.Errorf("failed to mark document completed: %w", err)
	}
	return nil
}

// MarkError records a processing failure
func (s *DocumentStore) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`, id, models.DocumentStatusError, message)
	if err != nil {
		return fmt.Errorf("failed to mark document error: %w", err)
	}
	return nil
}

// InsertChunks replaces a document's chunks in one transaction
func (s *DocumentStore) InsertChunks(ctx context.Context, documentID uuid.UUID, chunks []models.Chunk) error {
	defer observe("insert_chunks", time.Now())

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, user_id, content, chunk_index, content_hash, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ID, documentID, c.UserID, c.Content, c.ChunkIndex, c.ContentHash, pgvector.NewVector(c.Embedding))
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	return tx.Commit(ctx)
}

// ChunksForDocument returns up to limit chunks of a user's document in order
func (s *DocumentStore) ChunksForDocument(ctx context.Context, userID string, documentID uuid.UUID, limit int) ([]models.Chunk, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, user_id, content, chunk_index, content_hash, created_at
		FROM document_chunks
		WHERE document_id = $1 AND user_id = $2
		ORDER BY chunk_index
		LIMIT $3
	`, documentID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.Content, &c.ChunkIndex, &c.ContentHash, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
