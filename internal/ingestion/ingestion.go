// Package ingestion stores uploaded documents and turns them into searchable
// chunks in the background.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aimerfeng/docagent/internal/chunker"
	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/aimerfeng/docagent/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service errors
var (
	ErrNoContent       = errors.New("No content to process")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotFound        = errors.New("Document not found")
)

// DocumentStore is the persistence the pipeline needs
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, userID string, id uuid.UUID) (*models.Document, error)
	Load(ctx context.Context, id uuid.UUID) (*models.Document, error)
	List(ctx context.Context, userID string) ([]*models.Document, error)
	FindByHash(ctx context.Context, userID, hash string) (*models.Document, error)
	FindByFilename(ctx context.Context, userID, filename string) ([]*models.Document, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error
	SetPageCount(ctx context.Context, id uuid.UUID, pages int) error
	SetMetadata(ctx context.Context, id uuid.UUID, meta *models.DocumentMetadata) error
	MarkCompleted(ctx context.Context, id uuid.UUID, chunkCount int) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
	InsertChunks(ctx context.Context, documentID uuid.UUID, chunks []models.Chunk) error
}

// Embedder produces one vector per text, in order
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TextParser extracts plain text from uploaded bytes
type TextParser interface {
	Parse(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

// FileHeader is an uploaded file
type FileHeader struct {
	Filename string
	MimeType string
	Data     []byte
}

// UploadResult is the outcome of an upload. Duplicate uploads return the
// existing document and write nothing.
type UploadResult struct {
	Document  *models.Document
	Duplicate bool
}

// Deps are the collaborators of a Service
type Deps struct {
	Store     DocumentStore
	Blobs     BlobStore
	Parser    TextParser
	Chunker   *chunker.Chunker
	Embedder  Embedder
	Completer Completer
	Active    *llm.ActiveModel
}

// Service runs uploads and background processing
type Service struct {
	store     DocumentStore
	blobs     BlobStore
	parser    TextParser
	chunker   *chunker.Chunker
	embedder  Embedder
	completer Completer
	active    *llm.ActiveModel

	metadataMaxChars int
	metadataTimeout  time.Duration

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewService creates an ingestion service
func NewService(deps Deps, cfg *config.IngestionConfig) *Service {
	s := &Service{
		store:            deps.Store,
		blobs:            deps.Blobs,
		parser:           deps.Parser,
		chunker:          deps.Chunker,
		embedder:         deps.Embedder,
		completer:        deps.Completer,
		active:           deps.Active,
		metadataMaxChars: cfg.MetadataMaxChars,
		metadataTimeout:  cfg.MetadataTimeout,
		logger:           logging.NewLogger("ingestion"),
	}
	if s.chunker == nil {
		s.chunker = chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap))
	}
	if s.metadataMaxChars <= 0 {
		s.metadataMaxChars = defaultMetadataMaxChars
	}
	if s.metadataTimeout <= 0 {
		s.metadataTimeout = defaultMetadataTimeout
	}
	return s
}

// Upload stores a file and schedules its processing
func (s *Service) Upload(ctx context.Context, userID string, file FileHeader) (*UploadResult, error) {
	hash := chunker.HashBytes(file.Data)

	existing, err := s.store.FindByHash(ctx, userID, hash)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		s.logger.Info().
			Str("user_id", userID).
			Str("document_id", existing.ID.String()).
			Msg("Duplicate upload skipped")
		return &UploadResult{Document: existing, Duplicate: true}, nil
	}

	if err := s.supersede(ctx, userID, file.Filename); err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:          uuid.New(),
		UserID:      userID,
		Filename:    file.Filename,
		FileType:    file.MimeType,
		FileSize:    int64(len(file.Data)),
		ContentHash: hash,
		Status:      models.DocumentStatusPending,
	}
	doc.StoragePath = storagePath(userID, doc.ID.String(), file.Filename)

	if err := s.blobs.Put(ctx, doc.StoragePath, file.Data); err != nil {
		return nil, fmt.Errorf("Storage upload failed: %w", err)
	}
	if err := s.store.Create(ctx, doc); err != nil {
		_ = s.blobs.Remove(context.WithoutCancel(ctx), doc.StoragePath)
		return nil, err
	}

	logging.LogIngestion(doc.ID.String(), userID, string(doc.Status), 0, nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Process(context.WithoutCancel(ctx), doc.ID)
	}()

	return &UploadResult{Document: doc}, nil
}

// supersede removes earlier versions of the same file name
func (s *Service) supersede(ctx context.Context, userID, filename string) error {
	previous, err := s.store.FindByFilename(ctx, userID, filename)
	if err != nil {
		return err
	}
	for _, old := range previous {
		if err := s.remove(ctx, old); err != nil {
			return err
		}
		s.logger.Info().
			Str("user_id", userID).
			Str("document_id", old.ID.String()).
			Str("filename", filename).
			Msg("Superseded previous version")
	}
	return nil
}

// Process parses, chunks, embeds and describes a stored document. Failures
// leave the document in the error status; nothing is retried.
func (s *Service) Process(ctx context.Context, docID uuid.UUID) error {
	start := time.Now()

	doc, err := s.store.Load(ctx, docID)
	if err != nil {
		s.logger.Error().Err(err).Str("document_id", docID.String()).Msg("Failed to load document for processing")
		return err
	}

	chunkCount, err := s.process(ctx, doc)
	if err != nil {
		if markErr := s.store.MarkError(ctx, doc.ID, err.Error()); markErr != nil {
			logging.LogError(markErr, "", "ingestion", "mark_error")
		}
		logging.LogIngestion(doc.ID.String(), doc.UserID, string(models.DocumentStatusError), 0, err)
		monitoring.RecordIngestion(string(models.DocumentStatusError), 0, time.Since(start))
		return err
	}

	logging.LogIngestion(doc.ID.String(), doc.UserID, string(models.DocumentStatusCompleted), chunkCount, nil)
	monitoring.RecordIngestion(string(models.DocumentStatusCompleted), chunkCount, time.Since(start))
	return nil
}

func (s *Service) process(ctx context.Context, doc *models.Document) (int, error) {
	if err := s.store.SetStatus(ctx, doc.ID, models.DocumentStatusProcessing); err != nil {
		return 0, err
	}

	data, err := s.blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("Download failed: %w", err)
	}

	if isPDF(doc.Filename, doc.FileType) {
		pages, err := pdfPageCount(data)
		if err != nil {
			return 0, err
		}
		if err := s.store.SetPageCount(ctx, doc.ID, pages); err != nil {
			return 0, err
		}
	}

	text, err := s.parser.Parse(ctx, data, doc.Filename, doc.FileType)
	if err != nil {
		return 0, err
	}

	pieces := s.chunker.Split(text)
	if len(pieces) == 0 {
		return 0, ErrNoContent
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding failed: %w", err)
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			UserID:      doc.UserID,
			Content:     p.Content,
			ChunkIndex:  p.Index,
			ContentHash: chunker.HashString(p.Content),
			Embedding:   vectors[i],
		}
	}
	if err := s.store.InsertChunks(ctx, doc.ID, chunks); err != nil {
		return 0, fmt.Errorf("Chunk insert failed: %w", err)
	}

	if err := s.store.SetStatus(ctx, doc.ID, models.DocumentStatusExtracting); err != nil {
		return 0, err
	}
	s.describe(ctx, doc, text)

	if err := s.store.MarkCompleted(ctx, doc.ID, len(chunks)); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// describe attaches extracted metadata. The document completes either way.
func (s *Service) describe(ctx context.Context, doc *models.Document, text string) {
	if s.completer == nil {
		return
	}
	meta, err := s.extractMetadata(ctx, text)
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("Metadata extraction failed")
		return
	}
	if err := s.store.SetMetadata(ctx, doc.ID, meta); err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("Failed to store metadata")
	}
}

// List returns the user's documents, newest first
func (s *Service) List(ctx context.Context, userID string) ([]*models.Document, error) {
	return s.store.List(ctx, userID)
}

// Get returns one of the user's documents
func (s *Service) Get(ctx context.Context, userID string, docID uuid.UUID) (*models.Document, error) {
	doc, err := s.store.Get(ctx, userID, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return doc, err
}

// Delete removes a document, its chunks and its stored file
func (s *Service) Delete(ctx context.Context, userID string, docID uuid.UUID) error {
	doc, err := s.store.Get(ctx, userID, docID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return s.remove(ctx, doc)
}

func (s *Service) remove(ctx context.Context, doc *models.Document) error {
	if err := s.blobs.Remove(ctx, doc.StoragePath); err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("Failed to remove stored file")
	}
	err := s.store.Delete(ctx, doc.UserID, doc.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Wait blocks until in-flight processing finishes or ctx is done
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
