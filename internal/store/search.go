package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aimerfeng/docagent/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// VectorQuery describes a similarity search
type VectorQuery struct {
	Embedding []float32
	UserID    string
	Limit     int
	Threshold float64
	// DocumentIDs restricts the search when non-nil
	DocumentIDs []uuid.UUID
}

// KeywordQuery describes a full-text search
type KeywordQuery struct {
	Text        string
	UserID      string
	Limit       int
	DocumentIDs []uuid.UUID
}

// SearchVector returns chunks ordered by cosine similarity, at or above the threshold
func (s *DocumentStore) SearchVector(ctx context.Context, q VectorQuery) ([]models.SearchResult, error) {
	defer observe("search_vector", time.Now())

	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.document_id, c.content, c.chunk_index, d.filename,
			1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.user_id = $2
			AND c.embedding IS NOT NULL
			AND 1 - (c.embedding <=> $1) >= $3
			AND ($5::uuid[] IS NULL OR c.document_id = ANY($5::uuid[]))
		ORDER BY c.embedding <=> $1
		LIMIT $4
	`, pgvector.NewVector(q.Embedding), q.UserID, q.Threshold, q.Limit, q.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results, err := collectResults(rows, func(r *models.SearchResult, score float64) {
		r.Similarity = &score
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return results, nil
}

// SearchKeyword returns chunks ordered by full-text rank
func (s *DocumentStore) SearchKeyword(ctx context.Context, q KeywordQuery) ([]models.SearchResult, error) {
	defer observe("search_keyword", time.Now())

	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.document_id, c.content, c.chunk_index, d.filename,
			ts_rank_cd(c.content_tsv, query) AS rank_score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id,
			websearch_to_tsquery('english', $1) query
		WHERE c.user_id = $2
			AND c.content_tsv @@ query
			AND ($4::uuid[] IS NULL OR c.document_id = ANY($4::uuid[]))
		ORDER BY rank_score DESC, c.id
		LIMIT $3
	`, q.Text, q.UserID, q.Limit, q.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results, err := collectResults(rows, func(r *models.SearchResult, score float64) {
		r.RankScore = &score
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	return results, nil
}

func collectResults(rows pgx.Rows, setScore func(*models.SearchResult, float64)) ([]models.SearchResult, error) {
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var (
			r     models.SearchResult
			score float64
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Content, &r.ChunkIndex, &r.Filename, &score); err != nil {
			return nil, err
		}
		setScore(&r, score)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ResolveMetadataFilter returns the IDs of the user's completed documents whose
// metadata matches. Topic is a case-insensitive substring match and document
// type is exact. The result is never nil.
func (s *DocumentStore) ResolveMetadataFilter(ctx context.Context, userID string, filter *models.MetadataFilter) ([]uuid.UUID, error) {
	defer observe("resolve_metadata_filter", time.Now())

	var topic, docType *string
	if filter != nil && filter.Topic != "" {
		topic = &filter.Topic
	}
	if filter != nil && filter.DocumentType != "" {
		docType = &filter.DocumentType
	}

	rows, err := s.db.Query(ctx, `
		SELECT id FROM documents
		WHERE user_id = $1
			AND status = 'completed'
			AND metadata IS NOT NULL
			AND ($2::text IS NULL OR metadata->>'topic' ILIKE '%' || $2::text || '%')
			AND ($3::text IS NULL OR metadata->>'document_type' = $3::text)
	`, userID, topic, docType)
	if err != nil {
		return nil, fmt.Errorf("metadata filter failed: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("metadata filter failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
