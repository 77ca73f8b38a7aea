package models

import "github.com/google/uuid"

// SearchResult is a chunk returned by a retrieval strategy. Score fields are
// filled by whichever stage produced them and are never overwritten by later stages.
type SearchResult struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Content     string    `json:"content"`
	ChunkIndex  int       `json:"chunk_index"`
	Filename    string    `json:"filename,omitempty"`
	Similarity  *float64  `json:"similarity,omitempty"`
	RankScore   *float64  `json:"rank_score,omitempty"`
	RRFScore    *float64  `json:"rrf_score,omitempty"`
	RerankScore *float64  `json:"rerank_score,omitempty"`
}

// MetadataFilter narrows a search to documents whose extracted metadata matches
type MetadataFilter struct {
	Topic        string `json:"topic,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
}

// IsEmpty reports whether the filter constrains nothing
func (f *MetadataFilter) IsEmpty() bool {
	return f == nil || (f.Topic == "" && f.DocumentType == "")
}
