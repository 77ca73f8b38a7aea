package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/rs/zerolog"
)

const rerankInstructions = `You are a relevance scoring assistant. Rate how relevant each document chunk is to the query.
Respond with ONLY a valid JSON array (no markdown, no explanation):
[{"index": 0, "score": 0.0}, {"index": 1, "score": 0.0}, ...]

Where score ranges from 0.0 (completely irrelevant) to 1.0 (perfectly relevant).

Query: %s
`

// Completer is the non-streaming generation primitive
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (*llm.Completion, error)
}

// Reranker rescores candidates with one batched model call
type Reranker struct {
	completer Completer
	timeout   time.Duration
	maxChars  int
	logger    zerolog.Logger
}

// NewReranker creates a reranker
func NewReranker(completer Completer, cfg *config.RetrievalConfig) *Reranker {
	timeout := cfg.RerankTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxChars := cfg.RerankChunkChars
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &Reranker{
		completer: completer,
		timeout:   timeout,
		maxChars:  maxChars,
		logger:    logging.NewLogger("reranker"),
	}
}

// Rerank scores every chunk against the query and returns the best limit of
// them by score. The boolean is false when scoring failed as a whole; the
// result is then the first limit chunks in their original order, scored 0.
func (r *Reranker) Rerank(ctx context.Context, model, query string, chunks []models.SearchResult, limit int) ([]models.SearchResult, bool) {
	if len(chunks) == 0 {
		return []models.SearchResult{}, true
	}
	if limit <= 0 || limit > len(chunks) {
		limit = len(chunks)
	}

	completion, err := r.completer.Complete(ctx, llm.ChatRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: r.prompt(query, chunks)}},
		Temperature: llm.Temperature(0),
		Timeout:     r.timeout,
	})
	if err != nil {
		r.logger.Warn().Err(err).Int("chunks", len(chunks)).Msg("Rerank scoring failed")
		return fallback(chunks, limit), false
	}

	scores, err := parseScores(completion.Content, len(chunks))
	if err != nil {
		r.logger.Warn().Err(err).Str("reply", logging.SanitizeForLog(completion.Content, 200)).Msg("Rerank reply unusable")
		return fallback(chunks, limit), false
	}

	scored := make([]models.SearchResult, len(chunks))
	for i, c := range chunks {
		s := scores[i]
		c.RerankScore = &s
		scored[i] = c
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].RerankScore > *scored[j].RerankScore
	})
	return scored[:limit], true
}

func (r *Reranker) prompt(query string, chunks []models.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, rerankInstructions, query)
	for i, c := range chunks {
		fmt.Fprintf(&b, "\nChunk %d:\n%s\n", i, truncateRunes(c.Content, r.maxChars))
	}
	return b.String()
}

type scoreEntry struct {
	Index *float64 `json:"index"`
	Score *float64 `json:"score"`
}

// parseScores maps a model reply onto one score per chunk. Entries with an
// out-of-range index or score are ignored, leaving that chunk at 0.
func parseScores(reply string, n int) ([]float64, error) {
	var entries []scoreEntry
	if err := json.Unmarshal([]byte(llm.CleanJSONReply(reply)), &entries); err != nil {
		return nil, fmt.Errorf("invalid score array: %w", err)
	}

	scores := make([]float64, n)
	for _, e := range entries {
		if e.Index == nil || e.Score == nil {
			continue
		}
		idx, score := *e.Index, *e.Score
		if idx < 0 || idx != math.Trunc(idx) || int(idx) >= n {
			continue
		}
		if score < 0 || score > 1 || math.IsNaN(score) {
			continue
		}
		scores[int(idx)] = score
	}
	return scores, nil
}

func fallback(chunks []models.SearchResult, limit int) []models.SearchResult {
	monitoring.RecordRerankFallback()
	out := make([]models.SearchResult, limit)
	for i := 0; i < limit; i++ {
		c := chunks[i]
		zero := 0.0
		c.RerankScore = &zero
		out[i] = c
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
