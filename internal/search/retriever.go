package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/aimerfeng/docagent/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mode selects the retrieval strategies
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// ParseMode validates a mode name; empty means hybrid
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModeVector, ModeKeyword:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown search mode %q", s)
	}
}

// candidate pool multiplier when reranking
const rerankFetchFactor = 3

// cosine similarity lower bound; disables the floor
const noThreshold = -1.0

// ChunkStore is the document store surface retrieval needs
type ChunkStore interface {
	SearchVector(ctx context.Context, q store.VectorQuery) ([]models.SearchResult, error)
	SearchKeyword(ctx context.Context, q store.KeywordQuery) ([]models.SearchResult, error)
	ResolveMetadataFilter(ctx context.Context, userID string, filter *models.MetadataFilter) ([]uuid.UUID, error)
}

// QueryEmbedder embeds a search query
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tunes one search. Nil pointers and zero values take the configured defaults.
type Options struct {
	Limit          int
	Threshold      *float64
	Mode           Mode
	MetadataFilter *models.MetadataFilter
	DocumentID     *uuid.UUID
	Rerank         *bool
	// Model is the generation model used for reranking
	Model string
}

// Meta describes how a result set was produced
type Meta struct {
	SearchMode        Mode     `json:"search_mode"`
	Reranked          bool     `json:"reranked"`
	StrategiesRun     []string `json:"strategies_run"`
	StrategiesFailed  []string `json:"strategies_failed,omitempty"`
	FilteredDocuments *int     `json:"filtered_documents,omitempty"`
}

// Result is a ranked chunk list plus provenance
type Result struct {
	Chunks []models.SearchResult `json:"chunks"`
	Meta   Meta                  `json:"meta"`
}

// Retriever composes the strategies into one search call
type Retriever struct {
	store    ChunkStore
	embedder QueryEmbedder
	reranker *Reranker
	cfg      config.RetrievalConfig
	logger   zerolog.Logger
}

// NewRetriever creates a retriever
func NewRetriever(store ChunkStore, embedder QueryEmbedder, reranker *Reranker, cfg *config.RetrievalConfig) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		cfg:      *cfg,
		logger:   logging.NewLogger("retriever"),
	}
}

// Search runs the configured strategies for userID. Strategy failures are
// logged and treated as empty lists; Search itself only fails on bad options.
func (r *Retriever) Search(ctx context.Context, query, userID string, opts Options) (*Result, error) {
	start := time.Now()

	limit := opts.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}
	threshold := r.cfg.SimilarityThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	mode := opts.Mode
	if mode == "" {
		var err error
		if mode, err = ParseMode(r.cfg.DefaultMode); err != nil {
			return nil, err
		}
	} else if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	rerank := r.cfg.RerankEnabled && r.reranker != nil
	if opts.Rerank != nil {
		rerank = *opts.Rerank && r.reranker != nil
	}

	result := &Result{
		Chunks: []models.SearchResult{},
		Meta:   Meta{SearchMode: mode, StrategiesRun: []string{}},
	}

	documentIDs, empty := r.scope(ctx, userID, opts)
	if documentIDs != nil {
		n := len(documentIDs)
		result.Meta.FilteredDocuments = &n
	}
	if empty {
		return result, nil
	}

	fetch := limit
	if rerank {
		fetch = limit * rerankFetchFactor
	}

	// the similarity floor only applies when vector search runs alone
	if mode != ModeVector {
		threshold = noThreshold
	}
	vector := func() ([]models.SearchResult, error) {
		return r.searchVector(ctx, query, userID, fetch, threshold, documentIDs)
	}
	keyword := func() ([]models.SearchResult, error) {
		return r.store.SearchKeyword(ctx, store.KeywordQuery{Text: query, UserID: userID, Limit: fetch, DocumentIDs: documentIDs})
	}

	var runs []strategyRun
	switch mode {
	case ModeVector:
		runs = []strategyRun{r.run("vector", vector)}
	case ModeKeyword:
		runs = []strategyRun{r.run("keyword", keyword)}
	default:
		runs = make([]strategyRun, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			runs[0] = r.run("vector", vector)
		}()
		go func() {
			defer wg.Done()
			runs[1] = r.run("keyword", keyword)
		}()
		wg.Wait()
	}

	lists := make([][]models.SearchResult, 0, len(runs))
	var failed []string
	for _, run := range runs {
		result.Meta.StrategiesRun = append(result.Meta.StrategiesRun, run.name)
		if run.failed {
			failed = append(failed, run.name)
		}
		lists = append(lists, run.results)
	}
	result.Meta.StrategiesFailed = failed

	var candidates []models.SearchResult
	if mode == ModeHybrid {
		candidates = Fuse(lists, DefaultRRFK)
	} else {
		candidates = lists[0]
	}
	if len(candidates) > fetch {
		candidates = candidates[:fetch]
	}

	if rerank && len(candidates) > 0 {
		reranked, ok := r.reranker.Rerank(ctx, opts.Model, query, candidates, limit)
		result.Chunks = reranked
		result.Meta.Reranked = ok
	} else {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		if candidates != nil {
			result.Chunks = candidates
		}
	}

	monitoring.RecordSearch(string(mode), result.Meta.Reranked, time.Since(start))
	r.logger.Debug().
		Str("mode", string(mode)).
		Int("results", len(result.Chunks)).
		Bool("reranked", result.Meta.Reranked).
		Strs("failed", failed).
		Dur("latency", time.Since(start)).
		Msg("Search completed")

	return result, nil
}

type strategyRun struct {
	name    string
	results []models.SearchResult
	failed  bool
}

func (r *Retriever) run(name string, fn func() ([]models.SearchResult, error)) strategyRun {
	results, err := fn()
	monitoring.RecordSearchRun(name, err != nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("strategy", name).Msg("Search strategy failed")
		return strategyRun{name: name, failed: true}
	}
	return strategyRun{name: name, results: results}
}

func (r *Retriever) searchVector(ctx context.Context, query, userID string, limit int, threshold float64, documentIDs []uuid.UUID) ([]models.SearchResult, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.store.SearchVector(ctx, store.VectorQuery{
		Embedding:   embedding,
		UserID:      userID,
		Limit:       limit,
		Threshold:   threshold,
		DocumentIDs: documentIDs,
	})
}

// scope resolves the metadata filter and document restriction into a set of
// document IDs. A nil set means unrestricted; empty reports that nothing can match.
func (r *Retriever) scope(ctx context.Context, userID string, opts Options) (ids []uuid.UUID, empty bool) {
	if !opts.MetadataFilter.IsEmpty() {
		resolved, err := r.store.ResolveMetadataFilter(ctx, userID, opts.MetadataFilter)
		switch {
		case err != nil:
			// fall through to an unfiltered search
			r.logger.Warn().Err(err).Msg("Metadata filter failed")
		case len(resolved) == 0:
			return []uuid.UUID{}, true
		default:
			ids = resolved
		}
	}

	if opts.DocumentID != nil {
		if ids == nil {
			return []uuid.UUID{*opts.DocumentID}, false
		}
		for _, id := range ids {
			if id == *opts.DocumentID {
				return []uuid.UUID{id}, false
			}
		}
		return []uuid.UUID{}, true
	}

	return ids, false
}
