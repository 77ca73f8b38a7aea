package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	reqs    []llm.ChatRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.ChatRequest) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	f.prompts = append(f.prompts, req.Messages[0].Content)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Content: f.reply}, nil
}

type fakeStore struct {
	vector     []models.SearchResult
	keyword    []models.SearchResult
	vectorErr  error
	keywordErr error
	filterIDs  []uuid.UUID
	filterErr  error

	mu           sync.Mutex
	vectorQuery  *store.VectorQuery
	keywordQuery *store.KeywordQuery
}

func (f *fakeStore) SearchVector(_ context.Context, q store.VectorQuery) ([]models.SearchResult, error) {
	f.mu.Lock()
	f.vectorQuery = &q
	f.mu.Unlock()
	return f.vector, f.vectorErr
}

func (f *fakeStore) SearchKeyword(_ context.Context, q store.KeywordQuery) ([]models.SearchResult, error) {
	f.mu.Lock()
	f.keywordQuery = &q
	f.mu.Unlock()
	return f.keyword, f.keywordErr
}

func (f *fakeStore) ResolveMetadataFilter(context.Context, string, *models.MetadataFilter) ([]uuid.UUID, error) {
	return f.filterIDs, f.filterErr
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func testRetrievalConfig() *config.RetrievalConfig {
	return &config.RetrievalConfig{
		DefaultMode:         "hybrid",
		DefaultLimit:        5,
		SimilarityThreshold: 0.5,
		RerankTimeout:       30 * time.Second,
		RerankChunkChars:    1000,
	}
}

func results(contents ...string) []models.SearchResult {
	out := make([]models.SearchResult, len(contents))
	for i, c := range contents {
		out[i] = models.SearchResult{ID: uuid.New(), Content: c}
	}
	return out
}

func contents(rs []models.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Content
	}
	return out
}

func TestFuse_ChunkInBothListsRanksFirst(t *testing.T) {
	shared := uuid.New()
	vec := []models.SearchResult{{ID: uuid.New(), Content: "a"}, {ID: shared, Content: "shared-vector"}}
	kw := []models.SearchResult{{ID: shared, Content: "shared-keyword"}, {ID: uuid.New(), Content: "b"}}

	fused := Fuse([][]models.SearchResult{vec, kw}, DefaultRRFK)

	require.Len(t, fused, 3)
	assert.Equal(t, shared, fused[0].ID)
	assert.Equal(t, "shared-vector", fused[0].Content)
	assert.InDelta(t, 1.0/62+1.0/61, *fused[0].RRFScore, 1e-12)
	// a and b tie at rank 1 of their lists; input order decides
	assert.Equal(t, "a", fused[1].Content)
	assert.Equal(t, "b", fused[2].Content)
}

func TestFuse_EmptyInput(t *testing.T) {
	assert.Empty(t, Fuse(nil, DefaultRRFK))
	assert.Empty(t, Fuse([][]models.SearchResult{{}, {}}, DefaultRRFK))
}

func TestReranker_SortsByScore(t *testing.T) {
	completer := &fakeCompleter{reply: "```json\n[{\"index\": 0, \"score\": 0.1}, {\"index\": 1, \"score\": 0.9}, {\"index\": 2, \"score\": 0.5}]\n```"}
	reranker := NewReranker(completer, testRetrievalConfig())

	out, ok := reranker.Rerank(context.Background(), "local-model", "what is rag", results("low", "high", "mid"), 2)

	require.True(t, ok)
	assert.Equal(t, []string{"high", "mid"}, contents(out))
	assert.InDelta(t, 0.9, *out[0].RerankScore, 1e-9)

	require.Len(t, completer.reqs, 1)
	req := completer.reqs[0]
	assert.Equal(t, "local-model", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.0, *req.Temperature)
	assert.Equal(t, 30*time.Second, req.Timeout)
	assert.Contains(t, req.Messages[0].Content, "Query: what is rag")
	assert.Contains(t, req.Messages[0].Content, "\nChunk 1:\nhigh\n")
}

func TestReranker_InvalidEntriesScoreZero(t *testing.T) {
	completer := &fakeCompleter{reply: `[{"index": 0, "score": 1.7}, {"index": 7, "score": 0.4}, {"index": 1, "score": 0.3}]`}
	reranker := NewReranker(completer, testRetrievalConfig())

	out, ok := reranker.Rerank(context.Background(), "", "q", results("a", "b", "c"), 5)

	require.True(t, ok)
	assert.Equal(t, []string{"b", "a", "c"}, contents(out))
	assert.Equal(t, 0.0, *out[1].RerankScore)
}

func TestReranker_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		completer *fakeCompleter
	}{
		{"model error", &fakeCompleter{err: errors.New("upstream down")}},
		{"unparseable reply", &fakeCompleter{reply: "I think chunk 2 is best"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reranker := NewReranker(tt.completer, testRetrievalConfig())

			out, ok := reranker.Rerank(context.Background(), "", "q", results("a", "b", "c"), 2)

			assert.False(t, ok)
			assert.Equal(t, []string{"a", "b"}, contents(out))
			for _, r := range out {
				assert.Equal(t, 0.0, *r.RerankScore)
			}
		})
	}
}

func TestReranker_TruncatesChunkContent(t *testing.T) {
	completer := &fakeCompleter{reply: "[]"}
	cfg := testRetrievalConfig()
	cfg.RerankChunkChars = 10
	reranker := NewReranker(completer, cfg)

	_, ok := reranker.Rerank(context.Background(), "", "q", results(strings.Repeat("é", 50)), 1)

	require.True(t, ok)
	assert.Contains(t, completer.prompts[0], "\nChunk 0:\n"+strings.Repeat("é", 10)+"\n")
	assert.NotContains(t, completer.prompts[0], strings.Repeat("é", 11))
}

func TestRetriever_HybridFusesBothStrategies(t *testing.T) {
	shared := models.SearchResult{ID: uuid.New(), Content: "shared"}
	fs := &fakeStore{
		vector:  append(results("vector-only"), shared),
		keyword: append([]models.SearchResult{shared}, results("keyword-only")...),
	}
	r := NewRetriever(fs, &fakeEmbedder{}, nil, testRetrievalConfig())

	res, err := r.Search(context.Background(), "q", "user-1", Options{})

	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, res.Meta.SearchMode)
	assert.ElementsMatch(t, []string{"vector", "keyword"}, res.Meta.StrategiesRun)
	assert.Empty(t, res.Meta.StrategiesFailed)
	assert.False(t, res.Meta.Reranked)
	require.Len(t, res.Chunks, 3)
	assert.Equal(t, "shared", res.Chunks[0].Content)

	// the similarity floor is not applied to the vector leg of hybrid search
	assert.Less(t, fs.vectorQuery.Threshold, 0.0)
	assert.Equal(t, "user-1", fs.keywordQuery.UserID)
}

func TestRetriever_VectorModeAppliesThreshold(t *testing.T) {
	fs := &fakeStore{vector: results("a", "b", "c")}
	r := NewRetriever(fs, &fakeEmbedder{}, nil, testRetrievalConfig())
	threshold := 0.8

	res, err := r.Search(context.Background(), "q", "u", Options{Mode: ModeVector, Limit: 2, Threshold: &threshold})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, contents(res.Chunks))
	assert.Equal(t, 0.8, fs.vectorQuery.Threshold)
	assert.Nil(t, fs.keywordQuery)
	assert.Equal(t, []string{"vector"}, res.Meta.StrategiesRun)
}

func TestRetriever_StrategyFailureDegrades(t *testing.T) {
	fs := &fakeStore{keyword: results("kw")}
	r := NewRetriever(fs, &fakeEmbedder{err: errors.New("embedding service down")}, nil, testRetrievalConfig())

	res, err := r.Search(context.Background(), "q", "u", Options{})

	require.NoError(t, err)
	assert.Equal(t, []string{"vector"}, res.Meta.StrategiesFailed)
	assert.Equal(t, []string{"kw"}, contents(res.Chunks))
}

func TestRetriever_BothStrategiesFail(t *testing.T) {
	fs := &fakeStore{vectorErr: errors.New("db"), keywordErr: errors.New("db")}
	r := NewRetriever(fs, &fakeEmbedder{}, nil, testRetrievalConfig())

	res, err := r.Search(context.Background(), "q", "u", Options{})

	require.NoError(t, err)
	assert.NotNil(t, res.Chunks)
	assert.Empty(t, res.Chunks)
	assert.ElementsMatch(t, []string{"vector", "keyword"}, res.Meta.StrategiesFailed)
}

func TestRetriever_MetadataFilter(t *testing.T) {
	docA, docB := uuid.New(), uuid.New()

	t.Run("no matching documents", func(t *testing.T) {
		fs := &fakeStore{filterIDs: []uuid.UUID{}, vector: results("a")}
		r := NewRetriever(fs, &fakeEmbedder{}, nil, testRetrievalConfig())

		res, err := r.Search(context.Background(), "q", "u", Options{MetadataFilter: &models.MetadataFilter{Topic: "finance"}})

		require.NoError(t, err)
		assert.Empty(t, res.Chunks)
		assert.Nil(t, fs.vectorQuery)
		require.NotNil(t, res.Meta.FilteredDocuments)
		assert.Equal(t, 0, *res.Meta.FilteredDocuments)
	})

	t.Run("restricts strategies", func(t *testing.T) {
		fs := &fakeStore{filterIDs: []uuid.UUID{docA, docB}, vector: results("a")}
		r := NewRetriever(fs, &fakeEmbedder{}, nil, testRetrievalConfig())

		_, err := r.Search(context.Background(), "q", "u", Options{MetadataFilter: &models.MetadataFilter{DocumentType: "report"}})

		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{docA, docB}, fs.vectorQuery.DocumentIDs)
		assert.Equal(t, []uuid.UUID{docA, docB}, fs.keywordQuery.DocumentIDs)
	})

	t.Run("resolution failure searches unfiltered", func(t *testing.T) {
		fs := &fakeStore{filterErr: errors.New("bad jsonb"), vector: results("a")}
		r := NewRetriever(fs, &fakeEmbedder{}, nil, testRetrievalConfig())

		res, err := r.Search(context.Background(), "q", "u", Options{MetadataFilter: &models.MetadataFilter{Topic: "x"}})

		require.NoError(t, err)
		assert.Nil(t, fs.vectorQuery.DocumentIDs)
		assert.Equal(t, []string{"a"}, contents(res.Chunks))
	})

	t.Run("document scope intersects filter", func(t *testing.T) {
		fs := &fakeStore{filterIDs: []uuid.UUID{docA}, vector: results("a")}
		r := NewRetriever(fs, &fakeEmbedder{}, nil, testRetrievalConfig())

		res, err := r.Search(context.Background(), "q", "u", Options{
			MetadataFilter: &models.MetadataFilter{Topic: "x"},
			DocumentID:     &docB,
		})

		require.NoError(t, err)
		assert.Empty(t, res.Chunks)
		assert.Nil(t, fs.vectorQuery)
	})
}

func TestRetriever_RerankWidensCandidatePool(t *testing.T) {
	fs := &fakeStore{vector: results("a", "b", "c", "d", "e", "f")}
	completer := &fakeCompleter{reply: `[{"index": 5, "score": 0.9}, {"index": 0, "score": 0.2}]`}
	cfg := testRetrievalConfig()
	r := NewRetriever(fs, &fakeEmbedder{}, NewReranker(completer, cfg), cfg)
	rerank := true

	res, err := r.Search(context.Background(), "q", "u", Options{Mode: ModeVector, Limit: 2, Rerank: &rerank, Model: "m"})

	require.NoError(t, err)
	assert.Equal(t, 6, fs.vectorQuery.Limit)
	assert.True(t, res.Meta.Reranked)
	assert.Equal(t, []string{"f", "a"}, contents(res.Chunks))
	assert.Equal(t, "m", completer.reqs[0].Model)
}

func TestRetriever_RerankFallbackNotReportedAsReranked(t *testing.T) {
	fs := &fakeStore{keyword: results("a", "b", "c")}
	completer := &fakeCompleter{err: errors.New("timeout")}
	cfg := testRetrievalConfig()
	cfg.RerankEnabled = true
	r := NewRetriever(fs, &fakeEmbedder{}, NewReranker(completer, cfg), cfg)

	res, err := r.Search(context.Background(), "q", "u", Options{Mode: ModeKeyword, Limit: 2})

	require.NoError(t, err)
	assert.False(t, res.Meta.Reranked)
	assert.Equal(t, []string{"a", "b"}, contents(res.Chunks))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, mode)

	mode, err = ParseMode("keyword")
	require.NoError(t, err)
	assert.Equal(t, ModeKeyword, mode)

	_, err = ParseMode("semantic")
	assert.Error(t, err)
}
