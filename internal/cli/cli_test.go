package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aimerfeng/docagent/internal/auth"
	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/ingestion"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/search"
	"github.com/aimerfeng/docagent/internal/sqlsandbox"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	mu        sync.Mutex
	uploads   []ingestion.FileHeader
	duplicate bool
	final     models.DocumentStatus
	failure   string
	waited    bool
}

func (f *fakeIngester) Upload(_ context.Context, userID string, file ingestion.FileHeader) (*ingestion.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, file)
	doc := &models.Document{ID: uuid.New(), UserID: userID, Filename: file.Filename, Status: models.DocumentStatusPending}
	if f.duplicate {
		doc.Status = models.DocumentStatusCompleted
	}
	return &ingestion.UploadResult{Document: doc, Duplicate: f.duplicate}, nil
}

func (f *fakeIngester) Get(_ context.Context, userID string, id uuid.UUID) (*models.Document, error) {
	doc := &models.Document{ID: id, UserID: userID, Status: f.final, ChunkCount: 3}
	if f.failure != "" {
		doc.ErrorMessage = &f.failure
	}
	if f.final == models.DocumentStatusCompleted {
		doc.Metadata = &models.DocumentMetadata{Topic: "retrieval", DocumentType: "article", Language: "en"}
	}
	return doc, nil
}

func (f *fakeIngester) Wait(context.Context) error {
	f.waited = true
	return nil
}

type fakeSearcher struct {
	query string
	user  string
	opts  search.Options
}

func (f *fakeSearcher) Search(_ context.Context, query, userID string, opts search.Options) (*search.Result, error) {
	f.query, f.user, f.opts = query, userID, opts
	rrf := 0.0328
	return &search.Result{
		Chunks: []models.SearchResult{{
			ID:         uuid.New(),
			DocumentID: uuid.New(),
			Filename:   "rag.md",
			Content:    "Retrieval   augmented\ngeneration grounds answers.",
			ChunkIndex: 2,
			RRFScore:   &rrf,
		}},
		Meta: search.Meta{SearchMode: search.ModeHybrid, StrategiesRun: []string{"vector", "keyword"}},
	}, nil
}

type fakeCatalog struct {
	models []llm.ModelInfo
	err    error
}

func (f fakeCatalog) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return f.models, f.err
}

type testServices struct {
	docs     *fakeIngester
	searcher *fakeSearcher
	released bool
}

func setupTestServices(t *testing.T) *testServices {
	t.Helper()
	ts := &testServices{
		docs:     &fakeIngester{final: models.DocumentStatusCompleted},
		searcher: &fakeSearcher{},
	}
	SetConnector(func(context.Context) (*Services, func(), error) {
		return &Services{Documents: ts.docs, Searcher: ts.searcher, ActiveModel: "qwen2.5-7b-instruct"},
			func() { ts.released = true }, nil
	})
	t.Cleanup(func() { SetConnector(nil) })
	return ts
}

// resetFlags restores every flag to its default between executions
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestSearchCmd_Use(t *testing.T) {
	assert.Equal(t, "search [query]", searchCmd.Use)
	flag := searchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "5", flag.DefValue)
}

func TestSearchCmd_RequiresExactlyOneArg(t *testing.T) {
	_, err := run(t, "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestSearchCmd_RequiresUser(t *testing.T) {
	setupTestServices(t)
	_, err := run(t, "search", "what is rag", "--user", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
}

func TestSearchCmd_PassesOptions(t *testing.T) {
	ts := setupTestServices(t)

	out, err := run(t, "search", "what is rag", "--user", "user-1", "--mode", "keyword", "--rerank", "-n", "3")

	require.NoError(t, err)
	assert.Equal(t, "what is rag", ts.searcher.query)
	assert.Equal(t, "user-1", ts.searcher.user)
	assert.Equal(t, search.ModeKeyword, ts.searcher.opts.Mode)
	assert.Equal(t, 3, ts.searcher.opts.Limit)
	require.NotNil(t, ts.searcher.opts.Rerank)
	assert.True(t, *ts.searcher.opts.Rerank)
	assert.Equal(t, "qwen2.5-7b-instruct", ts.searcher.opts.Model)
	assert.True(t, ts.released)

	assert.Contains(t, out, "[1] rag.md #2 (rrf 0.0328)")
	assert.Contains(t, out, "Retrieval augmented generation grounds answers.")
}

func TestSearchCmd_RerankDefaultsToConfig(t *testing.T) {
	ts := setupTestServices(t)

	_, err := run(t, "search", "q", "--user", "user-1")

	require.NoError(t, err)
	assert.Nil(t, ts.searcher.opts.Rerank)
	assert.Equal(t, search.Mode(""), ts.searcher.opts.Mode)
}

func TestSearchCmd_InvalidMode(t *testing.T) {
	setupTestServices(t)
	_, err := run(t, "search", "q", "--user", "user-1", "--mode", "fuzzy")
	assert.Error(t, err)
}

func TestIngestCmd_UploadsAndWaits(t *testing.T) {
	ts := setupTestServices(t)
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\n\nRetrieval first."), 0o600))

	out, err := run(t, "ingest", path, "--user", "user-1")

	require.NoError(t, err)
	require.Len(t, ts.docs.uploads, 1)
	assert.Equal(t, "notes.md", ts.docs.uploads[0].Filename)
	assert.Equal(t, "text/plain", ts.docs.uploads[0].MimeType)
	assert.True(t, ts.docs.waited)
	assert.Contains(t, out, "Status: completed, 3 chunks")
	assert.Contains(t, out, "Topic: retrieval")
}

func TestIngestCmd_NoWait(t *testing.T) {
	ts := setupTestServices(t)
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	_, err := run(t, "ingest", path, "--user", "user-1", "--no-wait")

	require.NoError(t, err)
	assert.False(t, ts.docs.waited)
}

func TestIngestCmd_Duplicate(t *testing.T) {
	ts := setupTestServices(t)
	ts.docs.duplicate = true
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	out, err := run(t, "ingest", path, "--user", "user-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Duplicate of")
	assert.False(t, ts.docs.waited)
}

func TestIngestCmd_ProcessingFailure(t *testing.T) {
	ts := setupTestServices(t)
	ts.docs.final = models.DocumentStatusError
	ts.docs.failure = "No content to process"
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte(" "), 0o600))

	_, err := run(t, "ingest", path, "--user", "user-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "No content to process")
}

func TestIngestCmd_MissingFile(t *testing.T) {
	setupTestServices(t)
	_, err := run(t, "ingest", filepath.Join(t.TempDir(), "nope.txt"), "--user", "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file")
}

func TestSQLValidateCmd(t *testing.T) {
	out, err := run(t, "sql", "validate", "SELECT filename FROM documents ORDER BY created_at DESC;", "--user", "user-1")

	require.NoError(t, err)
	assert.Contains(t, out, "WHERE documents.user_id = 'user-1' ORDER BY")
	assert.NotContains(t, out, ";")
}

func TestSQLValidateCmd_Rejects(t *testing.T) {
	_, err := run(t, "sql", "validate", "DROP TABLE documents", "--user", "user-1")
	assert.ErrorIs(t, err, sqlsandbox.ErrNotSelect)
}

func TestModelsListCmd(t *testing.T) {
	SetCatalog(fakeCatalog{models: []llm.ModelInfo{
		{ID: "qwen2.5-7b-instruct", Type: "llm", State: "loaded"},
		{ID: "nomic-embed-text-v1.5", Type: "embeddings", State: "not-loaded"},
	}}, "qwen2.5-7b-instruct")
	defer SetCatalog(nil, "")

	out, err := run(t, "models", "list")

	require.NoError(t, err)
	assert.Contains(t, out, "* qwen2.5-7b-instruct")
	assert.Contains(t, out, "loaded")
	assert.Contains(t, out, "not loaded")
}

func TestModelsListCmd_Unavailable(t *testing.T) {
	SetCatalog(fakeCatalog{err: errors.New("connection refused")}, "")
	defer SetCatalog(nil, "")

	_, err := run(t, "models", "list")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTokenCmd(t *testing.T) {
	SetIssuer(auth.NewIssuer(&config.AuthConfig{JWTSecret: "test-secret"}))
	defer SetIssuer(nil)

	out, err := run(t, "token", "--user", "user-1", "--ttl", "15m")

	require.NoError(t, err)
	assert.Contains(t, out, "eyJ")
	assert.Contains(t, out, "Expires: ")
	assert.Equal(t, 15*time.Minute, tokenTTL)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	SetIssuer(auth.NewIssuer(&config.AuthConfig{}))
	defer SetIssuer(nil)

	_, err := run(t, "token", "--user", "user-1")

	assert.ErrorIs(t, err, auth.ErrSecretRequired)
}
