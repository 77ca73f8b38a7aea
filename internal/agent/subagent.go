package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/search"
	"github.com/aimerfeng/docagent/internal/store"
	"github.com/aimerfeng/docagent/internal/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	truncationMarker      = "[Document truncated due to length]"
	withinDocumentLimit   = 5
	defaultSubAgentRounds = 3
	defaultSubAgentChunks = 50
	defaultSubAgentChars  = 50000
)

// ErrDocumentNotFound is returned when the analyzed document does not exist for the user
var ErrDocumentNotFound = errors.New("Document not found")

const subAgentPrompt = `You are a document analysis assistant. You have been given the full text of "%s" to analyze.

DOCUMENT CONTENT:
%s

TASK: %s

Answer the task using the document content above. If you need to find specific passages, use the search_within_document tool. Be thorough and cite specific parts of the document.`

// DocumentLoader reads a document and its ordered chunks
type DocumentLoader interface {
	Get(ctx context.Context, userID string, id uuid.UUID) (*models.Document, error)
	ChunksForDocument(ctx context.Context, userID string, documentID uuid.UUID, limit int) ([]models.Chunk, error)
}

// Searcher is the retrieval facade
type Searcher interface {
	Search(ctx context.Context, query, userID string, opts search.Options) (*search.Result, error)
}

// SubAgent analyzes a single document in an isolated context. It shares the
// model and the output stream with its caller, never the conversation.
type SubAgent struct {
	model    ChatModel
	docs     DocumentLoader
	searcher Searcher
	cfg      config.AgentConfig
	logger   zerolog.Logger
}

// NewSubAgent creates a sub-agent runner
func NewSubAgent(model ChatModel, docs DocumentLoader, searcher Searcher, cfg *config.AgentConfig) *SubAgent {
	c := *cfg
	if c.SubAgentMaxRounds <= 0 {
		c.SubAgentMaxRounds = defaultSubAgentRounds
	}
	if c.SubAgentMaxChunks <= 0 {
		c.SubAgentMaxChunks = defaultSubAgentChunks
	}
	if c.SubAgentMaxChars <= 0 {
		c.SubAgentMaxChars = defaultSubAgentChars
	}
	return &SubAgent{
		model:    model,
		docs:     docs,
		searcher: searcher,
		cfg:      c,
		logger:   logging.NewLogger("subagent"),
	}
}

// AnalyzeRequest is one analysis invocation
type AnalyzeRequest struct {
	DocumentID uuid.UUID
	Task       string
	UserID     string
	Model      string
	RequestID  string
}

// Analyze runs the task against the document and returns the generated text.
// Events go to sink tagged as sub-agent events.
func (s *SubAgent) Analyze(ctx context.Context, req AnalyzeRequest, sink stream.Sink) (string, error) {
	doc, err := s.docs.Get(ctx, req.UserID, req.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, req.DocumentID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}

	chunks, err := s.docs.ChunksForDocument(ctx, req.UserID, req.DocumentID, s.cfg.SubAgentMaxChunks)
	if err != nil {
		return "", fmt.Errorf("failed to fetch document chunks: %w", err)
	}

	body := s.assemble(chunks)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(subAgentPrompt, doc.Filename, body, req.Task)},
		{Role: llm.RoleUser, Content: req.Task},
	}

	sub := stream.Subagent(sink)
	l := &loop{
		model:       s.model,
		modelID:     req.Model,
		temperature: llm.Temperature(s.cfg.SubAgentTemperature),
		maxRounds:   s.cfg.SubAgentMaxRounds,
		kinds:       []Kind{KindSearchWithinDocument},
		sink:        sub,
		requestID:   req.RequestID,
		nested:      true,
		execute: func(ctx context.Context, kind Kind, raw string) toolOutput {
			return s.searchWithin(ctx, req, raw)
		},
	}

	res, err := l.run(ctx, messages)
	if err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("document_id", req.DocumentID.String()).
		Int("chunks", len(chunks)).
		Int("rounds", res.Rounds).
		Int("tool_calls", res.ToolCalls).
		Msg("Document analysis finished")
	return res.Text, nil
}

// assemble joins chunk contents and caps the result
func (s *SubAgent) assemble(chunks []models.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	text := strings.Join(parts, "\n\n")

	runes := []rune(text)
	if len(runes) <= s.cfg.SubAgentMaxChars {
		return text
	}
	return string(runes[:s.cfg.SubAgentMaxChars]) + "\n\n" + truncationMarker
}

func (s *SubAgent) searchWithin(ctx context.Context, req AnalyzeRequest, raw string) toolOutput {
	var args SearchWithinDocumentArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failed(err, nil)
	}

	docID := req.DocumentID
	res, err := s.searcher.Search(ctx, args.Query, req.UserID, search.Options{
		Limit:      withinDocumentLimit,
		DocumentID: &docID,
		Model:      req.Model,
	})
	if err != nil {
		return failed(err, nil)
	}
	return toolOutput{Fields: map[string]any{
		"chunks": res.Chunks,
		"count":  len(res.Chunks),
	}}
}
