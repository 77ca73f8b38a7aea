// Package agent runs chat turns: a tool-calling loop over document search,
// SQL, single-document analysis and web search, streamed as events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/aimerfeng/docagent/internal/search"
	"github.com/aimerfeng/docagent/internal/sqlsandbox"
	"github.com/aimerfeng/docagent/internal/store"
	"github.com/aimerfeng/docagent/internal/stream"
	"github.com/aimerfeng/docagent/internal/websearch"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service errors
var (
	ErrThreadNotFound = errors.New("Thread not found")
)

// ThreadStore persists conversations
type ThreadStore interface {
	Get(ctx context.Context, userID string, id uuid.UUID) (*models.Thread, error)
	AppendTurn(ctx context.Context, userID string, id uuid.UUID, user, assistant models.Message, title *string) error
}

// SQLRunner executes sandboxed statements
type SQLRunner interface {
	Execute(ctx context.Context, sql, userID string) (*sqlsandbox.Result, error)
}

// WebSearcher is the external search provider client
type WebSearcher interface {
	Snapshot() config.WebSearchConfig
	Search(ctx context.Context, cfg config.WebSearchConfig, query string, maxResults int) []websearch.Result
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Model    ChatModel
	Threads  ThreadStore
	Searcher Searcher
	SQL      SQLRunner
	SubAgent *SubAgent
	Web      WebSearcher
	Active   *llm.ActiveModel
	Tokens   *llm.TokenCounter
}

// Orchestrator drives one chat turn at a time per call; it holds no per-turn state
type Orchestrator struct {
	deps   Deps
	cfg    config.AgentConfig
	now    func() time.Time
	logger zerolog.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, cfg *config.AgentConfig) *Orchestrator {
	c := *cfg
	if c.MaxRounds <= 0 {
		c.MaxRounds = 5
	}
	if c.TitleMaxChars <= 0 {
		c.TitleMaxChars = 50
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    c,
		now:    time.Now,
		logger: logging.NewLogger("orchestrator"),
	}
}

// TurnRequest is one submitted user message
type TurnRequest struct {
	RequestID string
	UserID    string
	ThreadID  uuid.UUID
	Message   string
}

// TurnSummary describes how a turn ended
type TurnSummary struct {
	Status    string
	Title     *string
	Rounds    int
	ToolCalls int
	Persisted bool
}

// Turn statuses
const (
	TurnDone         = "done"
	TurnError        = "error"
	TurnDisconnected = "disconnected"
)

// LoadThread fetches the thread a turn will run on
func (o *Orchestrator) LoadThread(ctx context.Context, userID string, id uuid.UUID) (*models.Thread, error) {
	thread, err := o.deps.Threads.Get(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// turnScope is everything captured once at the start of a turn
type turnScope struct {
	req   TurnRequest
	model llm.ModelSnapshot
	web   config.WebSearchConfig
	kinds []Kind
	sink  stream.Sink
}

// RunTurn runs the turn on thread and emits exactly one terminal event,
// unless the client went away, in which case nothing is persisted.
func (o *Orchestrator) RunTurn(ctx context.Context, thread *models.Thread, req TurnRequest, sink stream.Sink) *TurnSummary {
	start := time.Now()
	scope := o.scope(req, sink)

	messages := make([]llm.Message, 0, len(thread.Messages)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: systemPrompt(scope.kinds, sqlsandbox.SchemaDescription(), o.now()),
	})
	for _, m := range thread.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	promptTokens := 0
	if o.deps.Tokens != nil {
		promptTokens = o.deps.Tokens.CountMessages(messages)
	}

	l := &loop{
		model:     o.deps.Model,
		modelID:   scope.model.ID,
		maxRounds: o.cfg.MaxRounds,
		kinds:     scope.kinds,
		sink:      sink,
		requestID: req.RequestID,
		execute: func(ctx context.Context, kind Kind, raw string) toolOutput {
			return o.execute(ctx, scope, kind, raw)
		},
	}

	summary := &TurnSummary{}
	res, err := l.run(ctx, messages)
	if res != nil {
		summary.Rounds, summary.ToolCalls = res.Rounds, res.ToolCalls
		if res.PromptTokens > 0 {
			promptTokens = res.PromptTokens
		}
	}

	switch {
	case ctx.Err() != nil:
		summary.Status = TurnDisconnected
	case err != nil:
		summary.Status = TurnError
		o.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("Turn failed")
		sink.Emit(stream.Error(turnErrorMessage(err)))
	default:
		summary.Status = TurnDone
		o.finalize(ctx, thread, req, res.Text, summary)
		if summary.Persisted {
			sink.Emit(stream.Done(summary.Title))
		} else {
			summary.Status = TurnError
			sink.Emit(stream.Error("Failed to save conversation"))
		}
	}

	monitoring.RecordTurn(summary.Status, summary.Rounds, promptTokens)
	logging.LogTurn(&logging.TurnLogEntry{
		RequestID:    req.RequestID,
		ThreadID:     req.ThreadID.String(),
		UserID:       req.UserID,
		Model:        scope.model.ID,
		ModelVersion: scope.model.Version,
		Rounds:       summary.Rounds,
		ToolCalls:    summary.ToolCalls,
		PromptTokens: promptTokens,
		Latency:      time.Since(start),
		Status:       summary.Status,
		TitleSet:     summary.Title != nil,
	})
	return summary
}

// scope snapshots the active model and web search enablement for the turn
func (o *Orchestrator) scope(req TurnRequest, sink stream.Sink) turnScope {
	s := turnScope{
		req:   req,
		sink:  sink,
		kinds: []Kind{KindSearchDocuments, KindQueryDatabase, KindAnalyzeDocument},
	}
	if o.deps.Active != nil {
		s.model = o.deps.Active.Snapshot()
	}
	if o.deps.Web != nil {
		s.web = o.deps.Web.Snapshot()
		if s.web.Available() {
			s.kinds = append(s.kinds, KindWebSearch)
		}
	}
	return s
}

// finalize persists the exchange once. The write is not tied to the client
// connection so it cannot be cut off halfway.
func (o *Orchestrator) finalize(ctx context.Context, thread *models.Thread, req TurnRequest, text string, summary *TurnSummary) {
	var title *string
	if len(thread.Messages) == 0 {
		t := threadTitle(req.Message, o.cfg.TitleMaxChars)
		title = &t
	}

	err := o.deps.Threads.AppendTurn(context.WithoutCancel(ctx), req.UserID, thread.ID,
		models.Message{Role: models.RoleUser, Content: req.Message},
		models.Message{Role: models.RoleAssistant, Content: text},
		title,
	)
	if err != nil {
		logging.LogError(err, req.RequestID, "orchestrator", "append_turn")
		return
	}
	summary.Persisted = true
	summary.Title = title
}

func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrCircuitOpen):
		return "Model service is temporarily unavailable"
	case errors.Is(err, llm.ErrUpstreamTimeout):
		return "Model service timed out"
	default:
		return err.Error()
	}
}

// execute runs one parent-level capability
func (o *Orchestrator) execute(ctx context.Context, scope turnScope, kind Kind, raw string) toolOutput {
	switch kind {
	case KindSearchDocuments:
		var args SearchDocumentsArgs
		if err := decodeArgs(raw, &args); err != nil {
			return failed(err, nil)
		}
		res, err := o.deps.Searcher.Search(ctx, args.Query, scope.req.UserID, search.Options{
			Limit:          args.Limit,
			MetadataFilter: args.MetadataFilter,
			Model:          scope.model.ID,
		})
		if err != nil {
			return failed(err, nil)
		}
		return toolOutput{Fields: map[string]any{
			"chunks":      res.Chunks,
			"count":       len(res.Chunks),
			"search_mode": res.Meta.SearchMode,
			"reranked":    res.Meta.Reranked,
		}}

	case KindQueryDatabase:
		empty := map[string]any{"rows": []any{}}
		var args QueryDatabaseArgs
		if err := decodeArgs(raw, &args); err != nil {
			return failed(err, empty)
		}
		res, err := o.deps.SQL.Execute(ctx, args.SQL, scope.req.UserID)
		if err != nil {
			return failed(err, empty)
		}
		return toolOutput{Fields: map[string]any{
			"rows":     res.Rows,
			"rowCount": res.RowCount,
			"sql":      res.SQL,
		}}

	case KindAnalyzeDocument:
		var args AnalyzeDocumentArgs
		if err := decodeArgs(raw, &args); err != nil {
			return failed(err, nil)
		}
		docID, _ := uuid.Parse(args.DocumentID)
		content, err := o.deps.SubAgent.Analyze(ctx, AnalyzeRequest{
			DocumentID: docID,
			Task:       args.Task,
			UserID:     scope.req.UserID,
			Model:      scope.model.ID,
			RequestID:  scope.req.RequestID,
		}, scope.sink)
		if err != nil {
			return failed(err, nil)
		}
		return toolOutput{Fields: map[string]any{
			"document_id": args.DocumentID,
			"content":     content,
		}}

	case KindWebSearch:
		var args WebSearchArgs
		if err := decodeArgs(raw, &args); err != nil {
			return failed(err, nil)
		}
		results := o.deps.Web.Search(ctx, scope.web, args.Query, args.MaxResults)
		return toolOutput{Fields: map[string]any{
			"results": results,
			"count":   len(results),
		}}

	default:
		return toolOutput{Error: fmt.Sprintf("Unknown tool: %s", kind)}
	}
}
