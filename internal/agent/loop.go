package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/aimerfeng/docagent/internal/stream"
)

// ChatModel is the streaming generation primitive of the model service
type ChatModel interface {
	Stream(ctx context.Context, req llm.ChatRequest, onDelta func(string)) (*llm.Completion, error)
}

// loop is one generate-with-tools run
type loop struct {
	model       ChatModel
	modelID     string
	temperature *float64
	maxRounds   int
	kinds       []Kind
	sink        stream.Sink
	requestID   string
	nested      bool
	execute     func(ctx context.Context, kind Kind, args string) toolOutput
}

// loopResult summarizes a finished loop
type loopResult struct {
	Text         string
	Rounds       int
	ToolCalls    int
	PromptTokens int
}

// run drives generation until the model answers without calling a tool or
// the round budget is spent. The final permitted round is issued with tool
// use disabled so the model has to answer in text. Generation follows ctx;
// tool executions run detached from it so they are not abandoned midway.
func (l *loop) run(ctx context.Context, messages []llm.Message) (*loopResult, error) {
	res := &loopResult{}
	var text strings.Builder
	tools := definitions(l.kinds)

	for round := 1; round <= l.maxRounds; round++ {
		res.Rounds = round
		req := llm.ChatRequest{
			Model:       l.modelID,
			Messages:    messages,
			Temperature: l.temperature,
		}
		last := round == l.maxRounds
		if len(tools) > 0 {
			req.Tools = tools
			if last {
				req.ToolChoice = llm.ToolChoiceNone
			}
		}

		completion, err := l.model.Stream(ctx, req, func(delta string) {
			text.WriteString(delta)
			l.sink.Emit(stream.TextDelta(delta))
		})
		if err != nil {
			res.Text = text.String()
			return res, err
		}
		if completion.Usage != nil {
			res.PromptTokens += completion.Usage.PromptTokens
		}

		if len(completion.ToolCalls) == 0 || last {
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		toolCtx := context.WithoutCancel(ctx)
		for _, call := range completion.ToolCalls {
			res.ToolCalls++
			out := l.dispatch(toolCtx, call)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    out.payload(),
			})
		}
	}

	res.Text = text.String()
	return res, nil
}

// dispatch announces, executes and reports one tool call
func (l *loop) dispatch(ctx context.Context, call llm.ToolCall) toolOutput {
	name := call.Function.Name
	l.sink.Emit(stream.ToolCall(name, json.RawMessage(call.Function.Arguments)))

	start := time.Now()
	var out toolOutput
	kind := ParseKind(name, l.kinds)
	if kind == KindUnknown {
		out = toolOutput{Error: "Unknown tool: " + name}
	} else {
		out = l.execute(ctx, kind, call.Function.Arguments)
	}

	outcome := "ok"
	var toolErr error
	if out.Error != "" {
		outcome = "error"
		toolErr = toolError(out.Error)
		ev := stream.ToolError(name, out.Error)
		for k, v := range out.Fields {
			ev.Fields[k] = v
		}
		l.sink.Emit(ev)
	} else {
		l.sink.Emit(stream.ToolResult(name, out.Fields))
	}

	monitoring.RecordToolCall(name, outcome)
	logging.LogToolCall(l.requestID, name, l.nested, time.Since(start), toolErr)
	return out
}

type toolError string

func (e toolError) Error() string { return string(e) }
