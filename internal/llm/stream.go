package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxStreamLine = 1 << 20

// readStream consumes an SSE chat completion stream
func readStream(ctx context.Context, body io.Reader, onDelta func(string)) (*Completion, error) {
	out := &Completion{}
	calls := newToolCallAssembler()
	var content strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, streamCtxErr(ctx)
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Str("data", truncateString(data, 100)).Msg("Failed to parse stream chunk")
			continue
		}

		if chunk.Usage != nil {
			out.Usage = chunk.Usage
		}

		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				out.FinishReason = *choice.FinishReason
			}
			if choice.Delta == nil {
				continue
			}
			if text := contentText(choice.Delta.Content); text != "" {
				content.WriteString(text)
				if onDelta != nil {
					onDelta(text)
				}
			}
			for _, d := range choice.Delta.ToolCalls {
				calls.add(d)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, streamCtxErr(ctx)
		}
		return nil, fmt.Errorf("%w: error reading stream: %v", ErrUpstream, err)
	}

	out.Content = content.String()
	out.ToolCalls = calls.result()
	return out, nil
}

func streamCtxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	return ctx.Err()
}

// toolCallAssembler joins streamed tool-call fragments by their index
type toolCallAssembler struct {
	order   []int
	byIndex map[int]*ToolCall
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{byIndex: make(map[int]*ToolCall)}
}

func (a *toolCallAssembler) add(d toolCallDelta) {
	tc, ok := a.byIndex[d.Index]
	if !ok {
		tc = &ToolCall{Type: "function"}
		a.byIndex[d.Index] = tc
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		tc.ID = d.ID
	}
	if d.Type != "" {
		tc.Type = d.Type
	}
	if d.Function.Name != "" {
		tc.Function.Name += d.Function.Name
	}
	tc.Function.Arguments += d.Function.Arguments
}

func (a *toolCallAssembler) result() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		tc := a.byIndex[idx]
		if tc.Function.Name == "" {
			continue
		}
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d", idx)
		}
		out = append(out, *tc)
	}
	return out
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
