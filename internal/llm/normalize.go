package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// contentText flattens the content field of a reply. Servers send either a
// plain string, an array of typed parts, or null.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" || p.Type == "output_text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}

	return ""
}

// normalize turns a non-streaming response into a Completion
func normalize(resp *chatResponse) *Completion {
	out := &Completion{Usage: resp.Usage}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	if choice.FinishReason != nil {
		out.FinishReason = *choice.FinishReason
	}
	if choice.Message == nil {
		return out
	}

	out.Content = contentText(choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		if tc.Type == "" {
			tc.Type = "function"
		}
		out.ToolCalls = append(out.ToolCalls, tc)
	}
	return out
}

var (
	thinkBlock   = regexp.MustCompile(`<think>[\s\S]*?</think>\s*`)
	specialToken = regexp.MustCompile(`<\|[^|]*\|>`)
	openingFence = regexp.MustCompile("(?i)^```(?:json)?\\s*\\n?")
	closingFence = regexp.MustCompile("\\n?```\\s*$")
)

// CleanJSONReply strips reasoning blocks, special tokens and markdown fences
// that local models wrap around JSON answers
func CleanJSONReply(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	text = specialToken.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	text = openingFence.ReplaceAllString(text, "")
	text = closingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
