package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// per-message framing overhead used by OpenAI-style chat formats
const tokensPerMessage = 4

// TokenCounter estimates prompt sizes for logging and metrics
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter; the encoding is loaded on first use
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (t *TokenCounter) encoding() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("Token encoding unavailable, falling back to character estimate")
			return
		}
		t.enc = enc
	})
	return t.enc
}

// Count returns the token count of text
func (t *TokenCounter) Count(text string) int {
	if enc := t.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// CountMessages returns the approximate prompt size of a conversation
func (t *TokenCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += tokensPerMessage + t.Count(m.Content)
		for _, tc := range m.ToolCalls {
			total += t.Count(tc.Function.Name) + t.Count(tc.Function.Arguments)
		}
	}
	return total
}
