package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/go-playground/validator/v10"
)

const (
	defaultMetadataMaxChars = 4000
	defaultMetadataTimeout  = 120 * time.Second
	metadataTemperature     = 0.1
)

// ErrMetadataTimeout is returned when extraction exceeds its deadline
var ErrMetadataTimeout = errors.New("Metadata extraction timed out")

const metadataPrompt = `You are a metadata extraction assistant. Analyze the following document text and extract structured metadata. Respond with ONLY a valid JSON object (no markdown, no explanation) matching this exact schema:

{
  "topic": "primary topic/subject",
  "document_type": "one of: article, report, tutorial, documentation, email, memo, legal, academic, other",
  "key_entities": ["entity1", "entity2"],
  "summary": "1-3 sentence summary (max 500 chars)",
  "language": "primary language"
}

Document text:
`

// Completer is the non-streaming generation primitive
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (*llm.Completion, error)
}

var validate = validator.New()

// extractMetadata asks the model to describe the document from its opening text
func (s *Service) extractMetadata(ctx context.Context, text string) (*models.DocumentMetadata, error) {
	runes := []rune(text)
	if len(runes) > s.metadataMaxChars {
		runes = runes[:s.metadataMaxChars]
	}

	ctx, cancel := context.WithTimeout(ctx, s.metadataTimeout)
	defer cancel()

	req := llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: metadataPrompt + string(runes)}},
		Temperature: llm.Temperature(metadataTemperature),
		Timeout:     s.metadataTimeout,
	}
	if s.active != nil {
		req.Model = s.active.Snapshot().ID
	}

	completion, err := s.completer.Complete(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrMetadataTimeout
		}
		return nil, err
	}
	return parseMetadata(completion.Content)
}

// parseMetadata decodes and validates a model reply
func parseMetadata(reply string) (*models.DocumentMetadata, error) {
	var meta models.DocumentMetadata
	if err := json.Unmarshal([]byte(llm.CleanJSONReply(reply)), &meta); err != nil {
		return nil, fmt.Errorf("metadata reply is not valid JSON: %w", err)
	}
	if err := validate.Struct(&meta); err != nil {
		return nil, fmt.Errorf("metadata reply failed validation: %w", err)
	}
	if meta.KeyEntities == nil {
		meta.KeyEntities = []string{}
	}
	return &meta, nil
}
