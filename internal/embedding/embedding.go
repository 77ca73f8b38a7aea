// Package embedding turns text into vectors through the model service.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimerfeng/docagent/internal/config"
	"golang.org/x/sync/errgroup"
)

// ErrDimensionMismatch is returned when the model produces vectors of the wrong size
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder is the model service primitive this package wraps
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// Client batches embedding requests
type Client struct {
	embedder    Embedder
	model       string
	dimensions  int
	batchSize   int
	concurrency int
}

// NewClient creates an embedding client
func NewClient(embedder Embedder, modelCfg *config.ModelConfig, ingestCfg *config.IngestionConfig) *Client {
	batchSize := ingestCfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	concurrency := ingestCfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Client{
		embedder:    embedder,
		model:       modelCfg.EmbeddingModel,
		dimensions:  modelCfg.EmbeddingDimensions,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Model returns the embedding model name
func (c *Client) Model() string {
	return c.model
}

// Embed returns the vector for a single text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in input order. Texts are sent in
// batches with a bounded number of batches in flight.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vectors, err := c.embedder.Embed(gctx, c.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(vectors) != end-start {
				return fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vectors))
			}
			for i, v := range vectors {
				if c.dimensions > 0 && len(v) != c.dimensions {
					return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.dimensions, len(v))
				}
				out[start+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
