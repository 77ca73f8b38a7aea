package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/rs/zerolog/log"
)

// Client errors
var (
	ErrUpstream        = errors.New("model service error")
	ErrUpstreamTimeout = errors.New("model service timeout")
	ErrCircuitOpen     = errors.New("model service circuit breaker is open")
	ErrRejected        = errors.New("model service rejected the request")
	ErrEmptyResponse   = errors.New("model service returned no choices")
)

// Endpoint names used for breakers and metrics
const (
	EndpointChat       = "chat"
	EndpointEmbeddings = "embeddings"
	EndpointModels     = "models"
)

// Client talks to an OpenAI-compatible model service (LM Studio and friends)
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breakers   *CircuitBreakerManager
	timeouts   *TimeoutManager
}

// NewClient creates a model service client
func NewClient(cfg *config.ModelConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		// Deadlines come from the request context; streams may run for minutes
		httpClient: &http.Client{},
		breakers:   NewCircuitBreakerManager(DefaultCircuitBreakerConfig()),
		timeouts: NewTimeoutManager(&TimeoutConfig{
			DefaultTimeout: cfg.RequestTimeout,
			MaxTimeout:     cfg.MaxTimeout,
			MinTimeout:     time.Second,
		}),
	}
}

// Breakers exposes the circuit breaker manager for health reporting
func (c *Client) Breakers() *CircuitBreakerManager {
	return c.breakers
}

// Complete performs a non-streaming chat completion
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*Completion, error) {
	req.Stream = false
	req.StreamOptions = nil

	ctx, cancel, _ := c.timeouts.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()
	result, err := c.breakers.Execute(ctx, EndpointChat, func() (any, error) {
		resp, err := c.post(ctx, "/v1/chat/completions", req, "application/json")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var chatResp chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return nil, fmt.Errorf("%w: failed to decode response: %v", ErrUpstream, err)
		}
		if len(chatResp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		return normalize(&chatResp), nil
	})
	c.observe(EndpointChat, start, err)
	if err != nil {
		return nil, err
	}

	return result.(*Completion), nil
}

// Stream performs a streaming chat completion. onDelta receives every content
// fragment in arrival order; tool calls are returned fully assembled.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onDelta func(string)) (*Completion, error) {
	req.Stream = true
	req.StreamOptions = &StreamOptions{IncludeUsage: true}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeouts.MaxTimeout()
	}
	ctx, cancel, _ := c.timeouts.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := c.breakers.Execute(ctx, EndpointChat, func() (any, error) {
		resp, err := c.post(ctx, "/v1/chat/completions", req, "text/event-stream")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		completion, err := readStream(ctx, resp.Body, onDelta)
		if err != nil {
			return nil, err
		}
		return completion, nil
	})
	c.observe(EndpointChat, start, err)
	if err != nil {
		return nil, err
	}

	return result.(*Completion), nil
}

// Embed returns one vector per input, in input order
func (c *Client) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ctx, cancel, _ := c.timeouts.WithTimeout(ctx, 0)
	defer cancel()

	start := time.Now()
	result, err := c.breakers.Execute(ctx, EndpointEmbeddings, func() (any, error) {
		resp, err := c.post(ctx, "/v1/embeddings", embeddingRequest{Model: model, Input: inputs}, "application/json")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var embResp embeddingResponse
		if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
			return nil, fmt.Errorf("%w: failed to decode embeddings: %v", ErrUpstream, err)
		}
		if len(embResp.Data) != len(inputs) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrUpstream, len(inputs), len(embResp.Data))
		}

		sort.SliceStable(embResp.Data, func(i, j int) bool {
			return embResp.Data[i].Index < embResp.Data[j].Index
		})
		vectors := make([][]float32, len(embResp.Data))
		for i, d := range embResp.Data {
			vectors[i] = d.Embedding
		}
		return vectors, nil
	})
	c.observe(EndpointEmbeddings, start, err)
	if err != nil {
		return nil, err
	}

	return result.([][]float32), nil
}

// ListModels returns the model service catalog (LM Studio REST API)
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel, _ := c.timeouts.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	result, err := c.breakers.Execute(ctx, EndpointModels, func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v0/models", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setAuth(httpReq)

		resp, err := c.do(ctx, httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var modelsResp modelsResponse
		if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
			return nil, fmt.Errorf("%w: failed to decode models: %v", ErrUpstream, err)
		}
		return modelsResp.Data, nil
	})
	c.observe(EndpointModels, start, err)
	if err != nil {
		return nil, err
	}

	return result.([]ModelInfo), nil
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	c.setAuth(httpReq)

	return c.do(ctx, httpReq)
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// do sends the request and maps transport and status failures onto the
// package errors the circuit breaker understands
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrUpstreamTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		log.Error().
			Int("status", resp.StatusCode).
			Str("path", req.URL.Path).
			Str("body", string(body)).
			Msg("Model service error")

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(body))
	}

	return resp, nil
}

func (c *Client) observe(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		errorType := "upstream"
		switch {
		case errors.Is(err, ErrCircuitOpen):
			errorType = "circuit_open"
		case IsTimeoutError(err):
			errorType = "timeout"
		case errors.Is(err, context.Canceled):
			errorType = "canceled"
		case errors.Is(err, ErrRejected):
			errorType = "rejected"
		}
		monitoring.RecordModelError(endpoint, errorType)
	}
	monitoring.RecordModelCall(endpoint, status, time.Since(start))
}
