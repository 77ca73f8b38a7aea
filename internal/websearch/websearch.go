// Package websearch queries an external web search provider (Tavily or SearXNG)
// and normalizes the results.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	ProviderTavily  = "tavily"
	ProviderSearXNG = "searxng"
)

// Result is one normalized hit
type Result struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Snippet string   `json:"snippet"`
	Score   *float64 `json:"score"`
}

// Client performs rate-limited provider calls. Its configuration can be
// replaced at runtime; callers take a Snapshot once and use it for a whole turn.
type Client struct {
	cfg        atomic.Pointer[config.WebSearchConfig]
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewClient creates a client
func NewClient(cfg config.WebSearchConfig) *Client {
	c := &Client{
		httpClient: &http.Client{},
		logger:     logging.NewLogger("websearch"),
	}
	c.Update(cfg)
	return c
}

// Update swaps in a new configuration
func (c *Client) Update(cfg config.WebSearchConfig) {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	c.mu.Lock()
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	c.mu.Unlock()
	c.cfg.Store(&cfg)

	c.logger.Info().
		Bool("enabled", cfg.Enabled).
		Str("provider", cfg.Provider).
		Bool("available", cfg.Available()).
		Msg("Web search configuration loaded")
}

// Snapshot returns the current configuration
func (c *Client) Snapshot() config.WebSearchConfig {
	return *c.cfg.Load()
}

// Search runs query against the provider selected by cfg. It never fails:
// any error is logged and yields an empty list.
func (c *Client) Search(ctx context.Context, cfg config.WebSearchConfig, query string, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = cfg.MaxResults
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Web search throttled")
		return []Result{}
	}

	var (
		results []Result
		err     error
	)
	switch cfg.Provider {
	case ProviderSearXNG:
		results, err = c.searchSearXNG(ctx, cfg, query, maxResults)
	default:
		results, err = c.searchTavily(ctx, cfg, query, maxResults)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("provider", cfg.Provider).Msg("Web search failed")
		return []Result{}
	}
	return results
}

func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	limiter, retryAt := c.limiter, c.retryAt
	c.mu.Unlock()

	if time.Now().Before(retryAt) {
		return fmt.Errorf("provider backoff until %s", retryAt.Format(time.RFC3339))
	}
	return limiter.Wait(ctx)
}

// backoff records a 429 from the provider
func (c *Client) backoff(resp *http.Response) {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		secs = 30
	}
	c.mu.Lock()
	c.retryAt = time.Now().Add(time.Duration(secs) * time.Second)
	c.mu.Unlock()
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type providerResponse struct {
	Results []struct {
		Title   string   `json:"title"`
		URL     string   `json:"url"`
		Content string   `json:"content"`
		Score   *float64 `json:"score"`
	} `json:"results"`
}

func (c *Client) searchTavily(ctx context.Context, cfg config.WebSearchConfig, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(tavilyRequest{APIKey: cfg.TavilyAPIKey, Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TavilyURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	parsed, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return normalize(parsed, 0), nil
}

func (c *Client) searchSearXNG(ctx context.Context, cfg config.WebSearchConfig, query string, maxResults int) ([]Result, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query)
	params.Set("pageno", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.SearXNGURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	parsed, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return normalize(parsed, maxResults), nil
}

func (c *Client) do(req *http.Request) (*providerResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.backoff(resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return &parsed, nil
}

// normalize maps provider hits to Results; limit 0 keeps all of them
func normalize(resp *providerResponse, limit int) []Result {
	hits := resp.Results
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{Title: h.Title, URL: h.URL, Snippet: h.Content, Score: h.Score})
	}
	return out
}
