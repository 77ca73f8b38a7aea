package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Model service metrics
	ModelLatency  *prometheus.HistogramVec
	ModelRequests *prometheus.CounterVec
	ModelErrors   *prometheus.CounterVec

	// Retrieval metrics
	SearchRuns      *prometheus.CounterVec
	SearchFailures  *prometheus.CounterVec
	SearchDuration  *prometheus.HistogramVec
	RerankFallbacks prometheus.Counter

	// Agent metrics
	ToolCalls       *prometheus.CounterVec
	TurnsTotal      *prometheus.CounterVec
	TurnRounds      prometheus.Histogram
	PromptTokens    prometheus.Histogram
	SQLRejections   *prometheus.CounterVec
	StreamsInFlight prometheus.Gauge

	// Ingestion metrics
	DocumentsIngested *prometheus.CounterVec
	ChunksStored      prometheus.Counter
	IngestionDuration prometheus.Histogram

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var (
	metrics  *Metrics
	initOnce sync.Once
)

// Init initializes all Prometheus metrics
func Init() *Metrics {
	initOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Model service metrics
		ModelLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_service_latency_seconds",
				Help:    "Model service response latency in seconds",
				Buckets: []float64{.05, .1, .5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"endpoint"},
		),
		ModelRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_service_requests_total",
				Help: "Total number of requests to the model service",
			},
			[]string{"endpoint", "status"},
		),
		ModelErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_service_errors_total",
				Help: "Total number of model service errors",
			},
			[]string{"endpoint", "error_type"},
		),

		// Retrieval metrics
		SearchRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_strategy_runs_total",
				Help: "Total number of retrieval strategy executions",
			},
			[]string{"strategy"},
		),
		SearchFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_strategy_failures_total",
				Help: "Retrieval strategy executions that failed and were degraded to empty",
			},
			[]string{"strategy"},
		),
		SearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_duration_seconds",
				Help:    "End-to-end retrieval duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"mode", "reranked"},
		),
		RerankFallbacks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rerank_fallbacks_total",
				Help: "Rerank calls that fell back to unscored order",
			},
		),

		// Agent metrics
		ToolCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_calls_total",
				Help: "Tool invocations by name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_turns_total",
				Help: "Agent turns by terminal status",
			},
			[]string{"status"},
		),
		TurnRounds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_turn_rounds",
				Help:    "Generation rounds used per turn",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		),
		PromptTokens: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_prompt_tokens",
				Help:    "Estimated prompt tokens at the start of a turn",
				Buckets: prometheus.ExponentialBuckets(128, 2, 10),
			},
		),
		SQLRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sql_sandbox_rejections_total",
				Help: "Statements rejected by the SQL sandbox",
			},
			[]string{"reason"},
		),
		StreamsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_streams_in_flight",
				Help: "Number of chat turns currently streaming",
			},
		),

		// Ingestion metrics
		DocumentsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_ingested_total",
				Help: "Documents processed by terminal status",
			},
			[]string{"status"},
		),
		ChunksStored: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_stored_total",
				Help: "Total number of chunks persisted",
			},
		),
		IngestionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingestion_duration_seconds",
				Help:    "Background document processing duration in seconds",
				Buckets: []float64{.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		// Rate limiting metrics
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"route"},
		),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"query_type"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
			},
			[]string{"endpoint"},
		),
	}
}

// Get returns the metrics instance
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler returns a Gin handler for Prometheus metrics
func GinHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware returns a Gin middleware that records HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		// Track in-flight requests
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// Process request
		c.Next()

		// Record metrics
		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Helper functions for recording metrics

func RecordModelCall(endpoint, status string, duration time.Duration) {
	m := Get()
	m.ModelLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	m.ModelRequests.WithLabelValues(endpoint, status).Inc()
}

func RecordModelError(endpoint, errorType string) {
	Get().ModelErrors.WithLabelValues(endpoint, errorType).Inc()
}

func RecordSearchRun(strategy string, failed bool) {
	m := Get()
	m.SearchRuns.WithLabelValues(strategy).Inc()
	if failed {
		m.SearchFailures.WithLabelValues(strategy).Inc()
	}
}

func RecordSearch(mode string, reranked bool, duration time.Duration) {
	Get().SearchDuration.WithLabelValues(mode, strconv.FormatBool(reranked)).Observe(duration.Seconds())
}

func RecordRerankFallback() {
	Get().RerankFallbacks.Inc()
}

func RecordToolCall(tool, outcome string) {
	Get().ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordTurn records the terminal status of an agent turn
func RecordTurn(status string, rounds, promptTokens int) {
	m := Get()
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnRounds.Observe(float64(rounds))
	if promptTokens > 0 {
		m.PromptTokens.Observe(float64(promptTokens))
	}
}

func RecordSQLRejection(reason string) {
	Get().SQLRejections.WithLabelValues(reason).Inc()
}

func StreamStarted() {
	Get().StreamsInFlight.Inc()
}

func StreamFinished() {
	Get().StreamsInFlight.Dec()
}

// RecordIngestion records a finished background processing job
func RecordIngestion(status string, chunks int, duration time.Duration) {
	m := Get()
	m.DocumentsIngested.WithLabelValues(status).Inc()
	m.ChunksStored.Add(float64(chunks))
	m.IngestionDuration.Observe(duration.Seconds())
}

func RecordRateLimitHit(route string) {
	Get().RateLimitHits.WithLabelValues(route).Inc()
}

func RecordDBQuery(queryType string, duration time.Duration) {
	Get().DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the circuit breaker state
// 0 = closed, 0.5 = half-open, 1 = open
func SetCircuitBreakerState(endpoint string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(endpoint).Set(state)
}
