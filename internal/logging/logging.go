package logging

import (
	"io"
	"os"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure time format
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Configure output based on format and environment
	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	// Set global logger
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "docagent").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		requestID := c.GetString("request_id")

		// Build log event
		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("user_id", c.GetString("user_id")).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// TurnLogEntry summarizes one agent turn
type TurnLogEntry struct {
	RequestID    string
	ThreadID     string
	UserID       string
	Model        string
	ModelVersion uint64
	Rounds       int
	ToolCalls    int
	PromptTokens int
	Latency      time.Duration
	Status       string
	TitleSet     bool
}

// LogTurn logs a finished (or failed) agent turn
func LogTurn(entry *TurnLogEntry) {
	event := log.Info()
	if entry.Status != "done" {
		event = log.Warn()
	}

	event.
		Str("request_id", entry.RequestID).
		Str("thread_id", entry.ThreadID).
		Str("user_id", entry.UserID).
		Str("model", entry.Model).
		Uint64("model_version", entry.ModelVersion).
		Int("rounds", entry.Rounds).
		Int("tool_calls", entry.ToolCalls).
		Int("prompt_tokens", entry.PromptTokens).
		Dur("latency", entry.Latency).
		Str("status", entry.Status).
		Bool("title_set", entry.TitleSet).
		Msg("Agent turn")
}

// LogToolCall logs a single capability invocation
func LogToolCall(requestID, tool string, nested bool, latency time.Duration, err error) {
	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}

	event.
		Str("request_id", requestID).
		Str("tool", tool).
		Bool("subagent", nested).
		Dur("latency", latency).
		Msg("Tool call")
}

// LogIngestion logs a document status transition
func LogIngestion(documentID, userID, status string, chunkCount int, err error) {
	event := log.Info()
	if err != nil {
		event = log.Error().Err(err)
	}

	event.
		Str("document_id", documentID).
		Str("user_id", userID).
		Str("status", status).
		Int("chunk_count", chunkCount).
		Msg("Document ingestion")
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, userID, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("user_id", userID).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}

// LogError logs an error with context
func LogError(err error, requestID, component, operation string) {
	log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("component", component).
		Str("operation", operation).
		Msg("Error occurred")
}

// SanitizeForLog truncates long strings before they are logged
func SanitizeForLog(data string, maxLen int) string {
	if len(data) > maxLen {
		return data[:maxLen] + "...[truncated]"
	}
	return data
}
