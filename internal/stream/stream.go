// Package stream serializes agent events onto a streaming HTTP response.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aimerfeng/docagent/internal/logging"
	"github.com/aimerfeng/docagent/internal/monitoring"
	"github.com/rs/zerolog"
)

// Event types
const (
	TypeTextDelta  = "text_delta"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeDone       = "done"
	TypeError      = "error"

	subagentPrefix = "subagent_"
)

// Event is one protocol message. Fields are flattened next to "type" on the wire.
type Event struct {
	Type   string
	Fields map[string]any
}

// MarshalJSON flattens the event
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	return json.Marshal(out)
}

// TextDelta is an incremental piece of assistant text
func TextDelta(content string) Event {
	return Event{Type: TypeTextDelta, Fields: map[string]any{"content": content}}
}

// ToolCall announces a capability invocation before it runs
func ToolCall(name string, arguments json.RawMessage) Event {
	if len(arguments) == 0 || !json.Valid(arguments) {
		arguments = json.RawMessage(`{}`)
	}
	return Event{Type: TypeToolCall, Fields: map[string]any{"name": name, "arguments": arguments}}
}

// ToolResult reports a finished invocation. fields are the result payload.
func ToolResult(name string, fields map[string]any) Event {
	out := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["name"] = name
	out["completed"] = true
	return Event{Type: TypeToolResult, Fields: out}
}

// ToolError reports a failed invocation
func ToolError(name, message string) Event {
	return Event{Type: TypeToolResult, Fields: map[string]any{"name": name, "error": message}}
}

// Done is the terminal success event; title is set only when the thread was titled this turn
func Done(title *string) Event {
	fields := map[string]any{}
	if title != nil {
		fields["title"] = *title
	}
	return Event{Type: TypeDone, Fields: fields}
}

// Error is the terminal failure event
func Error(content string) Event {
	return Event{Type: TypeError, Fields: map[string]any{"content": content}}
}

// Sink receives events in order
type Sink interface {
	Emit(ev Event)
}

// Format is the framing used on the wire
type Format int

const (
	NDJSON Format = iota
	SSE
)

// NegotiateFormat picks SSE only when the client asks for it
func NegotiateFormat(accept string) Format {
	if strings.Contains(accept, "text/event-stream") {
		return SSE
	}
	return NDJSON
}

// ContentType for the format
func (f Format) ContentType() string {
	if f == SSE {
		return "text/event-stream"
	}
	return "application/x-ndjson"
}

// SetupHeaders prepares a streaming response
func SetupHeaders(w http.ResponseWriter, format Format, requestID string) {
	h := w.Header()
	h.Set("Content-Type", format.ContentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	if requestID != "" {
		h.Set("X-Request-ID", requestID)
	}
}

// Emitter writes events one per frame and flushes after each. After the
// first write failure it stops writing and silently drops further events.
type Emitter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	format  Format
	dropped bool
	written int
	logger  zerolog.Logger
}

// NewEmitter creates an emitter. If w implements http.Flusher it is flushed per event.
func NewEmitter(w io.Writer, format Format) *Emitter {
	e := &Emitter{
		w:      w,
		format: format,
		logger: logging.NewLogger("stream"),
	}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	monitoring.StreamStarted()
	return e
}

// Emit writes ev
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dropped {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error().Err(err).Str("type", ev.Type).Msg("Failed to encode event")
		return
	}

	switch e.format {
	case SSE:
		_, err = fmt.Fprintf(e.w, "data: %s\n\n", data)
	default:
		_, err = fmt.Fprintf(e.w, "%s\n", data)
	}
	if err != nil {
		e.dropped = true
		e.logger.Debug().Err(err).Int("written", e.written).Msg("Client gone, dropping events")
		return
	}
	e.written++
	if e.flusher != nil {
		e.flusher.Flush()
	}
}

// Disconnect stops further writes, for use when the client context is cancelled
func (e *Emitter) Disconnect() {
	e.mu.Lock()
	e.dropped = true
	e.mu.Unlock()
}

// Dropped reports whether the emitter stopped writing
func (e *Emitter) Dropped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close records the end of the stream
func (e *Emitter) Close() {
	e.mu.Lock()
	written, dropped := e.written, e.dropped
	e.mu.Unlock()
	monitoring.StreamFinished()
	e.logger.Debug().Int("events", written).Bool("dropped", dropped).Msg("Stream closed")
}

type subagentSink struct {
	parent Sink
}

// Subagent returns a sink that tags events as coming from a nested analysis.
// Terminal events are not forwarded: only the parent turn terminates the stream.
func Subagent(parent Sink) Sink {
	return subagentSink{parent: parent}
}

func (s subagentSink) Emit(ev Event) {
	if ev.Type == TypeDone || ev.Type == TypeError {
		return
	}
	if !strings.HasPrefix(ev.Type, subagentPrefix) {
		ev.Type = subagentPrefix + ev.Type
	}
	s.parent.Emit(ev)
}

// Collector buffers events in memory
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Emit(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Events returns a copy of everything emitted so far
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Types lists the event types in order
func (c *Collector) Types() []string {
	events := c.Events()
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
