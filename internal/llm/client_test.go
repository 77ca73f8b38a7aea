package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aimerfeng/docagent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(&config.ModelConfig{
		BaseURL:        url,
		RequestTimeout: 5 * time.Second,
		MaxTimeout:     30 * time.Second,
	})
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStream_AssemblesToolCallsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req ChatRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.True(t, req.Stream)

		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Let me "}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"check."}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"search_documents","arguments":"{\"qu"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"query_database","arguments":"{\"sql\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"rag\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"\"SELECT 1\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":12,"completion_tokens":7,"total_tokens":19}}`,
		)
	}))
	defer srv.Close()

	var deltas []string
	completion, err := newTestClient(srv.URL).Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(s string) { deltas = append(deltas, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Let me ", "check."}, deltas)
	assert.Equal(t, "Let me check.", completion.Content)
	assert.Equal(t, "tool_calls", completion.FinishReason)
	require.Len(t, completion.ToolCalls, 2)
	assert.Equal(t, "call_a", completion.ToolCalls[0].ID)
	assert.Equal(t, "search_documents", completion.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"query":"rag"}`, completion.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "query_database", completion.ToolCalls[1].Function.Name)
	assert.JSONEq(t, `{"sql":"SELECT 1"}`, completion.ToolCalls[1].Function.Arguments)
	require.NotNil(t, completion.Usage)
	assert.Equal(t, 12, completion.Usage.PromptTokens)
}

func TestStream_GeneratesMissingToolCallID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":3,"function":{"name":"web_search","arguments":"{}"}}]}}]}`,
		)
	}))
	defer srv.Close()

	completion, err := newTestClient(srv.URL).Stream(context.Background(), ChatRequest{}, nil)
	require.NoError(t, err)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, "call_3", completion.ToolCalls[0].ID)
}

func TestComplete_NormalizesContentParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":[{"type":"text","text":"Hello "},{"type":"text","text":"world"}]},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	completion, err := newTestClient(srv.URL).Complete(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", completion.Content)
	assert.Equal(t, "stop", completion.FinishReason)
	assert.Empty(t, completion.ToolCalls)
}

func TestComplete_NullContentWithToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[{"id":"x","function":{"name":"search_within_document","arguments":"{\"query\":\"a\"}"}}]}}]}`)
	}))
	defer srv.Close()

	completion, err := newTestClient(srv.URL).Complete(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "", completion.Content)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, "function", completion.ToolCalls[0].Type)
}

func TestCircuitBreaker_TripsOnUpstreamFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	threshold := int(DefaultCircuitBreakerConfig().FailureThreshold)

	for i := 0; i < threshold; i++ {
		_, err := client.Complete(context.Background(), ChatRequest{})
		if !errors.Is(err, ErrUpstream) {
			t.Fatalf("call %d: expected ErrUpstream, got %v", i, err)
		}
	}

	_, err := client.Complete(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after %d failures, got %v", threshold, err)
	}
	assert.Equal(t, int32(threshold), hits.Load())
	assert.True(t, client.Breakers().IsOpen(EndpointChat))
	assert.False(t, client.Breakers().IsOpen(EndpointEmbeddings))
}

func TestCircuitBreaker_IgnoresRejectedRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"bad tool schema"}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	for i := 0; i < 10; i++ {
		_, err := client.Complete(context.Background(), ChatRequest{})
		require.ErrorIs(t, err, ErrRejected)
	}
	assert.False(t, client.Breakers().IsOpen(EndpointChat))
}

func TestEmbed_PreservesInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	vectors, err := newTestClient(srv.URL).Embed(context.Background(), "nomic", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestEmbed_CountMismatchIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), "nomic", []string{"a", "b"})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/models", r.URL.Path)
		fmt.Fprint(w, `{"data":[
			{"id":"qwen3-8b","type":"llm","arch":"qwen3","quantization":"Q4_K_M","state":"loaded","max_context_length":32768},
			{"id":"nomic-embed-text-v1.5","type":"embeddings","arch":"nomic-bert","state":"not-loaded"}
		]}`)
	}))
	defer srv.Close()

	models, err := newTestClient(srv.URL).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.True(t, models[0].IsLoaded())
	assert.False(t, models[0].IsEmbedding())
	assert.Equal(t, 32768, models[0].MaxContextLength)
	assert.True(t, models[1].IsEmbedding())
	assert.False(t, models[1].IsLoaded())
}

func TestCleanJSONReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `[{"index":0,"score":0.5}]`, `[{"index":0,"score":0.5}]`},
		{"think block", "<think>hmm\nlet me see</think>\n[1]", "[1]"},
		{"special tokens", "<|begin_of_sentence|>[1]<|end|>", "[1]"},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[]\n```  ", "[]"},
		{"everything", "<think>x</think> ```JSON\n[2]\n```", "[2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONReply(tt.in))
		})
	}
}

func TestActiveModel_VersionIncrementsPerChange(t *testing.T) {
	active := NewActiveModel("qwen3-8b")
	initial := active.Snapshot()
	assert.Equal(t, "qwen3-8b", initial.ID)
	assert.Equal(t, uint64(0), initial.Version)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			active.Set(context.Background(), fmt.Sprintf("model-%d", i))
		}(i)
	}
	wg.Wait()

	final := active.Snapshot()
	assert.Equal(t, uint64(writers), final.Version)
	assert.True(t, strings.HasPrefix(final.ID, "model-"))

	// earlier snapshots are unaffected by later changes
	assert.Equal(t, "qwen3-8b", initial.ID)
}

func TestTimeoutManager_Clamp(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{DefaultTimeout: 10 * time.Second, MinTimeout: time.Second, MaxTimeout: time.Minute})
	assert.Equal(t, 10*time.Second, tm.GetTimeout(0))
	assert.Equal(t, time.Second, tm.GetTimeout(time.Millisecond))
	assert.Equal(t, time.Minute, tm.GetTimeout(time.Hour))
	assert.Equal(t, 30*time.Second, tm.GetTimeout(30*time.Second))
}
