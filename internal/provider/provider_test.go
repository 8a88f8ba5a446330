package provider

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/batalabs/qoze/internal/domain"
)

// writeSSE writes one SSE data line and flushes.
func writeSSE(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestGetProvider(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"anthropic", "anthropic", false},
		{"Anthropic", "anthropic", false},
		{"deepseek", "deepseek", false},
		{"qwen", "qwen", false},
		{"zhipu", "zhipu", false},
		{"openai", "openai", false},
		{"", "", true},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		p, err := GetProvider(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("GetProvider(%q): expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("GetProvider(%q): %v", tt.name, err)
			continue
		}
		if p.Name() != tt.want {
			t.Errorf("GetProvider(%q).Name() = %q, want %q", tt.name, p.Name(), tt.want)
		}
	}
}

func TestResolveProviderAndModel(t *testing.T) {
	tests := []struct {
		spec         string
		current      string
		wantProvider string
		wantModel    string
	}{
		{"openai/gpt-4o", "anthropic", "openai", "gpt-4o"},
		{"anthropic/sonnet", "openai", "anthropic", "claude-sonnet-4-5"},
		{"claude-sonnet", "openai", "anthropic", "claude-sonnet-4-5"},
		{"claude-3-7-sonnet-latest", "openai", "anthropic", "claude-3-7-sonnet-latest"},
		{"deepseek-reasoner", "anthropic", "deepseek", "deepseek-reasoner"},
		{"qwen-max", "anthropic", "qwen", "qwen-max"},
		{"glm-4-plus", "anthropic", "zhipu", "glm-4-plus"},
		{"zai/glm-4-plus", "anthropic", "zhipu", "glm-4-plus"},
		{"gpt-4o-mini", "anthropic", "openai", "gpt-4o-mini"},
		{"some-unknown-model", "deepseek", "deepseek", "some-unknown-model"},
		{"", "anthropic", "anthropic", ""},
	}
	for _, tt := range tests {
		prov, model := ResolveProviderAndModel(tt.spec, tt.current)
		if prov != tt.wantProvider || model != tt.wantModel {
			t.Errorf("ResolveProviderAndModel(%q, %q) = (%q, %q), want (%q, %q)",
				tt.spec, tt.current, prov, model, tt.wantProvider, tt.wantModel)
		}
	}
}

func TestAnthropicStream_textAndThinking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, `{"type":"message_start","message":{"usage":{"input_tokens":10}}}`)
		writeSSE(w, `{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`)
		writeSSE(w, `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"pondering"}}`)
		writeSSE(w, `{"type":"content_block_start","index":1,"content_block":{"type":"text"}}`)
		writeSSE(w, `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hello "}}`)
		writeSSE(w, `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"world"}}`)
		writeSSE(w, `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`)
	}))
	defer srv.Close()

	var deltas, reasoning string
	p := &AnthropicProvider{BaseURL: srv.URL}
	blocks, stop, usage, err := p.StreamMessage("key", "claude-sonnet-4-5", []domain.TranscriptMessage{
		{Role: "user", Content: "hi"},
	}, nil, "", StreamCallbacks{
		OnDelta:     func(s string) { deltas += s },
		OnReasoning: func(s string) { reasoning += s },
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if stop != "end_turn" {
		t.Errorf("stop = %q", stop)
	}
	if deltas != "Hello world" {
		t.Errorf("deltas = %q", deltas)
	}
	if reasoning != "pondering" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if len(blocks) != 2 || blocks[0].Type != "thinking" || blocks[1].Text != "Hello world" {
		t.Errorf("blocks = %+v", blocks)
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestAnthropicStream_toolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tu_1","name":"grep"}}`)
		writeSSE(w, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"pattern\":"}}`)
		writeSSE(w, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"main\"}"}}`)
		writeSSE(w, `{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`)
	}))
	defer srv.Close()

	p := &AnthropicProvider{BaseURL: srv.URL}
	blocks, stop, _, err := p.StreamMessage("key", "claude-sonnet-4-5", []domain.TranscriptMessage{
		{Role: "user", Content: "hi"},
	}, nil, "", StreamCallbacks{})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if stop != "tool_use" {
		t.Errorf("stop = %q", stop)
	}
	if len(blocks) != 1 || blocks[0].ToolUseID != "tu_1" || blocks[0].ToolName != "grep" {
		t.Fatalf("blocks = %+v", blocks)
	}
	if blocks[0].ToolInput["pattern"] != "main" {
		t.Errorf("input = %+v", blocks[0].ToolInput)
	}
}

func TestAnthropicStream_httpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("retry-after-ms", "1500")
		w.WriteHeader(429)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	p := &AnthropicProvider{BaseURL: srv.URL}
	_, _, _, err := p.StreamMessage("key", "claude-sonnet-4-5", nil, nil, "", StreamCallbacks{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if !apiErr.IsRetryable() {
		t.Error("429 should be retryable")
	}
	if apiErr.RetryAfterMs != 1500 {
		t.Errorf("RetryAfterMs = %d", apiErr.RetryAfterMs)
	}
}

func TestAnthropicStream_midStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`)
		writeSSE(w, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"part"}}`)
		writeSSE(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	}))
	defer srv.Close()

	p := &AnthropicProvider{BaseURL: srv.URL}
	_, _, _, err := p.StreamMessage("key", "claude-sonnet-4-5", nil, nil, "", StreamCallbacks{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.ErrorType != "overloaded_error" || !apiErr.IsRetryable() {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestOpenAICompatStream_reasoningContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, `{"choices":[{"index":0,"delta":{"reasoning_content":"thinking hard"}}]}`)
		writeSSE(w, `{"choices":[{"index":0,"delta":{"content":"The answer"}}]}`)
		writeSSE(w, `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`)
		writeSSE(w, "[DONE]")
	}))
	defer srv.Close()

	var deltas, reasoning string
	p := &OpenAICompatProvider{ProviderName: "deepseek", BaseURL: srv.URL}
	blocks, stop, usage, err := p.StreamMessage("key", "deepseek-reasoner", []domain.TranscriptMessage{
		{Role: "user", Content: "hi"},
	}, nil, "sys", StreamCallbacks{
		OnDelta:     func(s string) { deltas += s },
		OnReasoning: func(s string) { reasoning += s },
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if stop != "end_turn" {
		t.Errorf("stop = %q", stop)
	}
	if reasoning != "thinking hard" || deltas != "The answer" {
		t.Errorf("reasoning = %q, deltas = %q", reasoning, deltas)
	}
	if len(blocks) != 2 || blocks[0].Type != "thinking" || blocks[1].Type != "text" {
		t.Fatalf("blocks = %+v", blocks)
	}
	if usage.InputTokens != 7 || usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestOpenAICompatStream_toolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"file_read","arguments":""}}]}}]}`)
		writeSSE(w, `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":\"a.go\"}"}}]}}]}`)
		writeSSE(w, `{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`)
		writeSSE(w, "[DONE]")
	}))
	defer srv.Close()

	p := &OpenAICompatProvider{ProviderName: "openai", BaseURL: srv.URL}
	blocks, stop, _, err := p.StreamMessage("key", "gpt-4o", []domain.TranscriptMessage{
		{Role: "user", Content: "hi"},
	}, nil, "", StreamCallbacks{})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if stop != "tool_use" {
		t.Errorf("stop = %q, want normalized tool_use", stop)
	}
	if len(blocks) != 1 || blocks[0].ToolUseID != "call_1" || blocks[0].ToolName != "file_read" {
		t.Fatalf("blocks = %+v", blocks)
	}
	if blocks[0].ToolInput["path"] != "a.go" {
		t.Errorf("input = %+v", blocks[0].ToolInput)
	}
}
