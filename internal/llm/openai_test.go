package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIClient_Chat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "checking",
				"tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "web_search", "arguments": "{\"query\":\"golang\"}"}},
					{"id": "", "type": "function", "function": {"name": "reminder_list", "arguments": ""}}
				]}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-test", MaxTokens: 256}, quietLogger())
	messages := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Function: ToolCallFunction{Name: "web_search", Arguments: map[string]any{"query": "x"}}}}},
		{Role: RoleTool, Content: `{"results":[]}`, ToolCallID: "call_0"},
	}
	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "web_search",
			"description": "search",
			"parameters":  map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
		},
	}}

	resp, err := c.Chat(context.Background(), messages, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got["model"] != "gpt-test" {
		t.Errorf("request model = %v", got["model"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 4 {
		t.Errorf("request messages = %d, want 4", len(msgs))
	} else {
		toolMsg, _ := msgs[3].(map[string]any)
		if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "call_0" {
			t.Errorf("tool message = %v", toolMsg)
		}
		asst, _ := msgs[2].(map[string]any)
		if calls, _ := asst["tool_calls"].([]any); len(calls) != 1 {
			t.Errorf("assistant tool_calls = %v", asst["tool_calls"])
		}
	}
	if ts, _ := got["tools"].([]any); len(ts) != 1 {
		t.Errorf("request tools = %v", got["tools"])
	}

	if resp.Message.Content != "checking" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if len(resp.Message.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(resp.Message.ToolCalls))
	}
	first := resp.Message.ToolCalls[0]
	if first.ID != "call_1" || first.Function.Name != "web_search" || first.Function.Arguments["query"] != "golang" {
		t.Errorf("first call = %+v", first)
	}
	second := resp.Message.ToolCalls[1]
	if !strings.HasPrefix(second.ID, "call_") || len(second.ID) <= len("call_") {
		t.Errorf("missing id not synthesized: %q", second.ID)
	}
	if second.Function.Arguments == nil {
		t.Error("empty arguments should decode to an empty map")
	}
}

func TestOpenAIClient_MalformedArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "m",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "web_search", "arguments": "{\"query\": \"weath"}}
				]}}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, quietLogger())
	resp, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	fn := resp.Message.ToolCalls[0].Function
	if fn.ArgumentsError == "" {
		t.Error("malformed arguments were not flagged")
	}
	if fn.Arguments == nil || len(fn.Arguments) != 0 {
		t.Errorf("arguments = %v, want empty map", fn.Arguments)
	}
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, quietLogger())
	_, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("429 should be retryable: %v", err)
	}
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"{}", 0, false},
		{`{"a":1,"b":"x"}`, 2, false},
		{"not json", 0, true},
		{`{"query": "weather`, 0, true},
	}
	for _, tt := range tests {
		got, err := parseArguments(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseArguments(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if got == nil || len(got) != tt.want {
			t.Errorf("parseArguments(%q) = %v, want %d keys", tt.raw, got, tt.want)
		}
	}
}
