package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		validTools []string
		wantCount  int
		wantName   string
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "whitespace only", content: "   \n\t  ", wantCount: 0},
		{name: "plain text", content: "今天天气不错。", wantCount: 0},
		{
			name:      "single object",
			content:   `{"name": "web_search", "arguments": {"query": "天气"}}`,
			wantCount: 1,
			wantName:  "web_search",
		},
		{
			name:      "array",
			content:   `[{"name": "reminder_list", "arguments": {}}, {"name": "web_search", "arguments": {"query": "x"}}]`,
			wantCount: 2,
			wantName:  "reminder_list",
		},
		{
			name:      "tagged",
			content:   `<tool_call>{"name": "reminder_list", "arguments": {}}</tool_call>`,
			wantCount: 1,
			wantName:  "reminder_list",
		},
		{
			name:      "tagged without closing tag",
			content:   `<tool_call>{"name": "web_search", "arguments": {"query": "go"}}`,
			wantCount: 1,
			wantName:  "web_search",
		},
		{
			name:      "tagged with preamble",
			content:   `我查一下。<tool_call>{"name": "web_search", "arguments": {"query": "go"}}</tool_call>`,
			wantCount: 1,
			wantName:  "web_search",
		},
		{
			name:      "concatenated objects with trailing prose",
			content:   `{"name": "web_search", "arguments": {"query": "a"}}{"name": "reminder_list", "arguments": {}}以上`,
			wantCount: 2,
			wantName:  "web_search",
		},
		{name: "malformed", content: `{"name": "web_search", "arguments": {`, wantCount: 0},
		{name: "no name", content: `{"foo": "bar", "arguments": {}}`, wantCount: 0},
		{
			name:       "unknown tool rejected",
			content:    `{"name": "rm_rf", "arguments": {}}`,
			validTools: []string{"web_search"},
			wantCount:  0,
		},
		{
			name:       "mixed valid and invalid",
			content:    `[{"name": "web_search", "arguments": {}}, {"name": "rm_rf", "arguments": {}}]`,
			validTools: []string{"web_search"},
			wantCount:  1,
			wantName:   "web_search",
		},
		{
			name:       "tool name then json",
			content:    `web_search {"query": "北京天气"} 稍等`,
			validTools: []string{"web_search"},
			wantCount:  1,
			wantName:   "web_search",
		},
		{
			name:      "tool name then json needs known tools",
			content:   `web_search {"query": "x"}`,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content, tt.validTools)
			if len(got) != tt.wantCount {
				t.Fatalf("parseTextToolCalls() returned %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("first call = %q, want %q", got[0].Function.Name, tt.wantName)
			}
			for _, c := range got {
				if c.Function.Arguments == nil {
					t.Errorf("call %q has nil arguments", c.Function.Name)
				}
			}
		})
	}
}

func TestToolNames(t *testing.T) {
	tools := []map[string]any{
		{"function": map[string]any{"name": "web_search"}},
		{"broken": "entry"},
		{"function": map[string]any{"name": "reminder_list"}},
	}
	got := toolNames(tools)
	if len(got) != 2 || got[0] != "web_search" || got[1] != "reminder_list" {
		t.Errorf("toolNames = %v", got)
	}
}

func ollamaServer(t *testing.T, reply string, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(body, seen)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, reply+"\n")
	}))
}

func TestOllamaClient_NativeToolCalls(t *testing.T) {
	var req map[string]any
	srv := ollamaServer(t, `{"model":"qwen3","created_at":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"web_search","arguments":{"query":"go"}}}]},"done":true,"prompt_eval_count":11,"eval_count":4}`, &req)
	defer srv.Close()

	c, err := NewOllamaClient(srv.URL, "qwen3", srv.Client(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	tools := []map[string]any{{
		"type":     "function",
		"function": map[string]any{"name": "web_search", "description": "search", "parameters": map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}}},
	}}
	resp, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if req["stream"] != false {
		t.Errorf("stream = %v, want false", req["stream"])
	}
	if ts, _ := req["tools"].([]any); len(ts) != 1 {
		t.Errorf("tools = %v", req["tools"])
	}
	if resp.InputTokens != 11 || resp.OutputTokens != 4 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Name != "web_search" {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.Message.ToolCalls[0].ID == "" {
		t.Error("tool call id should be synthesized")
	}
}

func TestOllamaClient_TextToolCalls(t *testing.T) {
	srv := ollamaServer(t, `{"model":"qwen3","created_at":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":"<tool_call>{\"name\": \"web_search\", \"arguments\": {\"query\": \"go\"}}</tool_call>"},"done":true}`, nil)
	defer srv.Close()

	c, err := NewOllamaClient(srv.URL, "qwen3", srv.Client(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "web_search"}}}
	resp, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.Message.Content != "" {
		t.Errorf("content should be cleared once parsed as a call, got %q", resp.Message.Content)
	}
}

func TestOllamaClient_PlainReply(t *testing.T) {
	srv := ollamaServer(t, `{"model":"qwen3","created_at":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":"你好"},"done":true}`, nil)
	defer srv.Close()

	c, _ := NewOllamaClient(srv.URL, "qwen3", nil, quietLogger())
	resp, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "你好" || len(resp.Message.ToolCalls) != 0 {
		t.Errorf("resp = %+v", resp.Message)
	}
	if resp.Model != "qwen3" {
		t.Errorf("model = %q", resp.Model)
	}
}
