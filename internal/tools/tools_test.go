package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

// fakeCaller records status notices.
type fakeCaller struct {
	chatID   string
	senderID string
	group    bool
	visible  int
	statuses []string
}

func (f *fakeCaller) ChatID() string     { return f.chatID }
func (f *fakeCaller) SenderID() string   { return f.senderID }
func (f *fakeCaller) SenderName() string { return "Alice" }
func (f *fakeCaller) IsGroup() bool      { return f.group }
func (f *fakeCaller) VisibleLimit() int  { return f.visible }
func (f *fakeCaller) SendStatus(_ context.Context, text string) bool {
	f.statuses = append(f.statuses, text)
	return true
}

func newCaller() *fakeCaller {
	return &fakeCaller{chatID: "room1", senderID: "wx_alice", visible: 30}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeMap(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("result %q is not a JSON object: %v", s, err)
	}
	return m
}

func TestExecute_UnknownTool(t *testing.T) {
	r := NewRegistry(quietLogger())
	got := decodeMap(t, r.Execute(context.Background(), newCaller(), "does_not_exist", map[string]any{}))
	if got["error"] != "Unknown tool: does_not_exist" {
		t.Errorf("error = %v", got["error"])
	}
}

func TestExecute_HandlerPanicIsContained(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(&Tool{
		Name: "boom",
		Handler: func(context.Context, Caller, json.RawMessage) Result {
			panic("kaboom")
		},
	})
	got := decodeMap(t, r.Execute(context.Background(), newCaller(), "boom", nil))
	if got["error"] != "kaboom" {
		t.Errorf("error = %v, want kaboom", got["error"])
	}
}

func TestExecute_FailureResult(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(&Tool{
		Name: "fails",
		Handler: func(context.Context, Caller, json.RawMessage) Result {
			return Failure(errors.New("backend down"))
		},
	})
	got := decodeMap(t, r.Execute(context.Background(), newCaller(), "fails", nil))
	if got["error"] != "backend down" {
		t.Errorf("error = %v", got["error"])
	}
}

func TestExecute_SuccessEncoding(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(&Tool{Name: "str", Handler: func(context.Context, Caller, json.RawMessage) Result {
		return Success("plain text")
	}})
	r.Register(&Tool{Name: "obj", Handler: func(context.Context, Caller, json.RawMessage) Result {
		return Success(map[string]string{"html": "<b>中文</b>"})
	}})

	if got := r.Execute(context.Background(), newCaller(), "str", nil); got != "plain text" {
		t.Errorf("string result = %q", got)
	}
	if got := r.Execute(context.Background(), newCaller(), "obj", nil); got != `{"html":"<b>中文</b>"}` {
		t.Errorf("object result = %q", got)
	}
}

func TestExecute_TypedRejectsUnknownFields(t *testing.T) {
	type input struct {
		Query string `json:"query"`
	}
	r := NewRegistry(quietLogger())
	r.Register(&Tool{Name: "typed", Handler: Typed(func(_ context.Context, _ Caller, in input) Result {
		return Success(in.Query)
	})})

	if got := r.Execute(context.Background(), newCaller(), "typed", map[string]any{"query": "ok"}); got != "ok" {
		t.Errorf("valid args = %q", got)
	}
	got := decodeMap(t, r.Execute(context.Background(), newCaller(), "typed", map[string]any{"query": "ok", "extra": 1}))
	if msg, _ := got["error"].(string); !strings.HasPrefix(msg, "invalid arguments") {
		t.Errorf("unknown field error = %v", got["error"])
	}
	got = decodeMap(t, r.Execute(context.Background(), newCaller(), "typed", map[string]any{"query": 5}))
	if _, ok := got["error"]; !ok {
		t.Errorf("type mismatch accepted: %v", got)
	}
}

func TestExecute_StatusNotice(t *testing.T) {
	noop := func(context.Context, Caller, json.RawMessage) Result { return Success("ok") }
	tests := []struct {
		name string
		tool *Tool
		args map[string]any
		want []string
	}{
		{"no status", &Tool{Name: "t", Handler: noop}, nil, nil},
		{"text only", &Tool{Name: "t", StatusText: "正在设置提醒...", Handler: noop}, nil, []string{"正在设置提醒..."}},
		{"scalar arg", &Tool{Name: "t", StatusText: "正在搜索: ", StatusArg: "query", Handler: noop},
			map[string]any{"query": "Paris weather"}, []string{"正在搜索: Paris weather"}},
		{"list arg first three", &Tool{Name: "t", StatusText: "正在翻阅聊天记录: ", StatusArg: "keywords", Handler: noop},
			map[string]any{"keywords": []any{"a1", "b2", "c3", "d4"}}, []string{"正在翻阅聊天记录: a1、b2、c3"}},
		{"missing arg", &Tool{Name: "t", StatusText: "正在搜索: ", StatusArg: "query", Handler: noop},
			map[string]any{}, []string{"正在搜索: "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(quietLogger())
			r.Register(tt.tool)
			c := newCaller()
			r.Execute(context.Background(), c, "t", tt.args)
			if strings.Join(c.statuses, "|") != strings.Join(tt.want, "|") {
				t.Errorf("statuses = %q, want %q", c.statuses, tt.want)
			}
		})
	}
}

func TestDefinitions_OrderAndSchema(t *testing.T) {
	r := NewRegistry(quietLogger())
	noop := func(context.Context, Caller, json.RawMessage) Result { return Success("") }
	r.Register(&Tool{Name: "b", Description: "first", Handler: noop})
	r.Register(&Tool{Name: "a", Description: "second", Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
		"required":   []string{"q"},
	}, Handler: noop})
	r.Register(&Tool{Name: "b", Description: "replaced", Handler: noop})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}
	fn0 := defs[0]["function"].(map[string]any)
	if fn0["name"] != "b" || fn0["description"] != "replaced" {
		t.Errorf("defs[0] = %v, want replaced b in first position", fn0)
	}
	if defs[0]["type"] != "function" {
		t.Errorf("type = %v", defs[0]["type"])
	}

	params := fn0["parameters"].(map[string]any)
	if params["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v", params["additionalProperties"])
	}
	if req, ok := params["required"].([]string); !ok || len(req) != 0 {
		t.Errorf("required = %#v, want empty list", params["required"])
	}

	fn1 := defs[1]["function"].(map[string]any)
	req := fn1["parameters"].(map[string]any)["required"].([]string)
	if len(req) != 1 || req[0] != "q" {
		t.Errorf("required = %v", req)
	}
	if got := r.Names(); strings.Join(got, ",") != "b,a" {
		t.Errorf("Names = %v", got)
	}
}

func TestStringList(t *testing.T) {
	tests := map[string][]string{
		`"solo"`:             {"solo"},
		`["a","b"]`:          {"a", "b"},
		`["x", 2024, null]`: {"x", "2024"},
	}
	for in, want := range tests {
		var s stringList
		if err := json.Unmarshal([]byte(in), &s); err != nil {
			t.Fatalf("Unmarshal(%s): %v", in, err)
		}
		if strings.Join(s, ",") != strings.Join(want, ",") {
			t.Errorf("Unmarshal(%s) = %v, want %v", in, s, want)
		}
	}
	var s stringList
	if err := json.Unmarshal([]byte(`{"a":1}`), &s); err == nil {
		t.Error("object accepted as keyword list")
	}
}
