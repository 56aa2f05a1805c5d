package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Zippland/Bubbles/internal/channel"
	"github.com/Zippland/Bubbles/internal/config"
	"github.com/Zippland/Bubbles/internal/llm"
	"github.com/Zippland/Bubbles/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chatServer answers every chat completion with reply.
func chatServer(t *testing.T, reply string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %q}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeTestConfig writes a config with one OpenAI-compatible model at
// baseURL and returns its path.
func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
data_dir: %s
log_level: warn
models:
  default: 0
  available:
    - id: 0
      name: Test
      provider: openai
      model: test-model
      base_url: %s/v1
      api_key: sk-test
search:
  default: searxng
channels:
  local:
    enabled: true
`, filepath.Join(dir, "data"), baseURL)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildRouter(t *testing.T) {
	cfg := config.ModelsConfig{
		Default:    2,
		TimeoutSec: 30,
		Available: []config.ModelConfig{
			{ID: 0, Name: "DeepSeek", Provider: config.ProviderOpenAI, Model: "deepseek-chat", APIKey: "k"},
			{ID: 1, Name: "Claude", Provider: config.ProviderAnthropic, Model: "claude-test", APIKey: "k"},
			{ID: 2, Name: "Local", Provider: config.ProviderOllama, Model: "qwen", BaseURL: "http://localhost:11434"},
		},
	}
	router, err := buildRouter(cfg, quietLogger())
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}

	models := router.Models()
	if len(models) != 3 {
		t.Fatalf("got %d models, want 3", len(models))
	}
	wantTypes := map[int]string{0: "*llm.OpenAIClient", 1: "*llm.AnthropicClient", 2: "*llm.OllamaClient"}
	for _, m := range models {
		if got := fmt.Sprintf("%T", m.Client); got != wantTypes[m.ID] {
			t.Errorf("model %d client = %s, want %s", m.ID, got, wantTypes[m.ID])
		}
	}
	if m, ok := router.Default(); !ok || m.Name != "Local" {
		t.Errorf("default = %+v, want Local", m)
	}
}

func TestBuildRouter_UnknownProvider(t *testing.T) {
	cfg := config.ModelsConfig{Available: []config.ModelConfig{{ID: 0, Name: "X", Provider: "carrier-pigeon"}}}
	if _, err := buildRouter(cfg, quietLogger()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestBuildSearch(t *testing.T) {
	if s := buildSearch(config.SearchConfig{Default: "tavily"}, quietLogger()); s != nil {
		t.Errorf("unconfigured search = %v, want nil", s)
	}
	// A backend other than the default does not make search available.
	cfg := config.SearchConfig{Default: "tavily", SearXNG: config.SearXNGConfig{URL: "http://searx.local"}}
	if s := buildSearch(cfg, quietLogger()); s != nil {
		t.Errorf("search without default backend = %v, want nil", s)
	}
	cfg.Default = "searxng"
	if s := buildSearch(cfg, quietLogger()); s == nil {
		t.Error("searxng default: got nil searcher")
	}
}

func TestMQTTStats(t *testing.T) {
	router := llm.NewRouter(1)
	router.Add(llm.Model{ID: 1, Name: "ChatGPT"})
	sessions := session.NewManager(t.Context(), nil, nil, "bot", quietLogger())
	if _, err := sessions.GetOrCreate(t.Context(), "local:u1", 10, false); err != nil {
		t.Fatal(err)
	}

	s := &mqttStats{router: router, sessions: sessions}
	if got := s.DefaultModel(); got != "ChatGPT" {
		t.Errorf("DefaultModel = %q", got)
	}
	if got := s.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions = %d, want 1", got)
	}
	if s.Version() == "" {
		t.Error("Version is empty")
	}

	empty := &mqttStats{router: llm.NewRouter(0), sessions: sessions}
	if got := empty.DefaultModel(); got != "" {
		t.Errorf("DefaultModel with no models = %q", got)
	}
}

func TestAskChannel(t *testing.T) {
	var out bytes.Buffer
	ch := newAskChannel("what time is it", &out)

	var got *channel.Message
	if err := ch.Start(t.Context(), func(_ context.Context, m *channel.Message) { got = m }); err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("handler not called")
	}
	if got.Content != "what time is it" || got.IsGroup || got.ChatID() != ch.chatID {
		t.Errorf("message = %+v", got)
	}
	if !strings.HasPrefix(ch.chatID, "ask_") {
		t.Errorf("chatID = %q", ch.chatID)
	}

	if err := ch.SendText(t.Context(), "noon", got.Sender, nil); err != nil {
		t.Fatal(err)
	}
	if out.String() != "noon\n" || ch.Replies() != 1 {
		t.Errorf("output = %q, replies = %d", out.String(), ch.Replies())
	}
}

func TestRunAsk(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, "四十二", &calls)
	cfgPath := writeTestConfig(t, srv.URL)

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), strings.NewReader(""), &stdout, &stderr,
		[]string{"-config", cfgPath, "ask", "生命的意义是什么"})
	if err != nil {
		t.Fatalf("ask: %v\nstderr:\n%s", err, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "四十二" {
		t.Errorf("stdout = %q, want the model reply only", got)
	}
	if calls.Load() != 1 {
		t.Errorf("model called %d times, want 1", calls.Load())
	}
}

func TestRunChat_GreetsThenQuits(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, "unused", &calls)
	cfgPath := writeTestConfig(t, srv.URL)

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), strings.NewReader("你好\nquit\n"), &stdout, &stderr,
		[]string{"-config", cfgPath, "chat"})
	if err != nil {
		t.Fatalf("chat: %v\nstderr:\n%s", err, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"local channel started", "/session setup", "再见！"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}
	// The first message in a new conversation is answered with a greeting.
	if calls.Load() != 0 {
		t.Errorf("model called %d times, want 0", calls.Load())
	}
}

func TestRunServe_NoChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("data_dir: "+filepath.Join(dir, "data")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := run(t.Context(), strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}, []string{"-config", path, "serve"})
	if err == nil || !strings.Contains(err.Error(), "no channel enabled") {
		t.Errorf("err = %v, want no channel enabled", err)
	}
}
