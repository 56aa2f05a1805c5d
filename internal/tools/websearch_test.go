package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Zippland/Bubbles/internal/search"
)

type fakeSearcher struct {
	results []search.Result
	err     error
	query   string
}

func (f *fakeSearcher) Search(_ context.Context, q string, _ search.Options) ([]search.Result, error) {
	f.query = q
	return f.results, f.err
}

func runSearch(t *testing.T, s Searcher, args map[string]any) string {
	t.Helper()
	r := NewRegistry(quietLogger())
	r.Register(WebSearchTool(s))
	return r.Execute(context.Background(), newCaller(), "web_search", args)
}

func TestWebSearch(t *testing.T) {
	fs := &fakeSearcher{results: []search.Result{{Title: "Paris", Content: "Sunny & 21°C", URL: "https://w.example/p"}}}
	got := runSearch(t, fs, map[string]any{"query": " Paris weather "})
	want := `{"results":[{"title":"Paris","content":"Sunny & 21°C","url":"https://w.example/p"}],"query":"Paris weather"}`
	if got != want {
		t.Errorf("result = %s\nwant     %s", got, want)
	}
	if fs.query != "Paris weather" {
		t.Errorf("query sent = %q", fs.query)
	}
}

func TestWebSearch_Errors(t *testing.T) {
	tests := []struct {
		name string
		s    Searcher
		args map[string]any
		want string
	}{
		{"empty query", &fakeSearcher{}, map[string]any{"query": " "}, "请提供搜索关键词"},
		{"no results", &fakeSearcher{}, map[string]any{"query": "q"}, "未找到相关结果"},
		{"backend error", &fakeSearcher{err: errors.New("HTTP 500")}, map[string]any{"query": "q"}, "搜索失败: HTTP 500"},
		{"unconfigured", nil, map[string]any{"query": "q"}, `tool "web_search" is not available`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeMap(t, runSearch(t, tt.s, tt.args))
			msg, _ := got["error"].(string)
			if !strings.HasPrefix(msg, tt.want) {
				t.Errorf("error = %q, want prefix %q", msg, tt.want)
			}
		})
	}
}
