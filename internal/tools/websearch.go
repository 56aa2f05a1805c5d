package tools

import (
	"context"
	"strings"
	"time"

	"github.com/Zippland/Bubbles/internal/search"
)

const webSearchTimeout = 30 * time.Second

// Searcher runs a web query.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

type webSearchInput struct {
	Query string `json:"query"`
}

type webSearchPayload struct {
	Results []search.Result `json:"results"`
	Query   string          `json:"query"`
}

// WebSearchTool searches the web through s. A nil s leaves the tool
// registered but reporting itself unavailable.
func WebSearchTool(s Searcher) *Tool {
	return &Tool{
		Name: "web_search",
		Description: "在网络上搜索最新信息。用于回答需要实时数据、新闻、或你不确定的事实性问题。" +
			"返回多个搜索结果，包含标题、内容摘要和来源链接。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "搜索关键词或问题",
				},
			},
			"required": []string{"query"},
		},
		StatusText: "正在搜索: ",
		StatusArg:  "query",
		Handler: Typed(func(ctx context.Context, _ Caller, in webSearchInput) Result {
			query := strings.TrimSpace(in.Query)
			if query == "" {
				return Errorf("请提供搜索关键词")
			}
			if s == nil {
				return Failure(&ErrToolUnavailable{ToolName: "web_search", Reason: "no search provider configured"})
			}

			ctx, cancel := context.WithTimeout(ctx, webSearchTimeout)
			defer cancel()

			results, err := s.Search(ctx, query, search.Options{Count: search.DefaultCount})
			if err != nil {
				return Errorf("搜索失败: %v", err)
			}
			if len(results) == 0 {
				return Errorf("未找到相关结果")
			}
			return Success(webSearchPayload{Results: results, Query: query})
		}),
	}
}
