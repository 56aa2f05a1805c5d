package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Zippland/Bubbles/internal/history"
)

// Chat history lookup tuning.
const (
	historyContextWindow = 10
	historyMaxGroups     = 20
	defaultVisibleLimit  = 30
)

// HistoryQuerier is the part of the message log the lookup tool needs.
type HistoryQuerier interface {
	SearchWithContext(ctx context.Context, chatID string, keywords []string, contextWindow, maxGroups, excludeRecent int) ([]history.Segment, error)
	ReverseRange(ctx context.Context, chatID string, startOffset, endOffset int) (*history.RangeResult, error)
	TimeWindow(ctx context.Context, chatID, start, end string, excludeRecent int) ([]string, error)
}

type chatHistoryInput struct {
	Mode        string       `json:"mode"`
	Keywords    stringList   `json:"keywords"`
	StartOffset *json.Number `json:"start_offset"`
	EndOffset   *json.Number `json:"end_offset"`
	StartTime   string       `json:"start_time"`
	EndTime     string       `json:"end_time"`
}

type historySegment struct {
	MatchedKeywords []string `json:"matched_keywords"`
	Messages        []string `json:"messages"`
}

type keywordsPayload struct {
	Segments       []historySegment `json:"segments"`
	ReturnedGroups int              `json:"returned_groups"`
	Keywords       []string         `json:"keywords"`
	Notice         string           `json:"notice,omitempty"`
}

type rangePayload struct {
	StartOffset   int      `json:"start_offset"`
	EndOffset     int      `json:"end_offset"`
	Messages      []string `json:"messages"`
	ReturnedCount int      `json:"returned_count"`
	TotalMessages int      `json:"total_messages"`
	Notice        string   `json:"notice,omitempty"`
}

type timePayload struct {
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	Messages      []string `json:"messages"`
	ReturnedCount int      `json:"returned_count"`
	Notice        string   `json:"notice,omitempty"`
}

// ChatHistoryTool looks back past the visible window of the current chat
// by keyword, by reverse offset, or by time range.
func ChatHistoryTool(store HistoryQuerier) *Tool {
	return &Tool{
		Name: "lookup_chat_history",
		Description: "查询聊天历史记录。你当前只能看到最近的消息，" +
			"调用此工具可以回溯更早的上下文。支持 keywords/range/time 三种模式。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode": map[string]any{
					"type":        "string",
					"enum":        []string{"keywords", "range", "time"},
					"description": "查询模式",
				},
				"keywords": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "mode=keywords 时的搜索关键词",
				},
				"start_offset": map[string]any{
					"type":        "integer",
					"description": "mode=range 时的起始偏移（从最新消息倒数）",
				},
				"end_offset": map[string]any{
					"type":        "integer",
					"description": "mode=range 时的结束偏移",
				},
				"start_time": map[string]any{
					"type":        "string",
					"description": "mode=time 时的开始时间 (YYYY-MM-DD HH:MM)",
				},
				"end_time": map[string]any{
					"type":        "string",
					"description": "mode=time 时的结束时间 (YYYY-MM-DD HH:MM)",
				},
			},
		},
		StatusText: "正在翻阅聊天记录: ",
		StatusArg:  "keywords",
		Handler: Typed(func(ctx context.Context, c Caller, in chatHistoryInput) Result {
			if store == nil {
				return Errorf("消息历史功能不可用")
			}
			visible := c.VisibleLimit()
			if visible <= 0 {
				visible = defaultVisibleLimit
			}

			switch mode := inferMode(in); mode {
			case "keywords":
				return lookupKeywords(ctx, store, c.ChatID(), in.Keywords, visible)
			case "range":
				return lookupRange(ctx, store, c.ChatID(), in.StartOffset, in.EndOffset, visible)
			case "time":
				return lookupTime(ctx, store, c.ChatID(), in.StartTime, in.EndTime, visible)
			default:
				return Errorf("不支持的模式: %s", mode)
			}
		}),
	}
}

// inferMode picks a mode from the arguments present when none is given.
func inferMode(in chatHistoryInput) string {
	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode != "" {
		return mode
	}
	switch {
	case in.StartTime != "" && in.EndTime != "":
		return "time"
	case in.StartOffset != nil && in.EndOffset != nil:
		return "range"
	default:
		return "keywords"
	}
}

// cleanKeywords trims, drops single-character non-numeric terms and
// removes case-insensitive duplicates, keeping first spelling.
func cleanKeywords(raw []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, kw := range raw {
		s := strings.TrimSpace(kw)
		if s == "" {
			continue
		}
		if len([]rune(s)) <= 1 && !isDigits(s) {
			continue
		}
		low := strings.ToLower(s)
		if seen[low] {
			continue
		}
		seen[low] = true
		out = append(out, s)
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func lookupKeywords(ctx context.Context, store HistoryQuerier, chatID string, raw []string, visible int) Result {
	cleaned := cleanKeywords(raw)
	if len(cleaned) == 0 {
		return Errorf("未提供有效关键词")
	}

	segs, err := store.SearchWithContext(ctx, chatID, cleaned, historyContextWindow, historyMaxGroups, visible)
	if err != nil {
		return Failure(err)
	}

	payload := keywordsPayload{Segments: []historySegment{}, Keywords: cleaned}
	linesSeen := make(map[string]bool)
	for _, seg := range segs {
		var fresh []string
		for _, line := range seg.Lines {
			if !linesSeen[line] {
				fresh = append(fresh, line)
			}
		}
		for _, line := range fresh {
			linesSeen[line] = true
		}
		if len(fresh) > 0 {
			payload.Segments = append(payload.Segments, historySegment{
				MatchedKeywords: seg.MatchedKeywords,
				Messages:        fresh,
			})
		}
	}
	payload.ReturnedGroups = len(payload.Segments)
	if payload.ReturnedGroups == 0 {
		payload.Notice = "未找到匹配的消息。"
	}
	return Success(payload)
}

func lookupRange(ctx context.Context, store HistoryQuerier, chatID string, startRaw, endRaw *json.Number, visible int) Result {
	if startRaw == nil || endRaw == nil {
		return Errorf("range 模式需要 start_offset 和 end_offset")
	}
	start64, err1 := startRaw.Int64()
	end64, err2 := endRaw.Int64()
	if err1 != nil || err2 != nil {
		return Errorf("start_offset 和 end_offset 必须是整数")
	}
	start, end := int(start64), int(end64)
	if start <= visible || end <= visible {
		return Errorf("偏移量必须大于 %d 以排除当前可见消息", visible)
	}

	res, err := store.ReverseRange(ctx, chatID, start, end)
	if err != nil {
		return Failure(err)
	}
	payload := rangePayload{
		StartOffset:   res.StartOffset,
		EndOffset:     res.EndOffset,
		Messages:      res.Lines,
		ReturnedCount: len(res.Lines),
		TotalMessages: res.Total,
	}
	if payload.ReturnedCount == 0 {
		payload.Notice = "请求范围内没有消息。"
	}
	return Success(payload)
}

// lookupTime skips the newest visible messages, which the model already
// has in its window.
func lookupTime(ctx context.Context, store HistoryQuerier, chatID, start, end string, visible int) Result {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return Errorf("time 模式需要 start_time 和 end_time")
	}

	lines, err := store.TimeWindow(ctx, chatID, start, end, visible)
	if errors.Is(err, history.ErrInvalidTime) {
		return Errorf("无法解析时间: %s ~ %s", start, end)
	}
	if err != nil {
		return Failure(err)
	}
	payload := timePayload{
		StartTime:     start,
		EndTime:       end,
		Messages:      lines,
		ReturnedCount: len(lines),
	}
	if len(lines) == 0 {
		payload.Notice = "该时间范围内没有消息。"
	}
	return Success(payload)
}
