// Package agent runs the tool-calling conversation loop.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zippland/Bubbles/internal/events"
	"github.com/Zippland/Bubbles/internal/llm"
	"github.com/Zippland/Bubbles/internal/tools"
)

// DefaultMaxIterations bounds model calls per turn.
const DefaultMaxIterations = 20

// ExhaustedReply is returned when the model is still calling tools after
// the last allowed iteration.
const ExhaustedReply = "抱歉，处理过程中遇到了问题，请稍后再试。"

// Loop alternates model calls and tool execution until the model answers
// in plain text.
type Loop struct {
	tools         *tools.Registry
	maxIterations int
	bus           *events.Bus
	logger        *slog.Logger
}

// LoopConfig tunes a Loop. Zero values take defaults; Bus may be nil.
type LoopConfig struct {
	MaxIterations int
	Bus           *events.Bus
}

// NewLoop creates a loop that dispatches through reg.
func NewLoop(reg *tools.Registry, cfg LoopConfig, logger *slog.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tools:         reg,
		maxIterations: cfg.MaxIterations,
		bus:           cfg.Bus,
		logger:        logger,
	}
}

// MaxIterations returns the per-turn model call budget.
func (l *Loop) MaxIterations() int { return l.maxIterations }

// Run drives one turn. messages is extended in place with every assistant
// tool-call message and tool result. onProgress, when set, receives text
// the model produced alongside tool calls. Provider errors are returned;
// running out of iterations is not an error and yields ExhaustedReply.
func (l *Loop) Run(ctx context.Context, provider llm.Client, messages *[]llm.Message, actx *Context, onProgress func(string)) (string, error) {
	reqID := generateRequestID()
	start := time.Now()
	defs := l.tools.Definitions()
	log := l.logger.With("request_id", reqID)

	var chatID, sessionKey string
	if actx != nil {
		chatID = actx.ChatID()
		if s := actx.Session(); s != nil {
			sessionKey = s.Key
		}
	}
	l.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id": reqID, "chat_id": chatID, "session": sessionKey,
	})

	var tokensIn, tokensOut int
	complete := func(iterations int, exhausted bool) {
		l.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
			"request_id": reqID,
			"iterations": iterations,
			"tokens_in":  tokensIn,
			"tokens_out": tokensOut,
			"exhausted":  exhausted,
			"elapsed_ms": time.Since(start).Milliseconds(),
		})
	}

	for i := range l.maxIterations {
		l.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
			"request_id": reqID, "iter": i,
		})

		resp, err := provider.Chat(ctx, *messages, defs)
		if err != nil {
			complete(i+1, false)
			return "", fmt.Errorf("model call %d: %w", i+1, err)
		}
		tokensIn += resp.InputTokens
		tokensOut += resp.OutputTokens

		calls := resp.Message.ToolCalls
		l.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
			"request_id": reqID,
			"iter":       i,
			"model":      resp.Model,
			"tokens_in":  resp.InputTokens,
			"tokens_out": resp.OutputTokens,
			"tool_calls": len(calls),
		})

		if len(calls) == 0 {
			log.Debug("turn complete", "iterations", i+1, "tokens_in", tokensIn, "tokens_out", tokensOut)
			complete(i+1, false)
			return resp.Message.Content, nil
		}

		if resp.Message.Content != "" && onProgress != nil {
			onProgress(resp.Message.Content)
		}

		*messages = append(*messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})

		for _, tc := range calls {
			*messages = append(*messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    l.execute(ctx, log, reqID, actx, tc),
				ToolCallID: tc.ID,
			})
		}
	}

	log.Warn("iteration limit reached", "max_iterations", l.maxIterations)
	complete(l.maxIterations, true)
	return ExhaustedReply, nil
}

func (l *Loop) execute(ctx context.Context, log *slog.Logger, reqID string, actx *Context, tc llm.ToolCall) string {
	name := tc.Function.Name
	log.Info("executing tool", "tool", name, "args", tc.Function.Arguments)
	l.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": reqID, "tool": name,
	})

	var caller tools.Caller
	if actx != nil {
		caller = actx
	}
	started := time.Now()
	var result string
	if msg := tc.Function.ArgumentsError; msg != "" {
		log.Warn("malformed tool arguments", "tool", name, "error", msg)
		result = tools.Errorf("invalid arguments: %s", msg).Encode()
	} else {
		result = l.tools.Execute(ctx, caller, name, tc.Function.Arguments)
	}

	l.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  reqID,
		"tool":        name,
		"ok":          !strings.HasPrefix(result, `{"error"`),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return result
}

// generateRequestID returns "r_" and eight hex characters.
func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
