package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicConfig configures a Claude model.
type AnthropicConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicClient is a Client for one model on the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicClient creates a client bound to cfg.Model.
func NewAnthropicClient(cfg AnthropicConfig, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Chat sends one Messages API request.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	msgs, system := toAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  msgs,
		MaxTokens: c.maxTokens,
		Tools:     toAnthropicTools(tools),
	}
	if len(system) > 0 {
		params.System = system
	}

	c.logger.Log(ctx, LevelTrace, "anthropic request",
		"model", c.model, "messages", len(msgs), "tools", len(tools))

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat (%s): %w", c.model, err)
	}
	return fromAnthropic(resp), nil
}

// toAnthropicMessages moves system messages into the system blocks and
// folds consecutive tool results into one user turn.
func toAnthropicMessages(messages []Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(messages))
	lastWasTool := false

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Function.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(" "))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isErrorEnvelope(m.Content))
			if lastWasTool {
				prev := &out[len(out)-1]
				prev.Content = append(prev.Content, block)
			} else {
				out = append(out, anthropic.NewUserMessage(block))
			}
			lastWasTool = true
			continue

		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
		lastWasTool = false
	}
	return out, system
}

// isErrorEnvelope reports whether a tool result is the {"error": ...}
// envelope produced by the tool registry.
func isErrorEnvelope(content string) bool {
	if !strings.HasPrefix(content, `{"error"`) {
		return false
	}
	var env map[string]any
	if json.Unmarshal([]byte(content), &env) != nil {
		return false
	}
	_, ok := env["error"]
	return ok && len(env) == 1
}

func toAnthropicTools(tools []map[string]any) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		name, desc, params, ok := toolFunction(def)
		if !ok {
			continue
		}
		schema := anthropic.ToolInputSchemaParam{
			Properties: params["properties"],
			Required:   stringSlice(params["required"]),
		}
		tool := anthropic.ToolUnionParamOfTool(schema, name)
		if desc != "" {
			tool.OfTool.Description = anthropic.String(desc)
		}
		out = append(out, tool)
	}
	return out
}

func fromAnthropic(resp *anthropic.Message) *ChatResponse {
	out := &ChatResponse{
		Model:        string(resp.Model),
		Message:      Message{Role: RoleAssistant},
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				_ = json.Unmarshal(b.Input, &args)
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
				ID:       b.ID,
				Function: ToolCallFunction{Name: b.Name, Arguments: args},
			})
		}
	}
	out.Message.Content = text.String()
	ensureToolCallIDs(out.Message.ToolCalls)
	return out
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
