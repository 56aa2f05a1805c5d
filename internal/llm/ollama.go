package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient is a Client for one model served by Ollama.
type OllamaClient struct {
	client *api.Client
	model  string
	logger *slog.Logger
}

// NewOllamaClient creates a client bound to model. An empty baseURL
// means the local default.
func NewOllamaClient(baseURL, model string, httpClient *http.Client, logger *slog.Logger) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		client: api.NewClient(u, httpClient),
		model:  model,
		logger: logger,
	}, nil
}

// Chat sends one non-streaming chat request. Tool calls the model wrote
// into its text instead of the tool_calls field are recovered when they
// name a declared tool.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	apiTools, err := toOllamaTools(tools)
	if err != nil {
		return nil, err
	}
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Tools:    apiTools,
		Stream:   &stream,
	}

	var final api.ChatResponse
	var content strings.Builder
	var calls []api.ToolCall
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		calls = append(calls, resp.Message.ToolCalls...)
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat (%s): %w", c.model, err)
	}

	out := &ChatResponse{
		Model:        final.Model,
		Message:      Message{Role: RoleAssistant, Content: content.String()},
		InputTokens:  final.PromptEvalCount,
		OutputTokens: final.EvalCount,
	}
	if out.Model == "" {
		out.Model = c.model
	}
	for _, tc := range calls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			Function: ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: map[string]any(tc.Function.Arguments),
			},
		})
	}

	if len(out.Message.ToolCalls) == 0 && len(tools) > 0 {
		if parsed := parseTextToolCalls(out.Message.Content, toolNames(tools)); len(parsed) > 0 {
			c.logger.Debug("recovered tool calls from content",
				"model", c.model, "count", len(parsed))
			out.Message.ToolCalls = parsed
			out.Message.Content = ""
		}
	}
	ensureToolCallIDs(out.Message.ToolCalls)
	return out, nil
}

func toOllamaMessages(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msg := api.Message{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// toOllamaTools converts definitions through JSON; the wire shapes
// are identical.
func toOllamaTools(tools []map[string]any) ([]api.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("encode tools: %w", err)
	}
	var out []api.Tool
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("convert tools: %w", err)
	}
	return out, nil
}

func toolNames(tools []map[string]any) []string {
	var names []string
	for _, def := range tools {
		if name, _, _, ok := toolFunction(def); ok {
			names = append(names, name)
		}
	}
	return names
}

type textToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls extracts tool calls a model emitted as text. It
// accepts a JSON object, a JSON array, concatenated objects, any of
// those wrapped in <tool_call> tags, and "tool_name {json}". When
// validTools is non-empty, calls naming other tools are dropped.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		content = content[start+len("<tool_call>"):]
		if end := strings.Index(content, "</tool_call>"); end != -1 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}

	valid := func(name string) bool {
		return name != "" && (len(validTools) == 0 || slices.Contains(validTools, name))
	}

	var parsed []textToolCall
	switch {
	case strings.HasPrefix(content, "["):
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			return nil
		}
	case strings.HasPrefix(content, "{"):
		dec := json.NewDecoder(strings.NewReader(content))
		for dec.More() {
			var one textToolCall
			if err := dec.Decode(&one); err != nil {
				break
			}
			parsed = append(parsed, one)
		}
	default:
		name, rest, ok := strings.Cut(content, " ")
		if !ok || !valid(name) || len(validTools) == 0 {
			return nil
		}
		var args map[string]any
		if err := json.NewDecoder(strings.NewReader(rest)).Decode(&args); err != nil {
			return nil
		}
		parsed = []textToolCall{{Name: name, Arguments: args}}
	}

	var out []ToolCall
	for _, p := range parsed {
		if !valid(p.Name) {
			continue
		}
		args := p.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, ToolCall{Function: ToolCallFunction{Name: p.Name, Arguments: args}})
	}
	return out
}
