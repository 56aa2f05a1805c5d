// Package llm provides the provider-neutral chat contract and the
// adapters that speak it to OpenAI-compatible, Anthropic and Ollama
// endpoints.
package llm

import (
	"log/slog"

	"github.com/google/uuid"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation sent to a provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool messages
}

// ToolCallFunction names the tool and carries its decoded arguments.
// ArgumentsError is set when the vendor sent arguments that did not
// decode; Arguments is then empty and the call must not run.
type ToolCallFunction struct {
	Name           string         `json:"name"`
	Arguments      map[string]any `json:"arguments"`
	ArgumentsError string         `json:"-"`
}

// ToolCall is a tool invocation requested by the model. ID is echoed in
// the matching tool message.
type ToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model   string
	Message Message

	InputTokens  int
	OutputTokens int
}

// ensureToolCallIDs fills in ids for calls the vendor left unnamed.
func ensureToolCallIDs(calls []ToolCall) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
		if calls[i].Function.Arguments == nil {
			calls[i].Function.Arguments = map[string]any{}
		}
	}
}

// toolFunction extracts name, description and parameters from a
// definition in the OpenAI function-calling wire shape.
func toolFunction(def map[string]any) (name, desc string, params map[string]any, ok bool) {
	fn, ok := def["function"].(map[string]any)
	if !ok {
		return "", "", nil, false
	}
	name, _ = fn["name"].(string)
	desc, _ = fn["description"].(string)
	params, _ = fn["parameters"].(map[string]any)
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return name, desc, params, name != ""
}
