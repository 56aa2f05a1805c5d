package llm

import "context"

// Client is one configured model. Adapters are bound to their model at
// construction, so callers pick a model by picking a Client.
type Client interface {
	// Chat sends the conversation and the tool definitions (OpenAI
	// function-calling shape) and returns the model's reply.
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error)

// Chat calls f.
func (f ClientFunc) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return f(ctx, messages, tools)
}
