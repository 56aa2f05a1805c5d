// Package tools defines the capabilities the agent can invoke and the
// registry that renders them for the model and dispatches its calls.
//
// The registry is the one place model-generated arguments reach handler
// code: unknown names, malformed arguments, handler errors and panics
// all come back as a {"error": ...} JSON string, never as a Go error.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Caller is the per-turn view of the conversation a tool runs in.
type Caller interface {
	ChatID() string
	SenderID() string
	SenderName() string
	IsGroup() bool

	// VisibleLimit is how many recent messages the model already sees.
	VisibleLimit() int

	// SendStatus delivers a transient notice that is not recorded in
	// history. It reports whether the send succeeded.
	SendStatus(ctx context.Context, text string) bool
}

// Handler runs a tool with its raw JSON arguments.
type Handler func(ctx context.Context, c Caller, args json.RawMessage) Result

// Tool is a named, schema-described capability.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler

	// StatusText, when set, is sent to the chat before the handler runs.
	// The value of argument StatusArg is appended when present.
	StatusText string
	StatusArg  string
}

// Registry holds the available tools in registration order.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds t. A tool with the same name is replaced in place and
// keeps its original position.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions renders every tool in the OpenAI function-calling wire
// format, in registration order. Parameter schemas always carry
// additionalProperties:false and an explicit required list.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  normalizeSchema(t.Parameters),
			},
		})
	}
	return defs
}

func normalizeSchema(p map[string]any) map[string]any {
	out := make(map[string]any, len(p)+3)
	maps.Copy(out, p)
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	out["additionalProperties"] = false
	if _, ok := out["required"]; !ok {
		out["required"] = []string{}
	}
	return out
}

// Execute runs the named tool and returns its JSON result envelope.
// It never returns an error and never panics.
func (r *Registry) Execute(ctx context.Context, c Caller, name string, args map[string]any) string {
	t := r.Get(name)
	if t == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return Errorf("Unknown tool: %s", name).Encode()
	}

	if t.StatusText != "" && c != nil {
		c.SendStatus(ctx, statusNotice(t, args))
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return Failure(fmt.Errorf("encode arguments: %w", err)).Encode()
	}
	if args == nil {
		raw = []byte("{}")
	}

	start := time.Now()
	res := r.invoke(ctx, t, c, raw)
	out := res.Encode()

	if res.Err() != nil {
		r.logger.Warn("tool failed",
			"tool", name, "args", string(raw), "error", res.Err(),
			"duration", time.Since(start))
	} else {
		r.logger.Debug("tool executed",
			"tool", name, "duration", time.Since(start), "result_len", len(out))
	}
	return out
}

func (r *Registry) invoke(ctx context.Context, t *Tool, c Caller, raw json.RawMessage) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked",
				"tool", t.Name, "args", string(raw), "panic", p,
				"stack", string(debug.Stack()))
			res = Errorf("%v", p)
		}
	}()
	return t.Handler(ctx, c, raw)
}

// statusNotice builds the progress line for t. List arguments render
// their first three items joined with "、".
func statusNotice(t *Tool, args map[string]any) string {
	if t.StatusArg == "" {
		return t.StatusText
	}
	v, ok := args[t.StatusArg]
	if !ok || v == nil {
		return t.StatusText
	}

	switch val := v.(type) {
	case []any:
		items := val[:min(len(val), 3)]
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprint(it)
		}
		return t.StatusText + strings.Join(parts, "、")
	case []string:
		return t.StatusText + strings.Join(val[:min(len(val), 3)], "、")
	default:
		return t.StatusText + fmt.Sprint(val)
	}
}
