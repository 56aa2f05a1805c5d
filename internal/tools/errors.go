package tools

import "fmt"

// ErrToolUnavailable is returned when a tool is registered but the
// backend it needs (search provider, reminder store, history log) is not
// configured. It surfaces to the model as an ordinary tool error.
type ErrToolUnavailable struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %q is not available", e.ToolName)
	}
	return fmt.Sprintf("tool %q is not available: %s", e.ToolName, e.Reason)
}
