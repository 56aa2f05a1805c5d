package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Result is the outcome of one tool call: either a value or an error.
// It is serialized only at the registry boundary.
type Result struct {
	value any
	err   error
}

// Success wraps a value. Strings are returned to the model verbatim;
// anything else is JSON-encoded.
func Success(v any) Result { return Result{value: v} }

// Failure wraps an error. A nil err is treated as an unknown failure.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Result{err: err}
}

// Errorf is Failure with a formatted message.
func Errorf(format string, args ...any) Result {
	return Result{err: fmt.Errorf(format, args...)}
}

// Err returns the failure, or nil on success.
func (r Result) Err() error { return r.err }

// Value returns the success value.
func (r Result) Value() any { return r.value }

// Encode renders the result as the JSON string sent back to the model.
// Failures become {"error": "<message>"}.
func (r Result) Encode() string {
	if r.err != nil {
		return mustJSON(map[string]string{"error": r.err.Error()})
	}
	if s, ok := r.value.(string); ok {
		return s
	}
	return mustJSON(r.value)
}

func mustJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return mustJSON(map[string]string{"error": "encode result: " + err.Error()})
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Typed adapts a handler that takes a decoded input struct. Unknown
// fields and type mismatches are reported as the tool's error result.
func Typed[T any](fn func(ctx context.Context, c Caller, in T) Result) Handler {
	return func(ctx context.Context, c Caller, raw json.RawMessage) Result {
		var in T
		if len(bytes.TrimSpace(raw)) > 0 && string(raw) != "null" {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&in); err != nil {
				return Errorf("invalid arguments: %v", err)
			}
		}
		return fn(ctx, c, in)
	}
}

// stringList decodes either a JSON string or an array of scalars.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = stringList{one}
		return nil
	}
	var many []any
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("expected string or array of strings")
	}
	out := make(stringList, 0, len(many))
	for _, v := range many {
		if v == nil {
			continue
		}
		out = append(out, fmt.Sprint(v))
	}
	*s = out
	return nil
}
