package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

// Fallback defaults.
const (
	DefaultCooldown     = 60 * time.Second
	DefaultMaxRetries   = 2
	DefaultInitialDelay = 2 * time.Second
	DefaultMaxDelay     = 30 * time.Second
)

var (
	// ErrNoModel is returned when no configured model can be tried.
	ErrNoModel = errors.New("no model available")

	// ErrEmptyResponse is recorded when a model replies with neither
	// text nor tool calls.
	ErrEmptyResponse = errors.New("empty response")
)

// Fallback holds the retry policy and the cooldown table shared by every
// FallbackClient it hands out.
type Fallback struct {
	router      *Router
	fallbackIDs []int
	logger      *slog.Logger

	Cooldown     time.Duration
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	mu        sync.Mutex
	cooldowns map[int]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFallback creates a policy that tries fallbackIDs, in order, after
// the requested model.
func NewFallback(router *Router, fallbackIDs []int, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		router:       router,
		fallbackIDs:  fallbackIDs,
		logger:       logger,
		Cooldown:     DefaultCooldown,
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		cooldowns:    make(map[int]time.Time),
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// For returns a Client whose first choice is primaryID.
func (f *Fallback) For(primaryID int) *FallbackClient {
	return &FallbackClient{policy: f, primary: primaryID}
}

// InCooldown reports whether id was recently failed.
func (f *Fallback) InCooldown(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	deadline, ok := f.cooldowns[id]
	if !ok {
		return false
	}
	if f.now().Before(deadline) {
		return true
	}
	delete(f.cooldowns, id)
	return false
}

func (f *Fallback) setCooldown(id int) {
	f.mu.Lock()
	f.cooldowns[id] = f.now().Add(f.Cooldown)
	f.mu.Unlock()
	f.logger.Info("model cooling down", "model_id", id, "duration", f.Cooldown)
}

// candidates lists primary then fallbacks, deduplicated, skipping models
// in cooldown. When every model is cooling down the primary is tried
// anyway.
func (f *Fallback) candidates(primary int) []*Model {
	var out []*Model
	seen := make(map[int]bool)
	for _, id := range append([]int{primary}, f.fallbackIDs...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		m, ok := f.router.Get(id)
		if !ok {
			continue
		}
		if f.InCooldown(id) {
			f.logger.Info("skipping model in cooldown", "model_id", id)
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		if m, ok := f.router.Get(primary); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *Fallback) backoff(attempt int) time.Duration {
	d := f.InitialDelay << attempt
	if d > f.MaxDelay || d <= 0 {
		d = f.MaxDelay
	}
	return d
}

// FallbackClient retries retryable failures on the same model, then
// moves down the candidate list.
type FallbackClient struct {
	policy  *Fallback
	primary int
}

// Chat tries each candidate in turn and returns the first non-empty
// reply, or the last error.
func (c *FallbackClient) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	f := c.policy
	cands := f.candidates(c.primary)
	if len(cands) == 0 {
		return nil, fmt.Errorf("model %d: %w", c.primary, ErrNoModel)
	}

	var lastErr error
	for _, m := range cands {
		for attempt := 0; attempt <= f.MaxRetries; attempt++ {
			resp, err := m.Client.Chat(ctx, messages, tools)
			if err == nil {
				if resp != nil && (resp.Message.Content != "" || len(resp.Message.ToolCalls) > 0) {
					return resp, nil
				}
				lastErr = fmt.Errorf("model %d: %w", m.ID, ErrEmptyResponse)
				break
			}
			if ctx.Err() != nil {
				return nil, err
			}

			lastErr = err
			f.logger.Warn("model call failed",
				"model_id", m.ID, "model", m.Name, "attempt", attempt+1, "error", err)

			if !IsRetryable(err) {
				f.setCooldown(m.ID)
				break
			}
			if attempt == f.MaxRetries {
				f.setCooldown(m.ID)
				break
			}
			delay := f.backoff(attempt)
			f.logger.Debug("retrying model", "model_id", m.ID, "delay", delay)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("all models failed: %w", lastErr)
}

// IsRetryable reports whether err is transient: rate limiting, timeouts,
// 5xx responses and connection failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return retryableStatus(oaErr.StatusCode)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return retryableStatus(anErr.StatusCode)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate") && strings.Contains(msg, "limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"),
		strings.Contains(msg, "server") && strings.Contains(msg, "error"),
		strings.Contains(msg, "connection"):
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
