package agent

import (
	"context"
	"log/slog"

	"github.com/Zippland/Bubbles/internal/session"
)

// DefaultMaxHistory is how many session messages the model sees when
// the caller does not say.
const DefaultMaxHistory = 30

// SendFunc delivers text to the conversation. record reports whether the
// message belongs in the message log; status notices pass false.
type SendFunc func(ctx context.Context, text, atList string, record bool) error

// Params builds a Context.
type Params struct {
	Session    *session.Session
	ChatID     string
	SenderID   string
	SenderName string
	BotID      string
	IsGroup    bool
	MaxHistory int
	Persona    string
	Send       SendFunc
	Logger     *slog.Logger
}

// Context is everything one turn needs: who is talking, where, and how
// to answer. It satisfies tools.Caller.
type Context struct {
	p Params
}

// NewContext creates a turn context.
func NewContext(p Params) *Context {
	if p.MaxHistory <= 0 {
		p.MaxHistory = DefaultMaxHistory
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Context{p: p}
}

func (c *Context) Session() *session.Session { return c.p.Session }
func (c *Context) ChatID() string            { return c.p.ChatID }
func (c *Context) SenderID() string          { return c.p.SenderID }
func (c *Context) SenderName() string        { return c.p.SenderName }
func (c *Context) BotID() string             { return c.p.BotID }
func (c *Context) IsGroup() bool             { return c.p.IsGroup }
func (c *Context) Persona() string           { return c.p.Persona }

// VisibleLimit is the number of recent messages already in the prompt.
func (c *Context) VisibleLimit() int { return c.p.MaxHistory }

// Receiver is the id replies are addressed to.
func (c *Context) Receiver() string { return c.p.ChatID }

// SendText delivers text and reports success. Failures are logged and
// never propagate.
func (c *Context) SendText(ctx context.Context, text, atList string, record bool) (ok bool) {
	if c.p.Send == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			c.p.Logger.Error("send panicked", "chat_id", c.p.ChatID, "panic", r)
			ok = false
		}
	}()
	if err := c.p.Send(ctx, text, atList, record); err != nil {
		c.p.Logger.Error("send failed", "chat_id", c.p.ChatID, "error", err)
		return false
	}
	return true
}

// SendStatus delivers a transient notice that is not recorded.
func (c *Context) SendStatus(ctx context.Context, text string) bool {
	return c.SendText(ctx, text, "", false)
}
