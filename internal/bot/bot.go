// Package bot connects a channel to sessions, the message log and the
// agent loop.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Zippland/Bubbles/internal/agent"
	"github.com/Zippland/Bubbles/internal/channel"
	"github.com/Zippland/Bubbles/internal/events"
	"github.com/Zippland/Bubbles/internal/llm"
	"github.com/Zippland/Bubbles/internal/session"
)

// handleTimeout bounds one inbound message, commands included.
const handleTimeout = 5 * time.Minute

// Notices sent to users.
const (
	noticeError   = "抱歉，处理消息时出错了。"
	noticeNoModel = "抱歉，没有可用的 AI 模型。"
)

// HistoryRecorder appends to the message log.
type HistoryRecorder interface {
	Record(ctx context.Context, chatID, senderName, senderID, content, timestamp string) error
}

// Runner runs one agent turn. *agent.Loop implements it.
type Runner interface {
	Run(ctx context.Context, provider llm.Client, messages *[]llm.Message, actx *agent.Context, onProgress func(string)) (string, error)
}

// Config holds the bot-level defaults.
type Config struct {
	Name         string
	MaxHistory   int    // for sessions that do not set their own
	Persona      string // used when a session has none
	SystemPrompt string // used when a session has none
}

// Deps wires a Bot. History, Fallback and Bus may be nil.
type Deps struct {
	Channel  channel.Channel
	Sessions *session.Manager
	History  HistoryRecorder
	Loop     Runner
	Router   *llm.Router
	Fallback *llm.Fallback
	Bus      *events.Bus
	Logger   *slog.Logger
	Config   Config

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Bot answers messages arriving on one channel. Several bots may share
// a session manager, so one conversation can span channels.
type Bot struct {
	ch       channel.Channel
	sessions *session.Manager
	history  HistoryRecorder
	loop     Runner
	router   *llm.Router
	fallback *llm.Fallback
	bus      *events.Bus
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*chatLock
	setup map[string]*setupState
}

// New creates a bot.
func New(d Deps) *Bot {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	cfg := d.Config
	if cfg.Name == "" {
		cfg.Name = "Bubbles"
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = session.DefaultMaxHistory
	}
	return &Bot{
		ch:       d.Channel,
		sessions: d.Sessions,
		history:  d.History,
		loop:     d.Loop,
		router:   d.Router,
		fallback: d.Fallback,
		bus:      d.Bus,
		logger:   logger.With("channel", d.Channel.Name()),
		cfg:      cfg,
		now:      now,
		locks:    make(map[string]*chatLock),
		setup:    make(map[string]*setupState),
	}
}

// Start runs the channel until ctx is done. It blocks.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("bot started", "name", b.cfg.Name, "bot_id", b.ch.BotID())
	return b.ch.Start(ctx, b.Handle)
}

// Stop stops the channel.
func (b *Bot) Stop() error {
	return b.ch.Stop()
}

// alias names a conversation on this bot's channel.
func (b *Bot) alias(chatID string) string {
	return b.ch.Name() + ":" + chatID
}

// chatLock is a per-conversation mutex shared by the turns waiting on it.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

// lockChat serializes turns of one conversation. The entry is dropped
// once no turn holds or waits on it.
func (b *Bot) lockChat(alias string) func() {
	b.mu.Lock()
	l, ok := b.locks[alias]
	if !ok {
		l = &chatLock{}
		b.locks[alias] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, alias)
		}
		b.mu.Unlock()
	}
}

// Handle processes one inbound message. It is the channel.Handler for
// this bot and is safe for concurrent use.
func (b *Bot) Handle(ctx context.Context, msg *channel.Message) {
	if msg.Sender == b.ch.BotID() || msg.Type != channel.TypeText {
		return
	}
	chatID := msg.ChatID()

	b.logger.Info("message received",
		"chat_id", chatID,
		"sender", msg.Sender,
		"group", msg.IsGroup,
		"message_len", len(msg.Content),
	)
	b.bus.Emit(events.SourceBot, events.KindMessageReceived, map[string]any{
		"channel":     b.ch.Name(),
		"chat_id":     chatID,
		"sender":      msg.Sender,
		"message_len": len(msg.Content),
	})
	b.record(ctx, chatID, msg.SenderName, msg.Sender, msg.Content)

	if msg.IsGroup && !msg.IsAtBot {
		return
	}

	alias := b.alias(chatID)
	unlock := b.lockChat(alias)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if strings.HasPrefix(msg.Content, "/session") {
		b.handleCommand(ctx, msg, alias)
		return
	}
	if b.handleSetupInput(ctx, msg, alias) {
		return
	}
	if b.sessions.Get(alias) == nil {
		b.greet(ctx, chatID, alias)
		return
	}
	b.respond(ctx, msg, alias)
}

func (b *Bot) greet(ctx context.Context, chatID, alias string) {
	b.notify(ctx, chatID, fmt.Sprintf("你好！我是 %s 🫧\n\n"+
		"这是我们第一次对话，要先配置一下吗？\n"+
		"• 输入 /session setup 开始配置\n"+
		"• 或者直接对话（使用默认设置）", b.cfg.Name))
	if _, err := b.sessions.GetOrCreate(ctx, alias, b.cfg.MaxHistory, true); err != nil {
		b.logger.Warn("failed to create session", "alias", alias, "error", err)
	}
}

// respond runs one agent turn and delivers the reply.
func (b *Bot) respond(ctx context.Context, msg *channel.Message, alias string) {
	chatID := msg.ChatID()
	s, err := b.sessions.GetOrCreate(ctx, alias, b.cfg.MaxHistory, true)
	if err != nil {
		b.logger.Error("session unavailable", "alias", alias, "error", err)
		b.notify(ctx, chatID, noticeError)
		return
	}
	cfg := s.Config()
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = b.cfg.MaxHistory
	}
	persona := cfg.Persona
	if persona == "" {
		persona = b.cfg.Persona
	}
	explicit := cfg.SystemPrompt
	if explicit == "" {
		explicit = b.cfg.SystemPrompt
	}

	now := b.now()
	line := userLine(now, msg.SenderName, msg.Content)
	messages := buildMessages(explicit, persona, now, s.History(maxHistory), line)

	provider, model, ok := b.provider(cfg.ModelID)
	if !ok {
		b.notify(ctx, chatID, noticeNoModel)
		return
	}

	actx := agent.NewContext(agent.Params{
		Session:    s,
		ChatID:     chatID,
		SenderID:   msg.Sender,
		SenderName: msg.SenderName,
		BotID:      b.ch.BotID(),
		IsGroup:    msg.IsGroup,
		MaxHistory: maxHistory,
		Persona:    persona,
		Logger:     b.logger,
		Send: func(ctx context.Context, text, atList string, record bool) error {
			return b.send(ctx, chatID, text, splitAtList(atList), record)
		},
	})

	b.logger.Info("agent turn starting", "chat_id", chatID, "session", s.Key, "model", model.Name)
	reply, err := b.loop.Run(ctx, provider, &messages, actx, func(progress string) {
		actx.SendStatus(ctx, progress)
	})
	if err != nil {
		b.logger.Error("agent turn failed", "chat_id", chatID, "session", s.Key, "error", err)
		b.notify(ctx, chatID, noticeError)
		return
	}
	if reply == "" {
		b.logger.Error("agent turn returned no reply", "chat_id", chatID)
		return
	}

	if err := b.send(ctx, chatID, reply, nil, true); err != nil {
		b.logger.Error("reply send failed", "chat_id", chatID, "error", err)
	}
	s.AddMessage(llm.RoleUser, line)
	s.AddMessage(llm.RoleAssistant, reply)
}

// provider picks the client for a session's model, wrapped in the
// fallback policy when one is configured.
func (b *Bot) provider(modelID *int) (llm.Client, *llm.Model, bool) {
	if b.router == nil {
		return nil, nil, false
	}
	m, ok := b.router.Resolve(modelID)
	if !ok {
		return nil, nil, false
	}
	if b.fallback != nil {
		return b.fallback.For(m.ID), m, true
	}
	return m.Client, m, true
}

// send delivers text to chatID and, when record is set, logs it as the
// bot's own message.
func (b *Bot) send(ctx context.Context, chatID, text string, atList []string, record bool) error {
	err := b.ch.SendText(ctx, text, chatID, atList)
	b.bus.Emit(events.SourceBot, events.KindReplySent, map[string]any{
		"channel":   b.ch.Name(),
		"chat_id":   chatID,
		"reply_len": len(text),
		"ok":        err == nil,
	})
	if err != nil {
		return err
	}
	if record {
		b.record(ctx, chatID, b.cfg.Name, b.ch.BotID(), text)
	}
	return nil
}

// notify sends an unrecorded notice and logs failures.
func (b *Bot) notify(ctx context.Context, chatID, text string) {
	if err := b.send(ctx, chatID, text, nil, false); err != nil {
		b.logger.Warn("notice send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) record(ctx context.Context, chatID, senderName, senderID, content string) {
	if b.history == nil {
		return
	}
	if err := b.history.Record(ctx, chatID, senderName, senderID, content, ""); err != nil {
		b.logger.Warn("failed to record message", "chat_id", chatID, "error", err)
	}
}

func splitAtList(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
