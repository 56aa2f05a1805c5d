package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Zippland/Bubbles/internal/bot"
	"github.com/Zippland/Bubbles/internal/buildinfo"
	"github.com/Zippland/Bubbles/internal/channel"
	"github.com/Zippland/Bubbles/internal/config"
	"github.com/Zippland/Bubbles/internal/mqtt"
)

// configuredLogger loads the config and returns a logger honoring its
// level and format.
func configuredLogger(w io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	logger := config.NewLogger(w, slog.LevelInfo, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	// Validate has already checked the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(w, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"models", len(cfg.Models.Available),
		"default_model", cfg.Models.Default,
		"data_dir", cfg.DataDir,
	)
	return cfg, logger, nil
}

// runServe starts every enabled channel and blocks until a signal
// arrives or the terminal channel exits.
func runServe(ctx context.Context, stdin io.Reader, stdout io.Writer, configPath string) error {
	cfg, logger, err := configuredLogger(stdout, configPath)
	if err != nil {
		return err
	}
	logger.Info("starting Bubbles", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	if !cfg.Channels.Local.Enabled && !cfg.Channels.WebSocket.Enabled {
		return fmt.Errorf("no channel enabled (set channels.local.enabled or channels.websocket.enabled)")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	botID := channel.LocalBotID
	if cfg.Channels.WebSocket.Enabled {
		botID = cfg.Channels.WebSocket.BotID
	}
	a, err := newApp(ctx, cfg, logger, appOptions{botID: botID})
	if err != nil {
		return err
	}
	defer a.Close()

	var bots []*bot.Bot
	if cfg.Channels.WebSocket.Enabled {
		ws := cfg.Channels.WebSocket
		bots = append(bots, a.newBot(channel.NewWebSocket(channel.WebSocketConfig{
			Address:        ws.Address,
			Port:           ws.Port,
			Path:           ws.Path,
			BotID:          ws.BotID,
			AllowedOrigins: ws.AllowedOrigins,
		}, logger.With("component", "websocket"))))
	}
	if cfg.Channels.Local.Enabled {
		bots = append(bots, a.newBot(channel.NewLocal(cfg.Bot.Name, "", stdin, stdout, logger.With("component", "local"))))
	}

	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, &mqttStats{router: a.router, sessions: a.sessions}, a.bus, logger.With("component", "mqtt"))
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	}

	// Any channel returning ends the process; the rest are stopped.
	errs := make(chan error, len(bots))
	var wg sync.WaitGroup
	for _, b := range bots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Start(ctx)
			cancel()
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	for _, b := range bots {
		if err := b.Stop(); err != nil {
			logger.Warn("channel stop failed", "error", err)
		}
	}
	if mqttPub != nil {
		offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer offlineCancel()
		if err := mqttPub.Stop(offlineCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	logger.Info("Bubbles stopped")
	return nil
}

// runChat runs the terminal channel alone. Logs go to stderr so they do
// not interleave with the conversation.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, logger, err := configuredLogger(stderr, configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appOptions{botID: channel.LocalBotID})
	if err != nil {
		return err
	}
	defer a.Close()

	b := a.newBot(channel.NewLocal(cfg.Bot.Name, "", stdin, stdout, logger.With("component", "local")))
	return b.Start(ctx)
}

// runAsk answers one question in a throwaway conversation and prints
// the reply.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, question string) error {
	cfg, logger, err := configuredLogger(stderr, configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, appOptions{botID: askBotID, ephemeral: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ch := newAskChannel(question, stdout)
	b := a.newBot(ch)

	// Creating the session up front skips the first-contact greeting.
	if _, err := a.sessions.GetOrCreate(ctx, ch.Name()+":"+ch.chatID, cfg.Bot.MaxHistory, false); err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	if ch.Replies() == 0 {
		return fmt.Errorf("no reply")
	}
	return nil
}

const askBotID = "ask_bot"

// askChannel delivers a single question and prints whatever the bot
// sends back. The chat id doubles as the sender id, so each run is a
// fresh private conversation.
type askChannel struct {
	question string
	chatID   string
	out      io.Writer

	mu      sync.Mutex
	replies int
}

func newAskChannel(question string, out io.Writer) *askChannel {
	return &askChannel{
		question: question,
		chatID:   "ask_" + uuid.NewString(),
		out:      out,
	}
}

// Replies counts the messages sent so far.
func (c *askChannel) Replies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies
}

func (c *askChannel) Name() string  { return "ask" }
func (c *askChannel) BotID() string { return askBotID }

func (c *askChannel) SendText(_ context.Context, text, _ string, _ []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies++
	_, err := fmt.Fprintln(c.out, text)
	return err
}

// Start handles the question synchronously and returns.
func (c *askChannel) Start(ctx context.Context, h channel.Handler) error {
	h(ctx, &channel.Message{
		ID:         "ask_" + uuid.NewString(),
		Sender:     c.chatID,
		SenderName: "User",
		Content:    c.question,
		Type:       channel.TypeText,
		IsAtBot:    true,
		Timestamp:  time.Now(),
	})
	return nil
}

func (c *askChannel) Stop() error { return nil }

func (c *askChannel) Contact(string) (channel.Contact, bool) {
	return channel.Contact{}, false
}
