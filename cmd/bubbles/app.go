package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Zippland/Bubbles/internal/agent"
	"github.com/Zippland/Bubbles/internal/bot"
	"github.com/Zippland/Bubbles/internal/buildinfo"
	"github.com/Zippland/Bubbles/internal/channel"
	"github.com/Zippland/Bubbles/internal/config"
	"github.com/Zippland/Bubbles/internal/events"
	"github.com/Zippland/Bubbles/internal/history"
	"github.com/Zippland/Bubbles/internal/httpkit"
	"github.com/Zippland/Bubbles/internal/llm"
	"github.com/Zippland/Bubbles/internal/reminder"
	"github.com/Zippland/Bubbles/internal/search"
	"github.com/Zippland/Bubbles/internal/session"
	"github.com/Zippland/Bubbles/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// app is the set of components every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	history  *history.Store
	recorder bot.HistoryRecorder
	sessions *session.Manager
	router   *llm.Router
	fallback *llm.Fallback
	loop     *agent.Loop
	bus      *events.Bus
}

// appOptions adjust newApp for the one-shot ask command.
type appOptions struct {
	// botID is the sender id the bot's own log entries carry.
	botID string
	// ephemeral keeps sessions in memory and leaves the message log
	// untouched.
	ephemeral bool
}

// newApp opens the database and builds the model router, tools and
// session manager.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	a := &app{cfg: cfg, logger: logger, db: db, bus: events.New()}

	if err := a.init(ctx, opts); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database opened", "path", dbPath)
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	hist, err := history.NewStore(a.db, a.cfg.Bot.HistoryCap, a.logger.With("component", "history"))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	a.history = hist

	var sessStore *session.Store
	if !opts.ephemeral {
		a.recorder = hist
		if sessStore, err = session.NewStore(a.db); err != nil {
			return fmt.Errorf("open sessions: %w", err)
		}
	}
	a.sessions = session.NewManager(ctx, sessStore, hist, opts.botID, a.logger.With("component", "session"))

	router, err := buildRouter(a.cfg.Models, a.logger)
	if err != nil {
		return err
	}
	a.router = router
	if len(a.cfg.Models.Fallbacks) > 0 {
		a.fallback = llm.NewFallback(router, a.cfg.Models.Fallbacks, a.logger.With("component", "fallback"))
	}

	reg := tools.NewRegistry(a.logger.With("component", "tools"))
	reg.Register(tools.ChatHistoryTool(hist))
	reg.Register(tools.WebSearchTool(buildSearch(a.cfg.Search, a.logger)))
	if a.cfg.Reminders.Enabled {
		rs, err := reminder.NewStore(a.db)
		if err != nil {
			return fmt.Errorf("open reminders: %w", err)
		}
		for _, t := range tools.ReminderTools(rs, nil) {
			reg.Register(t)
		}
	}
	a.logger.Info("tools registered", "tools", reg.Names())

	a.loop = agent.NewLoop(reg, agent.LoopConfig{
		MaxIterations: a.cfg.Bot.MaxIterations,
		Bus:           a.bus,
	}, a.logger.With("component", "agent"))
	return nil
}

// newBot attaches a bot to ch.
func (a *app) newBot(ch channel.Channel) *bot.Bot {
	return bot.New(bot.Deps{
		Channel:  ch,
		Sessions: a.sessions,
		History:  a.recorder,
		Loop:     a.loop,
		Router:   a.router,
		Fallback: a.fallback,
		Bus:      a.bus,
		Logger:   a.logger.With("component", "bot"),
		Config: bot.Config{
			Name:         a.cfg.Bot.Name,
			MaxHistory:   a.cfg.Bot.MaxHistory,
			Persona:      a.cfg.Bot.Persona,
			SystemPrompt: a.cfg.Bot.SystemPrompt,
		},
	})
}

func (a *app) Close() error {
	return a.db.Close()
}

// buildRouter creates one client per configured model.
func buildRouter(cfg config.ModelsConfig, logger *slog.Logger) (*llm.Router, error) {
	router := llm.NewRouter(cfg.Default)
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(time.Duration(cfg.TimeoutSec)*time.Second),
		httpkit.WithUserAgent(buildinfo.UserAgent()),
	)

	for _, m := range cfg.Available {
		clientLogger := logger.With("model", m.Name, "provider", m.Provider)
		var client llm.Client
		switch m.Provider {
		case config.ProviderOpenAI:
			client = llm.NewOpenAIClient(llm.OpenAIConfig{
				BaseURL:    m.BaseURL,
				APIKey:     m.APIKey,
				Model:      m.WireModel(),
				MaxTokens:  m.MaxTokens,
				HTTPClient: httpClient,
			}, clientLogger)
		case config.ProviderAnthropic:
			client = llm.NewAnthropicClient(llm.AnthropicConfig{
				BaseURL:    m.BaseURL,
				APIKey:     m.APIKey,
				Model:      m.WireModel(),
				MaxTokens:  m.MaxTokens,
				HTTPClient: httpClient,
			}, clientLogger)
		case config.ProviderOllama:
			oc, err := llm.NewOllamaClient(m.BaseURL, m.WireModel(), httpClient, clientLogger)
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", m.Name, err)
			}
			client = oc
		default:
			return nil, fmt.Errorf("model %s: unknown provider %q", m.Name, m.Provider)
		}
		router.Add(llm.Model{ID: m.ID, Name: m.Name, Provider: m.Provider, Client: client})
		logger.Info("model loaded", "id", m.ID, "name", m.Name, "provider", m.Provider, "model", m.WireModel())
	}

	if _, ok := router.Default(); !ok {
		logger.Warn("no models configured")
	}
	return router, nil
}

// buildSearch registers every configured backend. It returns nil when
// the default backend is not configured, leaving web_search unavailable.
func buildSearch(cfg config.SearchConfig, logger *slog.Logger) tools.Searcher {
	mgr := search.NewManager(cfg.Default)
	if cfg.Tavily.Configured() {
		mgr.Register(search.NewTavily(cfg.Tavily.APIKey, cfg.Tavily.Endpoint))
	}
	if cfg.Brave.Configured() {
		mgr.Register(search.NewBrave(cfg.Brave.APIKey, cfg.Brave.Endpoint))
	}
	if cfg.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.SearXNG.URL))
	}
	if !mgr.Configured() {
		logger.Warn("web search not configured", "default", mgr.Primary(), "registered", mgr.Providers())
		return nil
	}
	logger.Info("web search configured", "default", mgr.Primary(), "providers", mgr.Providers())
	return mgr
}

// mqttStats feeds the MQTT status document.
type mqttStats struct {
	router   *llm.Router
	sessions *session.Manager
}

func (s *mqttStats) Uptime() time.Duration { return buildinfo.Uptime() }
func (s *mqttStats) Version() string       { return buildinfo.Version }
func (s *mqttStats) ActiveSessions() int   { return s.sessions.Count() }
func (s *mqttStats) DefaultModel() string {
	if m, ok := s.router.Default(); ok {
		return m.Name
	}
	return ""
}
