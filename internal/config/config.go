// Package config handles Bubbles configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/bubbles/config.yaml, /etc/bubbles/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bubbles", "config.yaml"))
	}

	paths = append(paths, "/etc/bubbles/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Bubbles configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
	Bot       BotConfig       `yaml:"bot"`
	Models    ModelsConfig    `yaml:"models"`
	Search    SearchConfig    `yaml:"search"`
	Channels  ChannelsConfig  `yaml:"channels"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Reminders RemindersConfig `yaml:"reminders"`
}

// BotConfig controls conversation behaviour.
type BotConfig struct {
	Name string `yaml:"name"`
	// HistoryCap is the number of messages kept per chat in the message
	// log. Values above 10000 are clamped.
	HistoryCap int `yaml:"history_cap"`
	// MaxHistory is the default number of session messages sent to the
	// model each turn.
	MaxHistory    int    `yaml:"max_history"`
	MaxIterations int    `yaml:"max_iterations"`
	Persona       string `yaml:"persona"`
	SystemPrompt  string `yaml:"system_prompt"`
}

// ModelsConfig lists the models the bot can use.
type ModelsConfig struct {
	Default    int           `yaml:"default"`
	Fallbacks  []int         `yaml:"fallbacks"`
	TimeoutSec int           `yaml:"timeout_sec"`
	Available  []ModelConfig `yaml:"available"`
}

// ModelConfig is one model endpoint. Model is the name sent on the wire;
// Name is what users see and type in /session model.
type ModelConfig struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name"`
	Provider  string `yaml:"provider"` // openai, anthropic, ollama
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

// WireModel returns Model, or Name when Model is unset.
func (m ModelConfig) WireModel() string {
	if m.Model != "" {
		return m.Model
	}
	return m.Name
}

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// SearchConfig configures web search backends.
type SearchConfig struct {
	Default string        `yaml:"default"` // tavily, brave, searxng
	Tavily  APIKeyBackend `yaml:"tavily"`
	Brave   APIKeyBackend `yaml:"brave"`
	SearXNG SearXNGConfig `yaml:"searxng"`
}

// APIKeyBackend is a hosted search API.
type APIKeyBackend struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// Configured reports whether an API key is set.
func (b APIKeyBackend) Configured() bool { return b.APIKey != "" }

// SearXNGConfig points at a self-hosted SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a URL is set.
func (s SearXNGConfig) Configured() bool { return s.URL != "" }

// ChannelsConfig enables front-end channels for serve.
type ChannelsConfig struct {
	Local     LocalConfig     `yaml:"local"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// LocalConfig is the terminal channel.
type LocalConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebSocketConfig is the JSON-over-WebSocket channel.
type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Address        string   `yaml:"address"` // bind address, "" = all interfaces
	Port           int      `yaml:"port"`
	Path           string   `yaml:"path"`
	BotID          string   `yaml:"bot_id"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MQTTConfig configures the activity feed publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TopicPrefix        string `yaml:"topic_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker is set.
func (m MQTTConfig) Configured() bool { return m.Broker != "" }

// RemindersConfig toggles the reminder tools.
type RemindersConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
		Bot: BotConfig{
			Name:          "Bubbles",
			HistoryCap:    10000,
			MaxHistory:    30,
			MaxIterations: 20,
		},
		Models: ModelsConfig{
			TimeoutSec: 120,
		},
		Search: SearchConfig{
			Default: "tavily",
		},
		Channels: ChannelsConfig{
			WebSocket: WebSocketConfig{
				Port:  8765,
				Path:  "/ws",
				BotID: "bubbles",
			},
		},
		MQTT: MQTTConfig{
			TopicPrefix:        "bubbles",
			PublishIntervalSec: 60,
		},
		Reminders: RemindersConfig{Enabled: true},
	}
}

// LoadDotEnv loads a .env file from dir into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from a YAML file. A .env file next to it is
// loaded first so ${VAR} references can resolve against it.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills fields an explicit zero in the file left empty.
func (c *Config) applyDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.Bot.Name == "" {
		c.Bot.Name = d.Bot.Name
	}
	if c.Bot.HistoryCap == 0 {
		c.Bot.HistoryCap = d.Bot.HistoryCap
	}
	if c.Bot.MaxHistory == 0 {
		c.Bot.MaxHistory = d.Bot.MaxHistory
	}
	if c.Bot.MaxIterations == 0 {
		c.Bot.MaxIterations = d.Bot.MaxIterations
	}
	if c.Models.TimeoutSec == 0 {
		c.Models.TimeoutSec = d.Models.TimeoutSec
	}
	if c.Channels.WebSocket.Path == "" {
		c.Channels.WebSocket.Path = d.Channels.WebSocket.Path
	}
	if c.Channels.WebSocket.BotID == "" {
		c.Channels.WebSocket.BotID = d.Channels.WebSocket.BotID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = d.MQTT.PublishIntervalSec
	}
	c.Search.Default = strings.ToLower(strings.TrimSpace(c.Search.Default))
	for i := range c.Models.Available {
		c.Models.Available[i].Provider = strings.ToLower(strings.TrimSpace(c.Models.Available[i].Provider))
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q: must be text or json", c.LogFormat))
	}

	if c.Bot.HistoryCap < 0 {
		errs = append(errs, fmt.Errorf("bot.history_cap must not be negative"))
	}
	if c.Bot.MaxHistory < 1 {
		errs = append(errs, fmt.Errorf("bot.max_history must be positive"))
	}
	if c.Bot.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("bot.max_iterations must be positive"))
	}

	ids := make(map[int]bool)
	for i, m := range c.Models.Available {
		if ids[m.ID] {
			errs = append(errs, fmt.Errorf("models.available[%d]: duplicate id %d", i, m.ID))
		}
		ids[m.ID] = true
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models.available[%d]: name is required", i))
		}
		if !slices.Contains([]string{ProviderOpenAI, ProviderAnthropic, ProviderOllama}, m.Provider) {
			errs = append(errs, fmt.Errorf("models.available[%d]: unknown provider %q", i, m.Provider))
		}
	}
	if len(c.Models.Available) > 0 && !ids[c.Models.Default] {
		errs = append(errs, fmt.Errorf("models.default %d is not an available model", c.Models.Default))
	}
	for _, id := range c.Models.Fallbacks {
		if !ids[id] {
			errs = append(errs, fmt.Errorf("models.fallbacks: unknown model id %d", id))
		}
	}

	switch c.Search.Default {
	case "", "tavily", "brave", "searxng":
	default:
		errs = append(errs, fmt.Errorf("search.default %q: must be tavily, brave or searxng", c.Search.Default))
	}

	if ws := c.Channels.WebSocket; ws.Enabled {
		if ws.Port < 1 || ws.Port > 65535 {
			errs = append(errs, fmt.Errorf("channels.websocket.port %d out of range", ws.Port))
		}
		if !strings.HasPrefix(ws.Path, "/") {
			errs = append(errs, fmt.Errorf("channels.websocket.path %q must start with /", ws.Path))
		}
	}

	if c.MQTT.Configured() {
		u, err := url.Parse(c.MQTT.Broker)
		if err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("mqtt.broker %q is not a valid URL", c.MQTT.Broker))
		}
		if c.MQTT.PublishIntervalSec < 1 {
			errs = append(errs, fmt.Errorf("mqtt.publish_interval_sec must be positive"))
		}
	}

	return errors.Join(errs...)
}

// DatabasePath is the SQLite file shared by history, sessions and
// reminders.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "bubbles.db")
}
