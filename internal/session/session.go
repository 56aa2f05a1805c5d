// Package session tracks per-conversation state: a rolling window of
// recent messages plus configuration, addressable through any number of
// aliases that all resolve to one canonical key.
package session

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// DefaultMaxHistory is the rolling window size for a fresh session.
const DefaultMaxHistory = 30

// Config is the durable, per-session configuration.
type Config struct {
	ModelID      *int           `json:"model_id,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Persona      string         `json:"persona,omitempty"`
	MaxHistory   int            `json:"max_history"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// DefaultConfig returns the configuration a new session starts with.
func DefaultConfig() Config {
	return Config{MaxHistory: DefaultMaxHistory}
}

func (c Config) clone() Config {
	out := c
	if c.ModelID != nil {
		id := *c.ModelID
		out.ModelID = &id
	}
	if c.Extra != nil {
		out.Extra = maps.Clone(c.Extra)
	}
	return out
}

// ConfigUpdate is a partial config change. Nil fields are left alone.
// ClearModel resets ModelID to "use the default model".
type ConfigUpdate struct {
	ModelID      *int
	ClearModel   bool
	SystemPrompt *string
	Persona      *string
	MaxHistory   *int
	Extra        map[string]any
}

func (u ConfigUpdate) apply(c *Config) {
	switch {
	case u.ClearModel:
		c.ModelID = nil
	case u.ModelID != nil:
		id := *u.ModelID
		c.ModelID = &id
	}
	if u.SystemPrompt != nil {
		c.SystemPrompt = *u.SystemPrompt
	}
	if u.Persona != nil {
		c.Persona = *u.Persona
	}
	if u.MaxHistory != nil && *u.MaxHistory > 0 {
		c.MaxHistory = *u.MaxHistory
	}
	if len(u.Extra) > 0 {
		if c.Extra == nil {
			c.Extra = make(map[string]any, len(u.Extra))
		}
		maps.Copy(c.Extra, u.Extra)
	}
}

// Message is one entry of a session's rolling window.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	SenderName string    `json:"sender_name,omitempty"`
	Time       time.Time `json:"time"`
}

// Session is the live state of one logical conversation. Methods are safe
// for concurrent use; AddMessage calls land in call order.
type Session struct {
	Key string

	mu        sync.Mutex
	aliases   map[string]struct{}
	messages  []Message
	config    Config
	createdAt time.Time
	updatedAt time.Time
	seeded    bool
}

func newSession(key string, now time.Time) *Session {
	return &Session{
		Key:       key,
		aliases:   make(map[string]struct{}),
		config:    DefaultConfig(),
		createdAt: now,
		updatedAt: now,
	}
}

// AddMessage appends to the rolling window, dropping the oldest entries
// beyond the configured MaxHistory.
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.messages = append(s.messages, Message{Role: role, Content: content, Time: now})
	s.updatedAt = now

	limit := s.config.MaxHistory
	if limit <= 0 {
		limit = DefaultMaxHistory
	}
	if over := len(s.messages) - limit; over > 0 {
		s.messages = append(s.messages[:0], s.messages[over:]...)
	}
}

// History returns a copy of the newest n messages (all when n <= 0).
func (s *Session) History(n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return slices.Clone(msgs)
}

// Len reports how many messages the window holds.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops every message from the window.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.updatedAt = time.Now()
}

// Aliases returns the aliases bound to this session, sorted.
func (s *Session) Aliases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.aliases))
}

// HasAlias reports whether alias is bound here.
func (s *Session) HasAlias(alias string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.aliases[alias]
	return ok
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.clone()
}

// CreatedAt returns when the session was first created.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// UpdatedAt returns the time of the last mutation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Record{
		Key:       s.Key,
		Config:    s.config.clone(),
		Aliases:   slices.Sorted(maps.Keys(s.aliases)),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

func (s *Session) addAlias(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[alias] = struct{}{}
	s.updatedAt = time.Now()
}

func (s *Session) removeAlias(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.aliases, alias)
	s.updatedAt = time.Now()
}

func (s *Session) updateConfig(u ConfigUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.apply(&s.config)
	s.updatedAt = time.Now()
}
