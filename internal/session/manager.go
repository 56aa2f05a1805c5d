package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Zippland/Bubbles/internal/history"
)

// ErrEmptyAlias is returned when an operation is given a blank alias or key.
var ErrEmptyAlias = errors.New("empty session alias")

// HistorySource supplies the message log a new session is seeded from.
type HistorySource interface {
	Messages(ctx context.Context, chatID string) ([]history.Record, error)
}

// Summary is a read-only view of one session for listings.
type Summary struct {
	Key        string
	Aliases    []string
	Messages   int
	ModelID    *int
	Persona    string
	MaxHistory int
	UpdatedAt  time.Time
}

// Manager owns every live session and the alias map. A single mutex
// guards the cache and alias structure, so an alias move is atomic with
// respect to concurrent Bind calls. Lock order is Manager then Session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	aliases  map[string]string

	// persistMu orders snapshot-and-write pairs against each other.
	persistMu sync.Mutex

	store   *Store
	history HistorySource
	botID   string
	logger  *slog.Logger
}

// NewManager creates a manager. store and hist may be nil, in which case
// sessions are memory-only or start empty. Persisted records are loaded
// so aliases resolve immediately after a restart.
func NewManager(ctx context.Context, store *Store, hist HistorySource, botID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		aliases:  make(map[string]string),
		store:    store,
		history:  hist,
		botID:    botID,
		logger:   logger,
	}
	if store == nil {
		return m
	}

	recs, err := store.LoadAll(ctx)
	if err != nil {
		logger.Warn("failed to load sessions", "error", err)
		return m
	}
	for _, rec := range recs {
		s := newSession(rec.Key, rec.CreatedAt)
		s.config = rec.Config
		if s.config.MaxHistory <= 0 {
			s.config.MaxHistory = DefaultMaxHistory
		}
		if !rec.UpdatedAt.IsZero() {
			s.updatedAt = rec.UpdatedAt
		}
		for _, a := range rec.Aliases {
			s.aliases[a] = struct{}{}
			m.aliases[a] = rec.Key
		}
		m.sessions[rec.Key] = s
	}
	logger.Info("sessions loaded", "count", len(recs), "aliases", len(m.aliases))
	return m
}

// ResolveKey maps an alias to its canonical key. Unknown aliases resolve
// to themselves.
func (m *Manager) ResolveKey(alias string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(alias)
}

func (m *Manager) resolveLocked(alias string) string {
	if key, ok := m.aliases[alias]; ok {
		return key
	}
	return alias
}

// Get returns the session alias resolves to, or nil when there is none.
func (m *Manager) Get(alias string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[m.resolveLocked(alias)]
}

// GetOrCreate returns the session for alias, creating it on first
// reference. A new session is registered under alias and, when
// loadHistory is set, seeded with the last maxHistory records of the
// conversation named after the first ":" of alias.
func (m *Manager) GetOrCreate(ctx context.Context, alias string, maxHistory int, loadHistory bool) (*Session, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil, ErrEmptyAlias
	}

	m.mu.Lock()
	key := m.resolveLocked(alias)
	s, ok := m.sessions[key]
	created := false
	if !ok {
		s = newSession(key, time.Now())
		if maxHistory > 0 {
			s.config.MaxHistory = maxHistory
		}
		s.aliases[alias] = struct{}{}
		m.aliases[alias] = key
		m.sessions[key] = s
		created = true
	}
	m.mu.Unlock()

	if created {
		m.persist(ctx, s)
		m.logger.Debug("session created", "key", key)
	}
	if loadHistory {
		// An existing session seeds to its own window, not the caller's
		// default.
		limit := s.Config().MaxHistory
		if created && maxHistory > 0 {
			limit = maxHistory
		}
		m.seed(ctx, s, chatIDFromAlias(alias), limit)
	}
	return s, nil
}

// seed fills an empty, not yet seeded session from the history log.
// History errors leave the session empty.
func (m *Manager) seed(ctx context.Context, s *Session, chatID string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return
	}
	s.seeded = true
	if m.history == nil || len(s.messages) > 0 {
		return
	}

	recs, err := m.history.Messages(ctx, chatID)
	if err != nil {
		m.logger.Warn("failed to seed session from history",
			"key", s.Key, "chat_id", chatID, "error", err)
		return
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	for _, r := range recs {
		if r.Content == "" {
			continue
		}
		role := "user"
		if m.botID != "" && r.SenderID == m.botID {
			role = "assistant"
		}
		t, err := history.ParseTime(r.TimeString)
		if err != nil {
			t = time.Time{}
		}
		s.messages = append(s.messages, Message{
			Role:       role,
			Content:    r.Content,
			SenderName: r.SenderName,
			Time:       t,
		})
	}
}

// Bind moves alias onto the session with key, creating that session if
// needed. The previous owner, if any, loses the alias. Both sessions are
// persisted.
func (m *Manager) Bind(ctx context.Context, key, alias string) (*Session, error) {
	key = strings.TrimSpace(key)
	alias = strings.TrimSpace(alias)
	if key == "" || alias == "" {
		return nil, ErrEmptyAlias
	}

	m.mu.Lock()
	target, ok := m.sessions[key]
	if !ok {
		target = newSession(key, time.Now())
		m.sessions[key] = target
	}
	var prev *Session
	if oldKey, bound := m.aliases[alias]; bound && oldKey != key {
		prev = m.sessions[oldKey]
		if prev != nil {
			prev.removeAlias(alias)
		}
	}
	m.aliases[alias] = key
	target.addAlias(alias)
	m.mu.Unlock()

	if prev != nil {
		m.persist(ctx, prev, target)
	} else {
		m.persist(ctx, target)
	}
	m.logger.Info("alias bound", "alias", alias, "key", key)
	return target, nil
}

// Unbind detaches alias from its session. It reports false when the alias
// was not bound.
func (m *Manager) Unbind(ctx context.Context, alias string) bool {
	m.mu.Lock()
	key, ok := m.aliases[alias]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.aliases, alias)
	s := m.sessions[key]
	if s != nil {
		s.removeAlias(alias)
	}
	m.mu.Unlock()

	if s != nil {
		m.persist(ctx, s)
	}
	m.logger.Info("alias unbound", "alias", alias, "key", key)
	return true
}

// SetConfig merges u into the configuration of the session aliasOrKey
// resolves to, creating the session when it does not exist yet.
func (m *Manager) SetConfig(ctx context.Context, aliasOrKey string, u ConfigUpdate) (*Session, error) {
	aliasOrKey = strings.TrimSpace(aliasOrKey)
	if aliasOrKey == "" {
		return nil, ErrEmptyAlias
	}

	m.mu.Lock()
	key := m.resolveLocked(aliasOrKey)
	s, ok := m.sessions[key]
	if !ok {
		s = newSession(key, time.Now())
		m.sessions[key] = s
	}
	s.updateConfig(u)
	m.mu.Unlock()

	m.persist(ctx, s)
	return s, nil
}

// Remove deletes the session and every alias pointing at it.
func (m *Manager) Remove(ctx context.Context, key string) bool {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, key)
	for _, a := range s.Aliases() {
		if m.aliases[a] == key {
			delete(m.aliases, a)
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		m.persistMu.Lock()
		defer m.persistMu.Unlock()
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.Warn("failed to delete session", "key", key, "error", err)
		}
	}
	return true
}

// List returns a summary of every session, sorted by key.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		cfg := s.Config()
		out = append(out, Summary{
			Key:        s.Key,
			Aliases:    s.Aliases(),
			Messages:   s.Len(),
			ModelID:    cfg.ModelID,
			Persona:    cfg.Persona,
			MaxHistory: cfg.MaxHistory,
			UpdatedAt:  s.UpdatedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Count reports how many sessions are live.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ClearCache drops every in-memory session and alias. Durable records are
// kept; they are not reloaded until the next NewManager.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	m.aliases = make(map[string]string)
}

// persist writes the durable records for sessions in one transaction.
// Snapshots are taken under m.mu and written under persistMu, so the last
// write of any session reflects every alias move that finished before it.
// Failures are logged; the in-memory state stays authoritative for the
// rest of the process.
func (m *Manager) persist(ctx context.Context, sessions ...*Session) {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	recs := make([]Record, len(sessions))
	for i, s := range sessions {
		recs[i] = s.record()
	}
	m.mu.Unlock()

	if err := m.store.SaveAll(ctx, recs); err != nil {
		m.logger.Warn("failed to persist sessions", "count", len(recs), "error", err)
	}
}

// chatIDFromAlias returns the conversation id encoded in an alias of the
// form "channel:chat_id". Aliases without a channel prefix are returned
// unchanged.
func chatIDFromAlias(alias string) string {
	if _, after, ok := strings.Cut(alias, ":"); ok && after != "" {
		return after
	}
	return alias
}
