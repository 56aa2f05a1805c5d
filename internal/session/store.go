package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Record is the durable form of a session. Messages are never stored
// here; they are rebuilt from the message history on demand.
type Record struct {
	Key       string
	Config    Config
	Aliases   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists session records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the sessions table on db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("session store migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			key        TEXT NOT NULL PRIMARY KEY,
			config     TEXT NOT NULL,
			aliases    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

const upsertSession = `
	INSERT INTO sessions (key, config, aliases, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		config = excluded.config,
		aliases = excluded.aliases,
		updated_at = excluded.updated_at
`

// Save writes or replaces the record for rec.Key.
func (s *Store) Save(ctx context.Context, rec Record) error {
	return s.SaveAll(ctx, []Record{rec})
}

// SaveAll writes recs in one transaction, so an alias moving between two
// sessions is never stored under both or neither.
func (s *Store) SaveAll(ctx context.Context, recs []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		cfg, err := json.Marshal(rec.Config)
		if err != nil {
			return fmt.Errorf("marshal config for %s: %w", rec.Key, err)
		}
		aliases := rec.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		al, err := json.Marshal(aliases)
		if err != nil {
			return fmt.Errorf("marshal aliases for %s: %w", rec.Key, err)
		}
		if _, err := tx.ExecContext(ctx, upsertSession, rec.Key, string(cfg), string(al),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			rec.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("save session %s: %w", rec.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session save: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

// LoadAll returns every stored record.
func (s *Store) LoadAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, config, aliases, created_at, updated_at
		FROM sessions ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var cfg, al, created, updated string
		if err := rows.Scan(&rec.Key, &cfg, &al, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Config = DefaultConfig()
		if err := json.Unmarshal([]byte(cfg), &rec.Config); err != nil {
			return nil, fmt.Errorf("decode config for %s: %w", rec.Key, err)
		}
		if err := json.Unmarshal([]byte(al), &rec.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases for %s: %w", rec.Key, err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}
