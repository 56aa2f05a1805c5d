// Package history is the append-only, per-conversation message log. Every
// chat keeps at most a fixed number of records; the oldest are pruned in
// the same transaction as each insert. Three query shapes sit on top of the
// log: keyword search with surrounding context, reverse-offset ranges and
// time windows (see query.go).
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// MaxRetention is the hard ceiling on records kept per chat.
const MaxRetention = 10000

// TimeLayout is the canonical string form stored alongside each record.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one stored line of a conversation.
type Record struct {
	ID         int64
	ChatID     string
	SenderName string
	SenderID   string
	Content    string
	Timestamp  float64 // unix seconds at insert time
	TimeString string  // TimeLayout, or whatever the caller supplied
}

// Line renders the record the way query results present it.
func (r Record) Line() string {
	return r.TimeString + " " + r.SenderName + " " + r.Content
}

// Store persists chat messages in SQLite.
type Store struct {
	db        *sql.DB
	retention int
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore prepares the messages table on db. retention is clamped to
// (0, MaxRetention]; zero or negative selects MaxRetention.
func NewStore(db *sql.DB, retention int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = MaxRetention
	}
	if retention > MaxRetention {
		logger.Warn("history retention above ceiling, clamping",
			"requested", retention, "max", MaxRetention)
		retention = MaxRetention
	}

	s := &Store{db: db, retention: retention, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		sender_id TEXT,
		content TEXT NOT NULL,
		timestamp_float REAL NOT NULL,
		timestamp_str TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages(chat_id, timestamp_float);
	CREATE INDEX IF NOT EXISTS idx_messages_sender_id ON messages(sender_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Retention returns the per-chat record cap.
func (s *Store) Retention() int {
	return s.retention
}

// Record appends a message and prunes the chat back to the retention cap
// in one transaction. timestamp may be empty (now), "HH:MM", "HH:MM:SS",
// "YYYY-MM-DD HH:MM" or a full TimeLayout string.
func (s *Store) Record(ctx context.Context, chatID, senderName, senderID, content, timestamp string) error {
	now := s.now()
	tsStr := normalizeTimestamp(timestamp, now)
	tsFloat := float64(now.UnixNano()) / 1e9

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (chat_id, sender, sender_id, content, timestamp_float, timestamp_str)
		VALUES (?, ?, ?, ?, ?, ?)
	`, chatID, senderName, senderID, content, tsFloat, tsStr); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE chat_id = ? AND id NOT IN (
			SELECT id FROM messages
			WHERE chat_id = ?
			ORDER BY timestamp_float DESC, id DESC
			LIMIT ?
		)
	`, chatID, chatID, s.retention)
	if err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}

	if pruned, _ := res.RowsAffected(); pruned > 0 {
		s.logger.Debug("history pruned", "chat_id", chatID, "removed", pruned)
	}
	return nil
}

// Messages returns the chat's records oldest-first, at most the retention cap.
func (s *Store) Messages(ctx context.Context, chatID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender, COALESCE(sender_id, ''), content, timestamp_float, timestamp_str
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp_float ASC, id ASC
		LIMIT ?
	`, chatID, s.retention)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.ChatID, &r.SenderName, &r.SenderID, &r.Content, &r.Timestamp, &r.TimeString); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns how many records the chat currently holds.
func (s *Store) Count(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ClearChat deletes every record of the chat and reports how many went.
func (s *Store) ClearChat(ctx context.Context, chatID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("clear messages: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("history cleared", "chat_id", chatID, "removed", n)
	return n, nil
}

// normalizeTimestamp widens short caller-supplied times to TimeLayout.
func normalizeTimestamp(ts string, now time.Time) string {
	ts = strings.TrimSpace(ts)
	today := now.Format("2006-01-02")
	switch {
	case ts == "":
		return now.Format(TimeLayout)
	case len(ts) <= 5: // HH:MM
		return today + " " + ts + ":00"
	case len(ts) == 8 && strings.Count(ts, ":") == 2: // HH:MM:SS
		return today + " " + ts
	case len(ts) == 16 && strings.Count(ts, "-") == 2 && strings.Count(ts, ":") == 1:
		return ts + ":00"
	default:
		return ts
	}
}
