package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists reminders in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the reminders table on db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("reminder store migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id         TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			room_id    TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL,
			time       TEXT NOT NULL,
			weekday    INTEGER,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reminders_owner ON reminders(owner);
	`)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Create stores r, assigning an ID and creation time when unset.
func (s *Store) Create(ctx context.Context, r *Reminder) error {
	if r.Owner == "" {
		return errors.New("reminder owner is required")
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	var weekday sql.NullInt64
	if r.Weekday != nil {
		weekday = sql.NullInt64{Int64: int64(*r.Weekday), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, owner, room_id, kind, time, weekday, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Owner, r.RoomID, string(r.Kind), r.Time, weekday, r.Content,
		r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// List returns owner's reminders, oldest first.
func (s *Store) List(ctx context.Context, owner string) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, room_id, kind, time, weekday, content, created_at
		FROM reminders WHERE owner = ? ORDER BY created_at, id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// All returns every stored reminder.
func (s *Store) All(ctx context.Context) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, room_id, kind, time, weekday, content, created_at
		FROM reminders ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]*Reminder, error) {
	var out []*Reminder
	for rows.Next() {
		var (
			r       Reminder
			kind    string
			weekday sql.NullInt64
			created string
		)
		if err := rows.Scan(&r.ID, &r.Owner, &r.RoomID, &kind, &r.Time, &weekday, &r.Content, &created); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.Kind = Kind(kind)
		if weekday.Valid {
			wd := int(weekday.Int64)
			r.Weekday = &wd
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Delete removes owner's reminder id. It reports false when no such
// reminder belongs to owner.
func (s *Store) Delete(ctx context.Context, owner, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return false, fmt.Errorf("delete reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAll removes every reminder owner has and returns the count.
func (s *Store) DeleteAll(ctx context.Context, owner string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE owner = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("delete reminders: %w", err)
	}
	return res.RowsAffected()
}
