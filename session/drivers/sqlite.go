package drivers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/session"
)

// SQLiteStore implements session.Store on a single SQLite table. Indexed
// columns mirror the fields used for sweeping and listing; the full record is
// kept as JSON.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent updates.
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an open database and creates the schema if missing.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initTables() error {
	sessionTableSQL := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL
	);`
	if _, err := s.db.Exec(sessionTableSQL); err != nil {
		return fmt.Errorf("failed to create chat_sessions table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_expiry ON chat_sessions(status, expires_at);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_activity ON chat_sessions(last_activity_at);`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Create implements session.Store.
func (s *SQLiteStore) Create(ctx context.Context, data *craftbot.Session) error {
	data.UpdatedAt = s.now()
	data.Version = 1

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, status, expires_at, last_activity_at, version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		data.ID, data.UserID, string(data.Status),
		data.ExpiresAt.UnixNano(), data.LastActivityAt.UnixNano(),
		data.Version, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return craftbot.ErrAlreadyExists
	}
	return nil
}

// Get implements session.Store.
// Returns nil if the session is not found (not an error).
func (s *SQLiteStore) Get(ctx context.Context, id string) (*craftbot.Session, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM chat_sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeSession(payload)
}

// Update implements session.Store. The write only applies when the stored
// version still matches.
func (s *SQLiteStore) Update(ctx context.Context, data *craftbot.Session) error {
	next := *data
	next.Version++
	next.UpdatedAt = s.now()

	payload, err := json.Marshal(&next)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET user_id = ?, status = ?, expires_at = ?, last_activity_at = ?, version = ?, data = ?
		WHERE id = ? AND version = ?`,
		next.UserID, string(next.Status),
		next.ExpiresAt.UnixNano(), next.LastActivityAt.UnixNano(),
		next.Version, string(payload),
		data.ID, data.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chat_sessions WHERE id = ?`, data.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return craftbot.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		return craftbot.ErrVersionConflict
	}

	data.Version = next.Version
	data.UpdatedAt = next.UpdatedAt
	return nil
}

// ListExpired implements session.Store.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*craftbot.Session, error) {
	query := `SELECT data FROM chat_sessions
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC`
	args := []any{string(craftbot.StatusActive), now.UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var out []*craftbot.Session
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		data, err := decodeSession(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// List implements session.Store.
func (s *SQLiteStore) List(ctx context.Context, opts session.ListOptions) ([]craftbot.Summary, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}

	query := `SELECT data FROM chat_sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_activity_at DESC LIMIT ?`
	args = append(args, opts.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []craftbot.Summary{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		data, err := decodeSession(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, data.Summarize())
	}
	return out, rows.Err()
}

// Close implements session.Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeSession(payload string) (*craftbot.Session, error) {
	var data craftbot.Session
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &data, nil
}

var _ session.Store = (*SQLiteStore)(nil)
