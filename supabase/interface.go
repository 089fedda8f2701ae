package supabase

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Store provides access to the Supabase tables and storage bucket the
// chatbot uses.
type Store interface {
	// InsertSession inserts a new row. Returns ErrDuplicate if the ID is taken.
	InsertSession(ctx context.Context, row SessionRow) error

	// GetSession retrieves a row by ID.
	// Returns nil if the row is not found (not an error).
	GetSession(ctx context.Context, id string) (*SessionRow, error)

	// UpdateSession replaces the row when its stored version equals
	// expectedVersion. Reports whether a row was written.
	UpdateSession(ctx context.Context, row SessionRow, expectedVersion int64) (bool, error)

	// ListSessions retrieves rows matching the query.
	ListSessions(ctx context.Context, q SessionQuery) ([]SessionRow, error)

	// Upload stores an object in the assets bucket.
	Upload(ctx context.Context, path string, data io.Reader, contentType string) error

	// RemoveObjects deletes objects from the assets bucket.
	RemoveObjects(ctx context.Context, paths []string) error

	// ListObjects lists object names under a folder of the assets bucket.
	ListObjects(ctx context.Context, folder string) ([]string, error)

	// PublicURL returns the public URL of an object in the assets bucket.
	PublicURL(path string) string

	// Bucket returns the assets bucket name.
	Bucket() string

	// Close closes the Supabase client and releases resources
	Close() error
}

// SessionRow is a chat session as stored in the sessions table. The indexed
// columns duplicate fields of the JSON payload.
type SessionRow struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Status         string          `json:"status"`
	ExpiresAt      time.Time       `json:"expires_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Version        int64           `json:"version"`
	Payload        json.RawMessage `json:"payload"`
}

// SessionQuery filters ListSessions.
type SessionQuery struct {
	Status        string
	UserID        string
	ExpiresBefore *time.Time // inclusive
	OrderBy       string
	Ascending     bool
	Limit         int
}
