package session

import (
	"context"
	"time"

	"github.com/creastat/craftbot"
)

// Store defines the interface for session storage operations.
// Stores hold no business logic; state transitions live in Lifecycle.
type Store interface {
	// Create persists a new session with Version set to 1.
	// Returns craftbot.ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, s *craftbot.Session) error

	// Get retrieves a session by ID.
	// Returns nil if the session is not found (not an error).
	Get(ctx context.Context, id string) (*craftbot.Session, error)

	// Update updates an existing session with optimistic locking.
	// Verifies the Version matches the stored version, increments Version,
	// updates UpdatedAt, and persists the session.
	// Returns craftbot.ErrVersionConflict if the version does not match.
	// Returns craftbot.ErrNotFound if the session does not exist.
	Update(ctx context.Context, s *craftbot.Session) error

	// ListExpired returns up to limit active sessions whose ExpiresAt is at or
	// before now, oldest expiry first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*craftbot.Session, error)

	// List returns session summaries ordered by last activity, newest first.
	List(ctx context.Context, opts ListOptions) ([]craftbot.Summary, error)

	// Close closes the store and releases any resources.
	Close() error
}

// DefaultListLimit caps listings when ListOptions.Limit is unset.
const DefaultListLimit = 50

// ListOptions filters a session listing.
type ListOptions struct {
	Status craftbot.Status // empty matches every status
	UserID string
	Limit  int
}

// EffectiveLimit returns Limit or DefaultListLimit when unset.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// Matches reports whether a summary passes the Status and UserID filters.
func (o ListOptions) Matches(s craftbot.Summary) bool {
	if o.Status != "" && s.Status != o.Status {
		return false
	}
	if o.UserID != "" && s.UserID != o.UserID {
		return false
	}
	return true
}
