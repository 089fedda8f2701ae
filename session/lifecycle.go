package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/creastat/craftbot"
)

// DefaultIdleWindow is how long an untouched active session stays alive.
const DefaultIdleWindow = 60 * time.Minute

// AssetReclaimer deletes every asset stored for a session. Deleting a session
// with no assets must succeed.
type AssetReclaimer interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// Lifecycle owns the active → expired and active → ended transitions.
// Transitions are persisted through the Store and never lead back to active.
type Lifecycle struct {
	store  Store
	assets AssetReclaimer
	locks  *KeyedMutex
	idle   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithIdleWindow sets the idle window. Non-positive values keep the default.
func WithIdleWindow(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.idle = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// WithAssetReclaimer sets the asset store cleaned on terminal transitions.
func WithAssetReclaimer(r AssetReclaimer) LifecycleOption {
	return func(l *Lifecycle) {
		l.assets = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLifecycle creates a Lifecycle backed by store.
func NewLifecycle(store Store, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store:  store,
		locks:  NewKeyedMutex(),
		idle:   DefaultIdleWindow,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "session.lifecycle"))
	return l
}

// Store returns the backing store.
func (l *Lifecycle) Store() Store { return l.store }

// Locks returns the per-session locks shared by request handling and the sweep.
func (l *Lifecycle) Locks() *KeyedMutex { return l.locks }

// IdleWindow returns the configured idle window.
func (l *Lifecycle) IdleWindow() time.Duration { return l.idle }

// Now returns the lifecycle clock's current time.
func (l *Lifecycle) Now() time.Time { return l.now() }

// List reads summaries from the store and reports each at its effective
// status: an active session past its expiry is listed as expired even before
// the sweep persists that. Filtering by expired therefore also scans active
// sessions.
func (l *Lifecycle) List(ctx context.Context, opts ListOptions) ([]craftbot.Summary, error) {
	now := l.now()

	statuses := []craftbot.Status{opts.Status}
	if opts.Status == craftbot.StatusExpired {
		statuses = append(statuses, craftbot.StatusActive)
	}

	out := []craftbot.Summary{}
	for _, status := range statuses {
		query := opts
		query.Status = status
		summaries, err := l.store.List(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, s := range summaries {
			if s.Overdue(now) {
				s.Status = craftbot.StatusExpired
			}
			if opts.Matches(s) {
				out = append(out, s)
			}
		}
	}

	if len(statuses) > 1 {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		})
		if limit := opts.EffectiveLimit(); len(out) > limit {
			out = out[:limit]
		}
	}
	return out, nil
}

// NewSession returns an unsaved active session whose clock starts now.
func (l *Lifecycle) NewSession(id, userID string) *craftbot.Session {
	now := l.now()
	return &craftbot.Session{
		ID:             id,
		UserID:         userID,
		Materials:      []string{},
		LastIdeas:      []craftbot.Idea{},
		Messages:       []craftbot.Message{},
		Status:         craftbot.StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(l.idle),
	}
}

// Touch extends the expiry of an active session to now plus the idle window.
// The caller persists the change.
func (l *Lifecycle) Touch(s *craftbot.Session) error {
	if !s.IsActive() {
		return fmt.Errorf("touch %s: %w", s.ID, craftbot.ErrSessionInactive)
	}
	now := l.now()
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(l.idle)
	return nil
}

// Refresh applies the lazy expiry check: an active session past its expiry is
// transitioned to expired and persisted before it is returned.
func (l *Lifecycle) Refresh(ctx context.Context, s *craftbot.Session) (*craftbot.Session, error) {
	if !s.Overdue(l.now()) {
		return s, nil
	}
	if _, err := l.Expire(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Expire moves an active session to expired. It reports whether this call
// performed the transition; expiring a terminal session is a no-op.
func (l *Lifecycle) Expire(ctx context.Context, s *craftbot.Session) (bool, error) {
	return l.terminate(ctx, s, craftbot.StatusExpired)
}

// End moves an active session to ended. Ending a terminal session fails with
// craftbot.ErrSessionInactive.
func (l *Lifecycle) End(ctx context.Context, s *craftbot.Session) error {
	if !s.IsActive() {
		return fmt.Errorf("end %s: %w", s.ID, craftbot.ErrSessionInactive)
	}
	done, err := l.terminate(ctx, s, craftbot.StatusEnded)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("end %s: %w", s.ID, craftbot.ErrSessionInactive)
	}
	return nil
}

func (l *Lifecycle) terminate(ctx context.Context, s *craftbot.Session, status craftbot.Status) (bool, error) {
	if s.Status.Terminal() {
		return false, nil
	}

	now := l.now()
	next := s.Clone()
	next.Status = status
	next.EndedAt = &now

	if err := l.store.Update(ctx, next); err != nil {
		if !errors.Is(err, craftbot.ErrVersionConflict) {
			return false, fmt.Errorf("persist %s transition for %s: %w", status, s.ID, err)
		}
		// Someone else wrote first. If they terminated it, adopt their record.
		current, getErr := l.store.Get(ctx, s.ID)
		if getErr != nil {
			return false, fmt.Errorf("reload %s after conflict: %w", s.ID, getErr)
		}
		if current != nil && current.Status.Terminal() {
			*s = *current
			return false, nil
		}
		return false, fmt.Errorf("persist %s transition for %s: %w", status, s.ID, err)
	}

	*s = *next
	l.logger.InfoContext(ctx, "Session terminated",
		slog.String("session_id", s.ID),
		slog.String("status", string(status)),
	)
	l.reclaim(ctx, s.ID)
	return true, nil
}

// reclaim deletes the session's assets. Failures are logged, never returned.
func (l *Lifecycle) reclaim(ctx context.Context, sessionID string) {
	if l.assets == nil {
		return
	}
	if err := l.assets.DeleteSession(ctx, sessionID); err != nil {
		l.logger.WarnContext(ctx, "Failed to delete session assets",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
}
