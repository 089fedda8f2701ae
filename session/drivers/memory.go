package drivers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/session"
)

// InMemoryStore implements session.Store using an in-memory map with optimistic locking.
// Records are cloned on the way in and out.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*craftbot.Session
	now      func() time.Time
}

// NewInMemoryStore creates a new in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*craftbot.Session),
		now:      time.Now,
	}
}

// Create implements session.Store.
func (s *InMemoryStore) Create(ctx context.Context, data *craftbot.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[data.ID]; exists {
		return craftbot.ErrAlreadyExists
	}

	data.UpdatedAt = s.now()
	data.Version = 1

	s.sessions[data.ID] = data.Clone()
	return nil
}

// Get implements session.Store.
// Returns nil if the session is not found (not an error).
func (s *InMemoryStore) Get(ctx context.Context, id string) (*craftbot.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.sessions[id]
	if !exists {
		return nil, nil
	}
	return data.Clone(), nil
}

// Update implements session.Store.
func (s *InMemoryStore) Update(ctx context.Context, data *craftbot.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sessions[data.ID]
	if !exists {
		return craftbot.ErrNotFound
	}

	if stored.Version != data.Version {
		return craftbot.ErrVersionConflict
	}

	data.Version++
	data.UpdatedAt = s.now()

	s.sessions[data.ID] = data.Clone()
	return nil
}

// ListExpired implements session.Store.
func (s *InMemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*craftbot.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*craftbot.Session
	for _, data := range s.sessions {
		if data.Status == craftbot.StatusActive && !data.ExpiresAt.After(now) {
			out = append(out, data.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List implements session.Store.
func (s *InMemoryStore) List(ctx context.Context, opts session.ListOptions) ([]craftbot.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]craftbot.Summary, 0, len(s.sessions))
	for _, data := range s.sessions {
		if sum := data.Summarize(); opts.Matches(sum) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	if limit := opts.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements session.Store.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	return nil
}

var _ session.Store = (*InMemoryStore)(nil)
