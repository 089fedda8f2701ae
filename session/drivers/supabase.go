package drivers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/session"
	"github.com/creastat/craftbot/supabase"
)

// SupabaseStore implements session.Store on a Supabase table through PostgREST.
// Optimistic locking is a conditional update on the version column.
type SupabaseStore struct {
	client supabase.Store
	now    func() time.Time
}

// NewSupabaseStore creates a session store backed by client.
func NewSupabaseStore(client supabase.Store) *SupabaseStore {
	return &SupabaseStore{client: client, now: time.Now}
}

// Create implements session.Store.
func (s *SupabaseStore) Create(ctx context.Context, data *craftbot.Session) error {
	data.UpdatedAt = s.now()
	data.Version = 1

	row, err := toRow(data)
	if err != nil {
		return err
	}
	if err := s.client.InsertSession(ctx, row); err != nil {
		if errors.Is(err, supabase.ErrDuplicate) {
			return craftbot.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Get implements session.Store.
// Returns nil if the session is not found (not an error).
func (s *SupabaseStore) Get(ctx context.Context, id string) (*craftbot.Session, error) {
	row, err := s.client.GetSession(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}
	return fromRow(*row)
}

// Update implements session.Store.
func (s *SupabaseStore) Update(ctx context.Context, data *craftbot.Session) error {
	next := *data
	next.Version++
	next.UpdatedAt = s.now()

	row, err := toRow(&next)
	if err != nil {
		return err
	}

	ok, err := s.client.UpdateSession(ctx, row, data.Version)
	if err != nil {
		return err
	}
	if !ok {
		current, err := s.client.GetSession(ctx, data.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return craftbot.ErrNotFound
		}
		return craftbot.ErrVersionConflict
	}

	data.Version = next.Version
	data.UpdatedAt = next.UpdatedAt
	return nil
}

// ListExpired implements session.Store.
func (s *SupabaseStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*craftbot.Session, error) {
	rows, err := s.client.ListSessions(ctx, supabase.SessionQuery{
		Status:        string(craftbot.StatusActive),
		ExpiresBefore: &now,
		OrderBy:       "expires_at",
		Ascending:     true,
		Limit:         limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*craftbot.Session, 0, len(rows))
	for _, row := range rows {
		data, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// List implements session.Store.
func (s *SupabaseStore) List(ctx context.Context, opts session.ListOptions) ([]craftbot.Summary, error) {
	rows, err := s.client.ListSessions(ctx, supabase.SessionQuery{
		Status:  string(opts.Status),
		UserID:  opts.UserID,
		OrderBy: "last_activity_at",
		Limit:   opts.EffectiveLimit(),
	})
	if err != nil {
		return nil, err
	}

	out := make([]craftbot.Summary, 0, len(rows))
	for _, row := range rows {
		data, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, data.Summarize())
	}
	return out, nil
}

// Close implements session.Store.
func (s *SupabaseStore) Close() error {
	return s.client.Close()
}

func toRow(data *craftbot.Session) (supabase.SessionRow, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return supabase.SessionRow{}, fmt.Errorf("failed to encode session: %w", err)
	}
	return supabase.SessionRow{
		ID:             data.ID,
		UserID:         data.UserID,
		Status:         string(data.Status),
		ExpiresAt:      data.ExpiresAt,
		LastActivityAt: data.LastActivityAt,
		Version:        data.Version,
		Payload:        payload,
	}, nil
}

func fromRow(row supabase.SessionRow) (*craftbot.Session, error) {
	var data craftbot.Session
	if err := json.Unmarshal(row.Payload, &data); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", row.ID, err)
	}
	data.Version = row.Version
	return &data, nil
}

var _ session.Store = (*SupabaseStore)(nil)
