package testutil

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/creastat/craftbot/supabase"
)

// FakeSupabase is an in-memory supabase.Store.
type FakeSupabase struct {
	mu      sync.Mutex
	rows    map[string]supabase.SessionRow
	objects map[string][]byte
	bucket  string

	// UploadErr fails every upload when set.
	UploadErr error
}

// NewFakeSupabase creates an empty fake with bucket "chat-images".
func NewFakeSupabase() *FakeSupabase {
	return &FakeSupabase{
		rows:    make(map[string]supabase.SessionRow),
		objects: make(map[string][]byte),
		bucket:  supabase.DefaultAssetsBucket,
	}
}

// InsertSession implements supabase.Store.
func (f *FakeSupabase) InsertSession(ctx context.Context, row supabase.SessionRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[row.ID]; ok {
		return supabase.ErrDuplicate
	}
	f.rows[row.ID] = row
	return nil
}

// GetSession implements supabase.Store.
func (f *FakeSupabase) GetSession(ctx context.Context, id string) (*supabase.SessionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

// UpdateSession implements supabase.Store.
func (f *FakeSupabase) UpdateSession(ctx context.Context, row supabase.SessionRow, expectedVersion int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.rows[row.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	f.rows[row.ID] = row
	return true, nil
}

// ListSessions implements supabase.Store.
func (f *FakeSupabase) ListSessions(ctx context.Context, q supabase.SessionQuery) ([]supabase.SessionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []supabase.SessionRow
	for _, row := range f.rows {
		if q.Status != "" && row.Status != q.Status {
			continue
		}
		if q.UserID != "" && row.UserID != q.UserID {
			continue
		}
		if q.ExpiresBefore != nil && row.ExpiresAt.After(*q.ExpiresBefore) {
			continue
		}
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch q.OrderBy {
		case "expires_at":
			if q.Ascending {
				return a.ExpiresAt.Before(b.ExpiresAt)
			}
			return a.ExpiresAt.After(b.ExpiresAt)
		case "last_activity_at":
			if q.Ascending {
				return a.LastActivityAt.Before(b.LastActivityAt)
			}
			return a.LastActivityAt.After(b.LastActivityAt)
		default:
			return a.ID < b.ID
		}
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Upload implements supabase.Store.
func (f *FakeSupabase) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.UploadErr != nil {
		return f.UploadErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	return nil
}

// RemoveObjects implements supabase.Store.
func (f *FakeSupabase) RemoveObjects(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.objects, p)
	}
	return nil
}

// ListObjects implements supabase.Store.
func (f *FakeSupabase) ListObjects(ctx context.Context, folder string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for p := range f.objects {
		if name, ok := strings.CutPrefix(p, folder+"/"); ok && !strings.Contains(name, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PublicURL implements supabase.Store.
func (f *FakeSupabase) PublicURL(path string) string {
	return "https://example.supabase.co/storage/v1/object/public/" + f.bucket + "/" + path
}

// Bucket implements supabase.Store.
func (f *FakeSupabase) Bucket() string { return f.bucket }

// Close implements supabase.Store.
func (f *FakeSupabase) Close() error { return nil }

// Objects returns the stored object paths.
func (f *FakeSupabase) Objects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for p := range f.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

var _ supabase.Store = (*FakeSupabase)(nil)
