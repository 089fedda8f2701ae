package assets

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/creastat/craftbot/supabase"
)

// SupabaseStore keeps assets in a Supabase Storage bucket as
// <sessionID>/<file> objects referenced by their public URL.
type SupabaseStore struct {
	client supabase.Store
	now    func() time.Time
}

// NewSupabaseStore creates a store on client's assets bucket.
func NewSupabaseStore(client supabase.Store) *SupabaseStore {
	return &SupabaseStore{client: client, now: time.Now}
}

// Save implements Store.
func (s *SupabaseStore) Save(ctx context.Context, sessionID string, data []byte, contentType string) (string, error) {
	if err := checkSessionID(sessionID); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}

	object := sessionID + "/" + FileName(s.now(), contentType)
	if err := s.client.Upload(ctx, object, bytes.NewReader(data), contentType); err != nil {
		return "", err
	}
	return s.client.PublicURL(object), nil
}

// SaveEncoded implements Store.
func (s *SupabaseStore) SaveEncoded(ctx context.Context, sessionID, payload string) (string, error) {
	data, contentType, err := DecodePayload(payload)
	if err != nil {
		return "", err
	}
	return s.Save(ctx, sessionID, data, contentType)
}

// Remove implements Store.
func (s *SupabaseStore) Remove(ctx context.Context, ref string) error {
	marker := "/" + s.client.Bucket() + "/"
	idx := strings.LastIndex(ref, marker)
	if idx < 0 {
		return fmt.Errorf("asset reference %q is not in bucket %s", ref, s.client.Bucket())
	}
	object, _, _ := strings.Cut(ref[idx+len(marker):], "?")
	return s.client.RemoveObjects(ctx, []string{object})
}

// DeleteSession implements Store.
func (s *SupabaseStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}

	names, err := s.client.ListObjects(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	objects := make([]string, len(names))
	for i, name := range names {
		objects[i] = sessionID + "/" + name
	}
	return s.client.RemoveObjects(ctx, objects)
}

var _ Store = (*SupabaseStore)(nil)
