package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPublicPrefix is the URL path local assets are served under.
const DefaultPublicPrefix = "/uploads/chatbot"

// LocalStore keeps assets on disk as <root>/<sessionID>/<file> and
// references them as <prefix>/<sessionID>/<file>.
type LocalStore struct {
	root   string
	prefix string
	now    func() time.Time
}

// NewLocalStore creates a store rooted at root. An empty prefix selects
// DefaultPublicPrefix.
func NewLocalStore(root, prefix string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("assets root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assets root: %w", err)
	}
	if prefix == "" {
		prefix = DefaultPublicPrefix
	}
	return &LocalStore{
		root:   root,
		prefix: "/" + strings.Trim(prefix, "/"),
		now:    time.Now,
	}, nil
}

// Root returns the directory holding the session folders.
func (s *LocalStore) Root() string { return s.root }

// PublicPrefix returns the URL path prefix of references.
func (s *LocalStore) PublicPrefix() string { return s.prefix }

// Save implements Store.
func (s *LocalStore) Save(ctx context.Context, sessionID string, data []byte, contentType string) (string, error) {
	if err := checkSessionID(sessionID); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}

	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	name := FileName(s.now(), contentType)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	return path.Join(s.prefix, sessionID, name), nil
}

// SaveEncoded implements Store.
func (s *LocalStore) SaveEncoded(ctx context.Context, sessionID, payload string) (string, error) {
	data, contentType, err := DecodePayload(payload)
	if err != nil {
		return "", err
	}
	return s.Save(ctx, sessionID, data, contentType)
}

// Remove implements Store.
func (s *LocalStore) Remove(ctx context.Context, ref string) error {
	p, err := s.pathOf(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove asset: %w", err)
	}
	return nil
}

// DeleteSession implements Store.
func (s *LocalStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, sessionID)); err != nil {
		return fmt.Errorf("failed to delete session assets: %w", err)
	}
	return nil
}

// pathOf maps a reference back to its file, refusing anything outside a
// session directory.
func (s *LocalStore) pathOf(ref string) (string, error) {
	rel, ok := strings.CutPrefix(ref, s.prefix+"/")
	if !ok {
		return "", fmt.Errorf("asset reference %q is not under %s", ref, s.prefix)
	}
	sessionID, name, ok := strings.Cut(rel, "/")
	if !ok || checkSessionID(sessionID) != nil || name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return "", fmt.Errorf("invalid asset reference %q", ref)
	}
	return filepath.Join(s.root, sessionID, name), nil
}

var _ Store = (*LocalStore)(nil)
