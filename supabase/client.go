package supabase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

const (
	DefaultSessionsTable = "chat_sessions"
	DefaultAssetsBucket  = "chat-images"

	// PostgREST reports unique violations with the Postgres code
	uniqueViolation = "(23505)"
)

// ErrDuplicate is returned when an insert collides with an existing row.
var ErrDuplicate = errors.New("supabase: duplicate row")

// Config holds Supabase connection configuration
type Config struct {
	URL           string
	APIKey        string
	SessionsTable string // Default: chat_sessions
	AssetsBucket  string // Default: chat-images
}

// Client implements the Store interface using Supabase
type Client struct {
	client        *supabase.Client
	sessionsTable string
	assetsBucket  string
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	if cfg.SessionsTable == "" {
		cfg.SessionsTable = DefaultSessionsTable
	}
	if cfg.AssetsBucket == "" {
		cfg.AssetsBucket = DefaultAssetsBucket
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:        client,
		sessionsTable: cfg.SessionsTable,
		assetsBucket:  cfg.AssetsBucket,
	}, nil
}

// Bucket returns the assets bucket name.
func (c *Client) Bucket() string { return c.assetsBucket }

// InsertSession inserts a new session row
func (c *Client) InsertSession(ctx context.Context, row SessionRow) error {
	_, _, err := c.client.From(c.sessionsTable).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		if strings.Contains(err.Error(), uniqueViolation) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session row by ID
func (c *Client) GetSession(ctx context.Context, id string) (*SessionRow, error) {
	var rows []SessionRow
	_, err := c.client.From(c.sessionsTable).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpdateSession writes row if the stored version still equals expectedVersion
func (c *Client) UpdateSession(ctx context.Context, row SessionRow, expectedVersion int64) (bool, error) {
	var updated []SessionRow
	_, err := c.client.From(c.sessionsTable).
		Update(row, "representation", "").
		Eq("id", row.ID).
		Eq("version", strconv.FormatInt(expectedVersion, 10)).
		ExecuteTo(&updated)
	if err != nil {
		return false, fmt.Errorf("failed to update session: %w", err)
	}
	return len(updated) > 0, nil
}

// ListSessions retrieves session rows matching q
func (c *Client) ListSessions(ctx context.Context, q SessionQuery) ([]SessionRow, error) {
	query := c.client.From(c.sessionsTable).Select("*", "", false)
	if q.Status != "" {
		query = query.Eq("status", q.Status)
	}
	if q.UserID != "" {
		query = query.Eq("user_id", q.UserID)
	}
	if q.ExpiresBefore != nil {
		query = query.Lte("expires_at", q.ExpiresBefore.UTC().Format(time.RFC3339Nano))
	}
	if q.OrderBy != "" {
		query = query.Order(q.OrderBy, &postgrest.OrderOpts{Ascending: q.Ascending})
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit, "")
	}

	var rows []SessionRow
	if _, err := query.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return rows, nil
}

// Upload stores an object in the assets bucket
func (c *Client) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := c.client.Storage.UploadFile(c.assetsBucket, path, data, storage_go.FileOptions{
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

// RemoveObjects deletes objects from the assets bucket
func (c *Client) RemoveObjects(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := c.client.Storage.RemoveFile(c.assetsBucket, paths); err != nil {
		return fmt.Errorf("failed to remove objects: %w", err)
	}
	return nil
}

// listPageSize is how many objects one storage listing call returns.
const listPageSize = 1000

// ListObjects lists object names directly under folder
func (c *Client) ListObjects(ctx context.Context, folder string) ([]string, error) {
	names, err := collectPages(listPageSize, func(offset int) ([]storage_go.FileObject, error) {
		return c.client.Storage.ListFiles(c.assetsBucket, folder, storage_go.FileSearchOptions{
			Limit:         listPageSize,
			Offset:        offset,
			SortByOptions: storage_go.SortBy{Column: "name", Order: "asc"},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects in %s: %w", folder, err)
	}
	return names, nil
}

// collectPages reads pages of size until one comes back short and returns the
// non-empty object names.
func collectPages(size int, page func(offset int) ([]storage_go.FileObject, error)) ([]string, error) {
	var names []string
	for offset := 0; ; offset += size {
		objects, err := page(offset)
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			if obj.Name != "" {
				names = append(names, obj.Name)
			}
		}
		if len(objects) < size {
			return names, nil
		}
	}
}

// PublicURL returns the public URL of an object in the assets bucket
func (c *Client) PublicURL(path string) string {
	return c.client.Storage.GetPublicUrl(c.assetsBucket, path).SignedURL
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

// Compile-time check that Client implements Store
var _ Store = (*Client)(nil)
