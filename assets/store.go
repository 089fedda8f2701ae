// Package assets stores session images. Sessions only ever hold the returned
// reference strings, never image bytes.
package assets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creastat/craftbot"
)

// Store writes and reclaims per-session image files.
type Store interface {
	// Save writes data under the session and returns its public reference.
	// Every call writes a new uniquely named file.
	Save(ctx context.Context, sessionID string, data []byte, contentType string) (string, error)

	// SaveEncoded decodes a base64 payload (bare or data URL) and saves it.
	SaveEncoded(ctx context.Context, sessionID, payload string) (string, error)

	// Remove deletes a single asset by reference. Missing assets are not an error.
	Remove(ctx context.Context, ref string) error

	// DeleteSession deletes every asset of the session. Deleting a session
	// with no assets, or deleting twice, succeeds.
	DeleteSession(ctx context.Context, sessionID string) error
}

var (
	// ErrEmptyPayload is returned when there is nothing to store.
	ErrEmptyPayload = errors.New("empty image payload")
	// ErrInvalidPayload wraps every DecodePayload failure.
	ErrInvalidPayload = errors.New("invalid image payload")
)

// DecodePayload decodes a bare base64 string or a data URL. The content type
// comes from the data URL header or is sniffed from the bytes.
func DecodePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	contentType := ""

	if strings.HasPrefix(payload, "data:") {
		comma := strings.Index(payload, ",")
		if comma < 0 {
			return nil, "", fmt.Errorf("%w: malformed data URL", ErrInvalidPayload)
		}
		contentType, _, _ = strings.Cut(payload[len("data:"):comma], ";")
		payload = payload[comma+1:]
	}
	if payload == "" {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidPayload, ErrEmptyPayload)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		var rawErr error
		if data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidPayload, ErrEmptyPayload)
	}

	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// FileName returns a collision-resistant file name: a millisecond timestamp, a
// random suffix and an extension for the content type.
func FileName(now time.Time, contentType string) string {
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), uuid.NewString()[:8], Extension(contentType))
}

// Extension maps an image content type to a file extension, defaulting to .png.
func Extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func checkSessionID(sessionID string) error {
	if !craftbot.ValidSessionID(sessionID) {
		return &craftbot.ValidationError{Field: "sessionId", Reason: "is not a valid identifier"}
	}
	return nil
}
