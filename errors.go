package craftbot

import (
	"errors"
	"fmt"
)

// Session engine errors. Callers match them with errors.Is.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionInactive       = errors.New("session is no longer active")
	ErrSessionRequired       = errors.New("session id is required")
	ErrPromptRequired        = errors.New("image prompt is required")
	ErrAIInvalidResponse     = errors.New("invalid response from idea generator")
	ErrImageGenerationFailed = errors.New("image generation failed")
	ErrValidation            = errors.New("validation error")
)

// Common errors for session store operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrVersionConflict  = errors.New("session version conflict")
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyExists    = errors.New("session already exists")
)

// ImageFailureKind classifies upstream image generation failures.
type ImageFailureKind int

const (
	ImageFailureGeneric ImageFailureKind = iota
	ImageFailureRateLimited
	ImageFailureUpstreamBusy
)

func (k ImageFailureKind) String() string {
	switch k {
	case ImageFailureRateLimited:
		return "rate_limited"
	case ImageFailureUpstreamBusy:
		return "upstream_busy"
	default:
		return "generic"
	}
}

// ImageFailureKindForStatus maps an upstream HTTP status to a failure kind.
func ImageFailureKindForStatus(status int) ImageFailureKind {
	switch status {
	case 429:
		return ImageFailureRateLimited
	case 503, 504:
		return ImageFailureUpstreamBusy
	default:
		return ImageFailureGeneric
	}
}

// ImageGenerationError represents a failed call to the image generator.
type ImageGenerationError struct {
	Kind       ImageFailureKind
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *ImageGenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("image generation failed [%s, status %d]: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("image generation failed [%s]: %v", e.Kind, e.Err)
}

func (e *ImageGenerationError) Unwrap() error {
	return e.Err
}

// Is makes every ImageGenerationError match ErrImageGenerationFailed.
func (e *ImageGenerationError) Is(target error) bool {
	return target == ErrImageGenerationFailed
}

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ParseError represents generator output that could not be parsed into the
// expected shape ("materials" or "ideas").
type ParseError struct {
	Shape string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error [%s]: %v", e.Shape, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrAIInvalidResponse
}
