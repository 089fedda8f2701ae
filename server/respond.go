package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/creastat/craftbot"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{
		Error: errorBody{Code: code, Message: message},
	})
}

// classify maps an engine error to a status, a stable code and a message that
// is safe to show the caller. Unknown errors are reported as internal.
func classify(err error) (int, string, string) {
	var imgErr *craftbot.ImageGenerationError
	var maxErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "payload_too_large", "request body is too large"
	case errors.Is(err, craftbot.ErrValidation):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, craftbot.ErrSessionRequired):
		return http.StatusBadRequest, "session_required", "sessionId is required"
	case errors.Is(err, craftbot.ErrPromptRequired):
		return http.StatusBadRequest, "prompt_required", "no idea matched and no imagePrompt or text was given"
	case errors.Is(err, craftbot.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "session not found; start a new session"
	case errors.Is(err, craftbot.ErrSessionInactive):
		return http.StatusGone, "session_inactive", "session has expired or ended; start a new session"
	case errors.Is(err, craftbot.ErrVersionConflict):
		return http.StatusConflict, "version_conflict", "session was changed by another request; retry"
	case errors.As(err, &imgErr):
		switch imgErr.Kind {
		case craftbot.ImageFailureRateLimited:
			return http.StatusTooManyRequests, "image_rate_limited", "image generator is rate limited; try again later"
		case craftbot.ImageFailureUpstreamBusy:
			return http.StatusServiceUnavailable, "image_upstream_busy", "image generator is busy; try again later"
		default:
			return http.StatusBadGateway, "image_generation_failed", "image generation failed"
		}
	case errors.Is(err, craftbot.ErrImageGenerationFailed):
		return http.StatusBadGateway, "image_generation_failed", "image generation failed"
	case errors.Is(err, craftbot.ErrAIInvalidResponse):
		return http.StatusBadGateway, "ai_invalid_response", "the idea generator returned an unusable answer"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
