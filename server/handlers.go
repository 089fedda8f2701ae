package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/engine"
	"github.com/creastat/craftbot/session"
)

type analyzeResponse struct {
	Success bool `json:"success"`
	*engine.AnalyzeResult
}

type imageResponse struct {
	Success bool `json:"success"`
	*engine.ImageResult
}

type sessionResponse struct {
	Success bool              `json:"success"`
	Session *craftbot.Session `json:"session"`
}

type listResponse struct {
	Success  bool               `json:"success"`
	Sessions []craftbot.Summary `json:"sessions"`
}

// analyze handles POST /chatbot/analyze
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit)

	if err := r.ParseMultipartForm(s.uploadLimit); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			s.fail(w, r, badForm(err))
			return
		}
		if err := r.ParseForm(); err != nil {
			s.fail(w, r, badForm(err))
			return
		}
	}

	req := engine.AnalyzeRequest{
		SessionID: firstNonEmpty(r.FormValue("sessionId"), r.Header.Get(SessionHeader)),
		UserID:    firstNonEmpty(r.FormValue("userId"), r.Header.Get(UserHeader)),
		Text:      r.FormValue("text"),
	}
	if strings.TrimSpace(req.Text) == "" {
		if speech := r.FormValue("speechText"); strings.TrimSpace(speech) != "" {
			req.Text = speech
			req.Speech = true
		}
	}

	image, imageType, err := readImage(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req.Image = image
	req.ImageType = imageType

	res, err := s.engine.Analyze(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, AnalyzeResult: res})
}

// generateImage handles POST /chatbot/generate-image
func (s *Server) generateImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit)

	var req engine.ImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, badJSON(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get(SessionHeader)
	}

	res, err := s.engine.GenerateImage(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{Success: true, ImageResult: res})
}

// getSession handles GET /chatbot/session/{sessionId}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.GetSession(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Session: sess})
}

// endSession handles DELETE /chatbot/session/{sessionId}
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.EndSession(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Session: sess})
}

// listSessions handles GET /chatbot/admin/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := session.ListOptions{
		Status: craftbot.Status(q.Get("status")),
		UserID: q.Get("userId"),
	}
	switch opts.Status {
	case "", craftbot.StatusActive, craftbot.StatusExpired, craftbot.StatusEnded:
	default:
		s.fail(w, r, &craftbot.ValidationError{Field: "status", Reason: "must be active, expired or ended"})
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.fail(w, r, &craftbot.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		opts.Limit = limit
	}

	summaries, err := s.engine.ListSessions(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []craftbot.Summary{}
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Sessions: summaries})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.Any("error", err),
		)
	}
	writeError(w, status, code, message)
}

// readImage returns the optional "image" part. The content type is sniffed
// from the bytes; the client's declared type is not trusted.
func readImage(r *http.Request) ([]byte, string, error) {
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", badForm(err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", badForm(err)
	}
	if len(data) == 0 {
		return nil, "", nil
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", &craftbot.ValidationError{Field: "image", Reason: "is not an image"}
	}
	return data, contentType, nil
}

func badForm(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return &craftbot.ValidationError{Field: "form", Reason: "is malformed"}
}

func badJSON(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return &craftbot.ValidationError{Field: "body", Reason: "is not valid JSON"}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
