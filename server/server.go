// Package server exposes the session engine over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/creastat/craftbot/engine"
)

const (
	// DefaultUploadLimit bounds request bodies, image uploads included.
	DefaultUploadLimit = 10 << 20

	// SessionHeader carries the session id when the form omits it.
	SessionHeader = "X-Session-Id"

	// UserHeader carries the caller's user id.
	UserHeader = "X-User-Id"
)

// Server routes chat requests to an engine.
type Server struct {
	engine      *engine.Engine
	uploadLimit int64
	staticRoot  string
	staticPath  string
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithUploadLimit sets the largest accepted request body in bytes.
func WithUploadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.uploadLimit = n
		}
	}
}

// WithStaticAssets serves files under root at the URL prefix used by the
// local asset store.
func WithStaticAssets(prefix, root string) Option {
	return func(s *Server) {
		s.staticPath = "/" + strings.Trim(prefix, "/")
		s.staticRoot = root
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Server.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:      e,
		uploadLimit: DefaultUploadLimit,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "server"))
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/chatbot/analyze", s.analyze).Methods("POST")
	router.HandleFunc("/chatbot/generate-image", s.generateImage).Methods("POST")
	router.HandleFunc("/chatbot/session/{sessionId}", s.getSession).Methods("GET")
	router.HandleFunc("/chatbot/session/{sessionId}", s.endSession).Methods("DELETE")
	router.HandleFunc("/chatbot/admin/sessions", s.listSessions).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	if s.staticRoot != "" {
		files := http.StripPrefix(s.staticPath, http.FileServer(http.Dir(s.staticRoot)))
		router.PathPrefix(s.staticPath+"/").Handler(noListing(files)).Methods("GET", "HEAD")
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	router.Use(s.logRequests)
	return router
}

// noListing hides directory indexes of the asset root.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.DebugContext(r.Context(), "Handled request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
