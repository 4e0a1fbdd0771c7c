// Package api implements the HTTP API server for repolens.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sprite-ai/repolens/internal/auth"
	"github.com/sprite-ai/repolens/internal/config"
	"github.com/sprite-ai/repolens/internal/githost"
	"github.com/sprite-ai/repolens/internal/local"
	"github.com/sprite-ai/repolens/internal/model"
	"github.com/sprite-ai/repolens/internal/reviewapi"
	"github.com/sprite-ai/repolens/internal/session"
)

// Options wires a Server to its collaborators.
type Options struct {
	Config   *config.Config
	Auth     *auth.Manager
	Reviews  *reviewapi.Client
	Hosts    githost.Options
	Projects *local.Projects
	Logger   zerolog.Logger
}

// Server is the repolens HTTP API server.
type Server struct {
	cfg      *config.Config
	auth     *auth.Manager
	reviews  *reviewapi.Client
	hosts    githost.Options
	projects *local.Projects
	limits   local.Limits
	log      zerolog.Logger

	mux    *http.ServeMux
	server *http.Server
}

// New creates a new API server.
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	projects := opts.Projects
	if projects == nil {
		projects = local.NewProjects()
	}

	limits := local.DefaultLimits()
	if cfg.Local.MaxFileSize > 0 {
		limits.MaxFileSize = cfg.Local.MaxFileSize
	}
	if cfg.Local.MaxFiles > 0 {
		limits.MaxFiles = cfg.Local.MaxFiles
	}

	s := &Server{
		cfg:      cfg,
		auth:     opts.Auth,
		reviews:  opts.Reviews,
		hosts:    opts.Hosts,
		projects: projects,
		limits:   limits,
		log:      opts.Logger,
	}
	if s.auth == nil {
		s.auth = auth.NewManager(auth.Options{
			BaseURL:   cfg.BaseURL,
			GitHub:    cfg.GitHub,
			Bitbucket: cfg.Bitbucket,
			Session:   cfg.Session,
		})
	}
	if s.reviews == nil {
		s.reviews = reviewapi.New(reviewapi.Options{
			BaseURL:       cfg.Review.BaseURL,
			WebhookURL:    cfg.Review.WebhookURL,
			Timeout:       cfg.Review.Timeout,
			RatePerMinute: cfg.Review.RatePerMinute,
			Burst:         cfg.Review.Burst,
			Logger:        s.log,
		})
	}

	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Review.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /auth/{provider}/login", s.handleLogin)
	s.mux.HandleFunc("GET /auth/{provider}/callback", s.handleCallback)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/session", s.handleSession)

	s.mux.HandleFunc("GET /api/repos", s.withHost(s.handleRepos))
	s.mux.HandleFunc("GET /api/repos/{owner}/{repo}/branches", s.withHost(s.handleBranches))
	s.mux.HandleFunc("GET /api/repos/{owner}/{repo}/tree", s.withHost(s.handleTree))
	s.mux.HandleFunc("GET /api/repos/{owner}/{repo}/file", s.withHost(s.handleFile))
	s.mux.HandleFunc("POST /api/repos/{owner}/{repo}/review", s.withHost(s.handleReview))
	s.mux.HandleFunc("GET /api/repos/{owner}/{repo}/reviews/last", s.withHost(s.handleLastReview))
	s.mux.HandleFunc("GET /api/repos/{owner}/{repo}/reviews/files", s.withHost(s.handleReviewedFiles))

	s.mux.HandleFunc("POST /api/local/review", s.handleLocalReview)
	s.mux.HandleFunc("GET /api/local/reviews/last", s.handleLocalLastReview)
	s.mux.HandleFunc("GET /api/local/reviews/files", s.handleLocalReviewedFiles)

	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("repolens API server listening")
	return s.server.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type hostHandler func(w http.ResponseWriter, r *http.Request, sess model.Session, host githost.Provider)

// withHost rejects requests without a signed-in session and hands the
// handler a git host client for it.
func (s *Server) withHost(h hostHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.auth.Lookup(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "sign in required")
			return
		}
		host, err := githost.New(r.Context(), sess, s.hosts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h(w, r, sess, host)
	}
}

// fail maps an operation error onto a response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, reviewapi.ErrNoStoredReview):
		writeJSON(w, http.StatusNotFound, map[string]string{"notice": noStoredReview})
		return
	case errors.Is(err, session.ErrStale):
		writeJSON(w, http.StatusConflict, map[string]string{"notice": err.Error()})
		return
	case errors.Is(err, githost.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, local.ErrUnsupportedType),
		errors.Is(err, local.ErrTooLarge),
		errors.Is(err, local.ErrTooMany):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, reviewapi.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream failure")
	writeError(w, http.StatusBadGateway, err.Error())
}

const noStoredReview = "No review has been stored for this target yet."

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
