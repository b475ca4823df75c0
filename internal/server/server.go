// Package server exposes the running life over a small JSON HTTP API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/stimulus"
	"github.com/lazypower/vivarium/internal/store"
)

// Life is the read side of the running loop.
type Life interface {
	Status() life.View
	Running() bool
}

// Server is the vivarium HTTP API server.
type Server struct {
	db      *store.DB
	life    Life
	queue   stimulus.Pusher
	log     *zap.Logger
	router  chi.Router
	version string
	started time.Time
	now     func() time.Time
}

// New creates a Server. db may be nil, in which case the archive and
// causal routes answer 503.
func New(db *store.DB, lf Life, queue stimulus.Pusher, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		db:      db,
		life:    lf,
		queue:   queue,
		log:     log,
		version: version,
		started: time.Now(),
		now:     time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/stimuli", s.handlePostStimulus)
		r.Get("/archive", s.handleArchive)
		r.Get("/causal", s.handleCausal)
		r.Get("/causal/summary", s.handleCausalSummary)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.db != nil && s.db.Healthy()
	running := s.life != nil && s.life.Running()

	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"running": running,
		"db":      dbOK,
	}
	if s.db != nil {
		body["db_path"] = s.db.Path
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
