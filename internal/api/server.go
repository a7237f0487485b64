// Package api provides the HTTP control surface: the scheduled trigger
// endpoint, manual control actions, status/health, and vote recording.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/truescope/truescope/internal/pipeline"
	"github.com/truescope/truescope/internal/scheduler"
	"github.com/truescope/truescope/internal/store"
)

// Server holds the dependencies for the control surface.
type Server struct {
	scheduler  *scheduler.Scheduler
	controller *pipeline.Controller
	store      *store.Store
	cronSecret string
	jwtSecret  []byte
	logger     *slog.Logger
}

// NewServer creates the API server.
func NewServer(sched *scheduler.Scheduler, controller *pipeline.Controller, st *store.Store,
	cronSecret, jwtSecret string) *Server {
	return &Server{
		scheduler:  sched,
		controller: controller,
		store:      st,
		cronSecret: cronSecret,
		jwtSecret:  []byte(jwtSecret),
		logger:     slog.Default(),
	}
}

// Routes returns the configured handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Scheduled trigger (cron shared secret)
	mux.Handle("POST /api/automation/trigger", s.requireCronSecret(http.HandlerFunc(s.handleTrigger)))

	// Manual control (admin JWT)
	mux.Handle("POST /api/automation/control", s.requireAdmin(http.HandlerFunc(s.handleControl)))

	// Read-only surfaces (public)
	mux.HandleFunc("GET /api/automation/status", s.handleStatus)
	mux.HandleFunc("GET /api/automation/health", s.handleHealth)
	mux.HandleFunc("GET /api/articles", s.handleListArticles)

	// Vote recording
	mux.HandleFunc("POST /api/articles/{id}/vote", s.handleVote)

	return mux
}

// --- Helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
