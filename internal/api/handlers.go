package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/truescope/truescope/internal/pipeline"
	"github.com/truescope/truescope/internal/scheduler"
)

// controlRequest is the manual control payload. Action is a closed
// enumeration; anything else is rejected, not silently ignored.
type controlRequest struct {
	Action string `json:"action"`
}

const (
	actionStart        = "start"
	actionStop         = "stop"
	actionTriggerNews  = "trigger-news"
	actionTriggerEmail = "trigger-email"
	actionHealthCheck  = "health-check"
)

// runSummary is the trigger endpoint's response payload.
type runSummary struct {
	RunID      string             `json:"run_id"`
	Status     pipeline.RunStatus `json:"status"`
	Processed  int                `json:"processed"`
	Total      int                `json:"total"`
	DurationMS int64              `json:"duration_ms"`
	Error      string             `json:"error,omitempty"`
}

func summarize(run *pipeline.Run) runSummary {
	return runSummary{
		RunID:      run.ID,
		Status:     run.Status,
		Processed:  run.ArticlesSelected,
		Total:      run.ArticlesProcessed,
		DurationMS: run.Duration().Milliseconds(),
		Error:      run.Error,
	}
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.runPipeline(w, r)
}

// runPipeline invokes the controller and maps the outcome to HTTP.
func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	run, err := s.controller.RunOnce(r.Context())
	if errors.Is(err, pipeline.ErrRunInProgress) {
		resp := map[string]interface{}{"error": "run already in progress"}
		if run != nil {
			resp["run_id"] = run.ID
		}
		respondJSON(w, http.StatusConflict, resp)
		return
	}
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, summarize(run))
		return
	}
	respondJSON(w, http.StatusOK, summarize(run))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case actionStart:
		if err := s.scheduler.Start(); err != nil && !errors.Is(err, scheduler.ErrAlreadyRunning) {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"state": string(s.scheduler.State())})

	case actionStop:
		s.scheduler.Stop()
		respondJSON(w, http.StatusOK, map[string]string{"state": string(s.scheduler.State())})

	case actionTriggerNews:
		s.runPipeline(w, r)

	case actionTriggerEmail:
		if err := s.scheduler.TriggerDigest(r.Context()); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "digest dispatched"})

	case actionHealthCheck:
		respondJSON(w, http.StatusOK, s.controller.HealthCheck(r.Context()))

	default:
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "unrecognized action",
			"action": req.Action,
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.controller.Status()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler": s.scheduler.State(),
		"status":    status,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.controller.HealthCheck(r.Context()))
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	articles, err := s.store.GetRecentPublished(r.Context(), since)
	if err != nil {
		s.logger.Error("list articles failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load articles")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"articles": articles})
}

// voteRequest records one up/down vote on a published article.
type voteRequest struct {
	Direction string `json:"direction"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid article id")
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Direction != "up" && req.Direction != "down" {
		respondError(w, http.StatusBadRequest, "direction must be \"up\" or \"down\"")
		return
	}

	up, down, err := s.store.RecordVote(r.Context(), id, req.Direction == "up")
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		s.logger.Error("vote failed", "article", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to record vote")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"votes_up": up, "votes_down": down})
}
