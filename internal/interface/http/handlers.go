package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/battle64/points-engine/internal/application/command"
	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "Battle64 Points Engine",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"awards":      "POST /api/v1/awards",
			"leaderboard": "/api/v1/leaderboards/{global|monthly|weekly|label}",
			"stats":       "/api/v1/players/{id}/stats",
		},
	}, nil)
}

// handleHealth runs every registered check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status, nil)
}

// handleLive reports that the process serves requests.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": s.Uptime().Round(time.Second).String(),
	}, nil)
}

// handleReady reports whether the dependencies are reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// POINTS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// AwardRequest is the body of POST /api/v1/awards.
type AwardRequest struct {
	PlayerID     string           `json:"player_id"`
	DisplayName  string           `json:"display_name,omitempty"`
	ActivityType string           `json:"activity_type"`
	Context      activity.Context `json:"context"`
	OccurredAt   *time.Time       `json:"occurred_at,omitempty"`
	SubmissionID string           `json:"submission_id,omitempty"`
}

func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	var req AwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return
		}
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	cmd := command.AwardPointsCommand{
		PlayerID:      req.PlayerID,
		DisplayName:   req.DisplayName,
		ActivityType:  req.ActivityType,
		Context:       req.Context,
		SubmissionID:  req.SubmissionID,
		CorrelationID: getRequestID(r.Context()),
	}
	if req.OccurredAt != nil {
		cmd.OccurredAt = *req.OccurredAt
	}

	result, err := s.deps.Points.AwardActivity(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result, nil)
}

// handleGetLeaderboard serves GET /api/v1/leaderboards/{scope}?limit=N.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Points.GetLeaderboard(r.Context(), r.PathValue("scope"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result, &ResponseMeta{
		TotalCount: result.TotalCount,
		Limit:      result.Limit,
	})
}

func (s *Server) handleGetPlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Points.GetPlayerStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats, nil)
}

// handleGetFeed serves GET /api/v1/feed?limit=N, newest first.
func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultFeedLimit
	}
	items := s.deps.Feed.Recent(limit)
	writeJSON(w, r, http.StatusOK, items, &ResponseMeta{TotalCount: len(items), Limit: limit})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Points.Settings(), nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// jobResultDTO is a JSON-friendly scheduler.JobResult.
type jobResultDTO struct {
	Job       string    `json:"job"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Success   bool      `json:"success"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Jobs.ListJobs()
	writeJSON(w, r, http.StatusOK, jobs, &ResponseMeta{TotalCount: len(jobs)})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Jobs.RunNow(r.Context(), r.PathValue("name"))
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
		return
	}

	dto := jobResultDTO{
		Job:       res.JobName,
		StartedAt: res.StartedAt,
		Duration:  res.Duration.String(),
		Success:   res.Success,
		Skipped:   res.Skipped,
	}
	status := http.StatusOK
	if err != nil {
		dto.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, r, status, dto, nil)
}

const defaultFeedLimit = 50

// parseLimit reads the optional limit query parameter. Zero means unset.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
