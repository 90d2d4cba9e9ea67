package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battle64/points-engine/internal/application/eventhandler"
	"github.com/battle64/points-engine/internal/application/points"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/internal/infrastructure/messaging"
	"github.com/battle64/points-engine/internal/infrastructure/persistence/memory"
	"github.com/battle64/points-engine/internal/infrastructure/scheduler"
	"github.com/battle64/points-engine/internal/interface/http/handlers"
	"github.com/battle64/points-engine/pkg/logger"
	"github.com/battle64/points-engine/pkg/timeutil"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

type stubJob struct {
	name string
	err  error
}

func (j stubJob) Name() string { return j.name }
func (j stubJob) Description() string { return "stub" }
func (j stubJob) Run(ctx context.Context) error { return j.err }

func newTestServer(t *testing.T, cfg Config, jobs JobRunner) *Server {
	t.Helper()
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	svc, err := points.New(points.Deps{
		Players:   memory.NewPlayerRepository(),
		Snapshots: memory.NewSnapshotStore(),
	}, points.Options{
		Calendar: timeutil.NewCalendar(time.UTC).WithClock(func() time.Time { return now }),
	})
	require.NoError(t, err)

	srv, err := NewServer(cfg, Dependencies{
		Points: svc,
		Jobs:   jobs,
		Logger: logger.Nop(),
	})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestNewServer_RequiresPoints(t *testing.T) {
	_, err := NewServer(DefaultConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestServer_AwardFlow(t *testing.T) {
	h := newTestServer(t, DefaultConfig(), nil).Handler()

	rec, env := do(t, h, http.MethodPost, "/api/v1/awards", map[string]any{
		"player_id":     "alice",
		"display_name":  "Alice",
		"activity_type": "event_participation",
		"context":       map[string]any{"placement": 2},
		"submission_id": "evt-1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var award struct {
		PlayerID string `json:"player_id"`
		XPEarned int64  `json:"xp_earned"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &award))
	assert.Equal(t, "alice", award.PlayerID)
	assert.Equal(t, int64(400), award.XPEarned)

	rec, env = do(t, h, http.MethodPost, "/api/v1/awards", map[string]any{
		"player_id":     "alice",
		"activity_type": "event_participation",
		"context":       map[string]any{"placement": 2},
		"submission_id": "evt-1",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "duplicate_submission", env.Error.Code)

	_, _ = do(t, h, http.MethodPost, "/api/v1/awards", map[string]any{
		"player_id":     "bob",
		"activity_type": "comment",
	}, nil)

	rec, env = do(t, h, http.MethodGet, "/api/v1/leaderboards/monthly?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var board struct {
		Scope   string `json:"scope"`
		Entries []struct {
			PlayerID string `json:"player_id"`
			Rank     int    `json:"rank"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &board))
	assert.Equal(t, "monthly-2024-03", board.Scope)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "alice", board.Entries[0].PlayerID)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.Equal(t, 2, env.Meta.TotalCount)
	assert.Equal(t, 1, env.Meta.Limit)

	rec, env = do(t, h, http.MethodGet, "/api/v1/players/alice/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		TotalXP     int64  `json:"total_xp"`
		CurrentRank string `json:"current_rank"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1050), stats.TotalXP)
	assert.Equal(t, "Amateur", stats.CurrentRank)
}

func TestServer_AwardErrors(t *testing.T) {
	h := newTestServer(t, DefaultConfig(), nil).Handler()

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed json", `{"player_id":`, http.StatusBadRequest, "invalid_json"},
		{"unknown type", map[string]any{"player_id": "alice", "activity_type": "speedrun"}, http.StatusBadRequest, "validation_error"},
		{"missing player", map[string]any{"activity_type": "comment"}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, "/api/v1/awards", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestServer_BodyTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 16
	h := newTestServer(t, cfg, nil).Handler()

	rec, env := do(t, h, http.MethodPost, "/api/v1/awards", map[string]any{
		"player_id":     "alice-with-a-long-name",
		"activity_type": "comment",
	}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "payload_too_large", env.Error.Code)
}

func TestServer_QueryErrors(t *testing.T) {
	h := newTestServer(t, DefaultConfig(), nil).Handler()

	rec, env := do(t, h, http.MethodGet, "/api/v1/players/nobody/stats", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/leaderboards/yearly", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/leaderboards/global?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, h, http.MethodGet, "/api/v1/leaderboards/global", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestServer_SettingsAndHealth(t *testing.T) {
	srv := newTestServer(t, DefaultConfig(), nil)
	h := srv.Handler()

	rec, env := do(t, h, http.MethodGet, "/api/v1/settings", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var settings shared.EngineSettings
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.Equal(t, shared.DefaultEngineSettings().DailyXPCap, settings.DailyXPCap)

	rec, _ = do(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	checker := handlers.NewCompositeHealthChecker("v1")
	checker.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	failing, err := NewServer(DefaultConfig(), Dependencies{Points: srv.deps.Points, Logger: logger.Nop(), HealthChecker: checker})
	require.NoError(t, err)

	rec, env = do(t, failing.Handler(), http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", env.Error.Code)
}

func TestServer_AdminJobs(t *testing.T) {
	s := scheduler.NewScheduler(scheduler.DefaultSchedulerConfig())
	require.NoError(t, s.Register(stubJob{name: "flush_leaderboards"}, scheduler.NewIntervalSchedule(time.Minute)))
	require.NoError(t, s.Register(stubJob{name: "prune_leaderboards", err: errors.New("store down")}, scheduler.NewIntervalSchedule(time.Hour)))

	cfg := DefaultConfig()
	cfg.AdminAPIKeys = []string{"secret"}
	h := newTestServer(t, cfg, s).Handler()

	rec, env := do(t, h, http.MethodGet, "/api/v1/admin/jobs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	rec, env = do(t, h, http.MethodGet, "/api/v1/admin/jobs", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	auth := map[string]string{"Authorization": "Bearer secret"}
	rec, env = do(t, h, http.MethodGet, "/api/v1/admin/jobs", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, env.Meta.TotalCount)

	rec, env = do(t, h, http.MethodPost, "/api/v1/admin/jobs/flush_leaderboards/run", nil, auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	var run jobResultDTO
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.True(t, run.Success)

	rec, env = do(t, h, http.MethodPost, "/api/v1/admin/jobs/prune_leaderboards/run", nil, auth)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Contains(t, run.Error, "store down")

	rec, _ = do(t, h, http.MethodPost, "/api/v1/admin/jobs/missing/run", nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.Stop()

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{shared.ErrSubmissionProcessed, http.StatusConflict},
		{shared.ErrPlayerNotFound, http.StatusNotFound},
		{shared.ErrUnknownActivityType, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{shared.PersistenceError("points", "Save", errors.New("boom")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestServer_Feed(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	defer bus.Close()
	feed := eventhandler.NewMilestoneFeed(10, nil)
	require.NoError(t, bus.SubscribeAll(feed.Handle))

	svc, err := points.New(points.Deps{
		Players:   memory.NewPlayerRepository(),
		Publisher: bus,
	}, points.Options{})
	require.NoError(t, err)
	srv, err := NewServer(DefaultConfig(), Dependencies{Points: svc, Feed: feed, Logger: logger.Nop()})
	require.NoError(t, err)
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodPost, "/api/v1/awards", map[string]any{
		"player_id":     "alice",
		"activity_type": "event_participation",
		"context":       map[string]any{"placement": 2},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := do(t, h, http.MethodGet, "/api/v1/feed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []eventhandler.Milestone
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.NotEmpty(t, items)
	assert.Equal(t, 50, env.Meta.Limit)

	var medals int
	for _, m := range items {
		assert.Equal(t, "alice", m.PlayerID)
		assert.NotEmpty(t, m.CorrelationID)
		if m.Type == shared.EventMedalUnlocked {
			medals++
		}
	}
	assert.Equal(t, 2, medals)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/feed?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
