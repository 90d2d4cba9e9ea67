package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battle64/points-engine/internal/domain/shared"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.True(t, cfg.App.Debug)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, BackendPostgres, cfg.Leaderboard.SnapshotBackend)
	assert.Equal(t, time.Minute, cfg.Leaderboard.FlushInterval)
	assert.Equal(t, 2160*time.Hour, cfg.Leaderboard.Retention)
	assert.Equal(t, 10, cfg.Points.RecentActivityLimit)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, shared.DefaultEngineSettings(), cfg.Points.EngineSettings())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APP_TIMEZONE":                 "Europe/Berlin",
		"STORAGE_BACKEND":              "memory",
		"LEADERBOARD_SNAPSHOT_BACKEND": "redis",
		"REDIS_ENABLED":                "true",
		"POINTS_DAILY_XP_CAP":          "2500",
		"POINTS_APPLY_STREAK_BONUS":    "true",
		"HTTP_ADMIN_API_KEYS":          "k1,k2",
		"HTTP_PORT":                    "9000",
	})
	require.NoError(t, err)

	assert.Equal(t, "Europe/Berlin", cfg.App.Location.String())
	assert.Equal(t, int64(2500), cfg.Points.DailyXPCap)
	assert.True(t, cfg.Points.EngineSettings().ApplyStreakBonus)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.AdminAPIKeys)
	assert.Equal(t, 9000, cfg.HTTP.Port)
}

func TestLoadFrom_ReportsEveryProblem(t *testing.T) {
	_, err := LoadFrom(map[string]string{
		"STORAGE_BACKEND":              "sqlite",
		"LEADERBOARD_SNAPSHOT_BACKEND": "redis",
		"POINTS_LEADERBOARD_SIZE":      "0",
		"LOG_FORMAT":                   "xml",
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "STORAGE_BACKEND")
	assert.Contains(t, msg, "REDIS_ENABLED")
	assert.Contains(t, msg, "POINTS")
	assert.Contains(t, msg, "LOG_FORMAT")
}

func TestLoadFrom_BadTimezone(t *testing.T) {
	_, err := LoadFrom(map[string]string{"APP_TIMEZONE": "Mars/Olympus"})
	assert.ErrorContains(t, err, "APP_TIMEZONE")
}

func TestValidate_Production(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	cfg.App.Environment = EnvProduction
	cfg.Storage.Backend = BackendMemory
	cfg.Leaderboard.SnapshotBackend = BackendMemory
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in production")
	assert.Contains(t, err.Error(), "HTTP_ADMIN_API_KEYS")
	assert.True(t, cfg.IsProduction())
}
