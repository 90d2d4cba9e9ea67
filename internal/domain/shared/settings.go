package shared

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EngineSettings is the global configuration of the scoring engine.
// It is persisted so that operators can tune it without a redeploy.
type EngineSettings struct {
	// DailyXPCap bounds award-path XP credited per player per calendar day.
	DailyXPCap int64 `json:"daily_xp_cap"`

	// StreakBonusFactor is applied when ApplyStreakBonus is set and the context
	// carries no explicit multiplier.
	StreakBonusFactor float64 `json:"streak_bonus_factor"`
	ApplyStreakBonus  bool    `json:"apply_streak_bonus"`

	// TitleCheckInterval is how often time-dependent titles are re-evaluated.
	TitleCheckInterval time.Duration `json:"title_check_interval"`

	// LeaderboardSize is the top-N kept per scope.
	LeaderboardSize int `json:"leaderboard_size"`

	// MedalBonusBypassesCap credits medal bonuses outside the daily cap.
	MedalBonusBypassesCap bool `json:"medal_bonus_bypasses_cap"`
}

// DefaultEngineSettings returns the stock settings.
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		DailyXPCap:            1000,
		StreakBonusFactor:     1.1,
		TitleCheckInterval:    24 * time.Hour,
		LeaderboardSize:       100,
		MedalBonusBypassesCap: true,
	}
}

// Validate checks the settings for consistency.
func (s EngineSettings) Validate() error {
	var errs []error
	if s.DailyXPCap < 0 {
		errs = append(errs, fmt.Errorf("daily_xp_cap must be >= 0, got %d", s.DailyXPCap))
	}
	if s.StreakBonusFactor < 1 {
		errs = append(errs, fmt.Errorf("streak_bonus_factor must be >= 1, got %v", s.StreakBonusFactor))
	}
	if s.TitleCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("title_check_interval must be positive, got %s", s.TitleCheckInterval))
	}
	if s.LeaderboardSize <= 0 {
		errs = append(errs, fmt.Errorf("leaderboard_size must be positive, got %d", s.LeaderboardSize))
	}
	if len(errs) > 0 {
		return WrapError("settings", "Validate", ErrValidation, "invalid engine settings", errors.Join(errs...))
	}
	return nil
}

// SettingsRepository persists EngineSettings.
type SettingsRepository interface {
	// Load returns the stored settings or ErrSettingsNotFound.
	Load(ctx context.Context) (EngineSettings, error)

	// Save replaces the stored settings.
	Save(ctx context.Context, s EngineSettings) error
}
