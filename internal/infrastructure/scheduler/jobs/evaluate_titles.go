package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/battle64/points-engine/internal/application/command"
	"github.com/battle64/points-engine/internal/infrastructure/scheduler"
)

// TitleService re-evaluates time-dependent titles.
type TitleService interface {
	EvaluateTitles(ctx context.Context) (*command.EvaluateTitlesResult, error)
}

// EvaluateTitlesJob grants titles that became due without a new award,
// such as the one-year veteran title.
type EvaluateTitlesJob struct {
	svc     TitleService
	logger  *slog.Logger
	timeout time.Duration
	last    atomic.Pointer[command.EvaluateTitlesResult]
}

// NewEvaluateTitlesJob creates a new title evaluation job.
func NewEvaluateTitlesJob(svc TitleService, logger *slog.Logger, timeout time.Duration) *EvaluateTitlesJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluateTitlesJob{svc: svc, logger: logger.With("job", "evaluate_titles"), timeout: timeout}
}

// Name returns the job name.
func (j *EvaluateTitlesJob) Name() string { return "evaluate_titles" }

// Description returns a human-readable description.
func (j *EvaluateTitlesJob) Description() string {
	return "Re-checks every player's titles"
}

// Run executes the job. Per-player failures are counted, not fatal; the job
// fails only when every scanned player failed.
func (j *EvaluateTitlesJob) Run(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, j.timeout)
	defer cancel()

	res, err := j.svc.EvaluateTitles(ctx)
	if err != nil {
		return fmt.Errorf("evaluate titles: %w", err)
	}
	j.last.Store(res)

	j.logger.Info("titles evaluated",
		"scanned", res.Scanned,
		"unlocked", res.Unlocked,
		"failed", res.Failed,
	)
	if res.Scanned > 0 && res.Failed == res.Scanned {
		return fmt.Errorf("evaluate titles: all %d players failed", res.Failed)
	}
	return nil
}

// LastResult returns the last run's result, nil before the first.
func (j *EvaluateTitlesJob) LastResult() *command.EvaluateTitlesResult { return j.last.Load() }

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// Service is everything the engine's jobs need.
type Service interface {
	LeaderboardService
	TitleService
}

// Config sets the job schedules.
type Config struct {
	TitleCheckInterval time.Duration
	FlushInterval      time.Duration

	// PruneCron defaults to scheduler.DailyAt0330.
	PruneCron string

	// Timeout bounds each run. Zero means no limit.
	Timeout time.Duration
}

// Register adds the engine's jobs to s. The rebuild job is given a schedule
// that never fires; it runs through Scheduler.RunNow.
func Register(s *scheduler.Scheduler, svc Service, cfg Config, logger *slog.Logger) error {
	pruneCron := cfg.PruneCron
	if pruneCron == "" {
		pruneCron = scheduler.DailyAt0330
	}
	prune, err := scheduler.ParseCronExpression(pruneCron)
	if err != nil {
		return err
	}

	regs := []struct {
		job      scheduler.Job
		schedule scheduler.Schedule
	}{
		{NewEvaluateTitlesJob(svc, logger, cfg.Timeout), scheduler.NewIntervalSchedule(cfg.TitleCheckInterval)},
		{NewFlushLeaderboardsJob(svc, logger, cfg.Timeout), scheduler.NewIntervalSchedule(cfg.FlushInterval)},
		{NewPruneLeaderboardsJob(svc, logger, cfg.Timeout), prune},
		{NewRebuildLeaderboardsJob(svc, logger, cfg.Timeout), manualSchedule{}},
	}
	for _, r := range regs {
		if err := s.Register(r.job, r.schedule); err != nil {
			return err
		}
	}
	return nil
}

// manualSchedule never fires on its own.
type manualSchedule struct{}

func (manualSchedule) Next(time.Time) time.Time { return time.Time{} }
func (manualSchedule) String() string { return "@manual" }
