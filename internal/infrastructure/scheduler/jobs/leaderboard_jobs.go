// Package jobs contains the scheduled jobs of the points engine.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/battle64/points-engine/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD JOBS
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardService is the part of the points service the leaderboard jobs drive.
type LeaderboardService interface {
	FlushLeaderboards(ctx context.Context) (int, error)
	PruneLeaderboards(ctx context.Context) (int, error)
	RebuildLeaderboards(ctx context.Context) (*command.RebuildLeaderboardResult, error)
}

// RunStats describes one job run.
type RunStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Affected  int
}

// ──────────────────────────────────────────────────────────────────────────────
// flush_leaderboards
// ──────────────────────────────────────────────────────────────────────────────

// FlushLeaderboardsJob writes snapshots of boards changed since the last flush.
type FlushLeaderboardsJob struct {
	svc     LeaderboardService
	logger  *slog.Logger
	timeout time.Duration
	last    atomic.Pointer[RunStats]
}

// NewFlushLeaderboardsJob creates a new flush job.
func NewFlushLeaderboardsJob(svc LeaderboardService, logger *slog.Logger, timeout time.Duration) *FlushLeaderboardsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlushLeaderboardsJob{svc: svc, logger: logger.With("job", "flush_leaderboards"), timeout: timeout}
}

// Name returns the job name.
func (j *FlushLeaderboardsJob) Name() string { return "flush_leaderboards" }

// Description returns a human-readable description.
func (j *FlushLeaderboardsJob) Description() string {
	return "Saves snapshots of changed leaderboards"
}

// Run executes the job.
func (j *FlushLeaderboardsJob) Run(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	n, err := j.svc.FlushLeaderboards(ctx)
	j.last.Store(&RunStats{StartedAt: started, Duration: time.Since(started), Affected: n})
	if err != nil {
		return fmt.Errorf("flush leaderboards (%d saved): %w", n, err)
	}
	if n > 0 {
		j.logger.Debug("leaderboards flushed", "count", n)
	}
	return nil
}

// LastRun returns the stats of the last run, nil before the first.
func (j *FlushLeaderboardsJob) LastRun() *RunStats { return j.last.Load() }

// ──────────────────────────────────────────────────────────────────────────────
// prune_leaderboards
// ──────────────────────────────────────────────────────────────────────────────

// PruneLeaderboardsJob drops monthly and weekly boards past their retention.
type PruneLeaderboardsJob struct {
	svc     LeaderboardService
	logger  *slog.Logger
	timeout time.Duration
	last    atomic.Pointer[RunStats]
}

// NewPruneLeaderboardsJob creates a new prune job.
func NewPruneLeaderboardsJob(svc LeaderboardService, logger *slog.Logger, timeout time.Duration) *PruneLeaderboardsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneLeaderboardsJob{svc: svc, logger: logger.With("job", "prune_leaderboards"), timeout: timeout}
}

// Name returns the job name.
func (j *PruneLeaderboardsJob) Name() string { return "prune_leaderboards" }

// Description returns a human-readable description.
func (j *PruneLeaderboardsJob) Description() string {
	return "Removes rolling leaderboards whose retention has passed"
}

// Run executes the job.
func (j *PruneLeaderboardsJob) Run(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	n, err := j.svc.PruneLeaderboards(ctx)
	j.last.Store(&RunStats{StartedAt: started, Duration: time.Since(started), Affected: n})
	if err != nil {
		return fmt.Errorf("prune leaderboards: %w", err)
	}
	j.logger.Info("leaderboards pruned", "count", n)
	return nil
}

// LastRun returns the stats of the last run, nil before the first.
func (j *PruneLeaderboardsJob) LastRun() *RunStats { return j.last.Load() }

// ──────────────────────────────────────────────────────────────────────────────
// rebuild_leaderboards
// ──────────────────────────────────────────────────────────────────────────────

// RebuildLeaderboardsJob recomputes the current boards from player totals.
// It is registered for manual runs; startup restore calls the same path
// when no global snapshot exists.
type RebuildLeaderboardsJob struct {
	svc     LeaderboardService
	logger  *slog.Logger
	timeout time.Duration
	last    atomic.Pointer[RunStats]
}

// NewRebuildLeaderboardsJob creates a new rebuild job.
func NewRebuildLeaderboardsJob(svc LeaderboardService, logger *slog.Logger, timeout time.Duration) *RebuildLeaderboardsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildLeaderboardsJob{svc: svc, logger: logger.With("job", "rebuild_leaderboards"), timeout: timeout}
}

// Name returns the job name.
func (j *RebuildLeaderboardsJob) Name() string { return "rebuild_leaderboards" }

// Description returns a human-readable description.
func (j *RebuildLeaderboardsJob) Description() string {
	return "Rebuilds global, monthly and weekly leaderboards from player totals"
}

// Run executes the job.
func (j *RebuildLeaderboardsJob) Run(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	res, err := j.svc.RebuildLeaderboards(ctx)
	if err != nil {
		return fmt.Errorf("rebuild leaderboards: %w", err)
	}
	total := 0
	for scope, n := range res.Entries {
		total += n
		j.logger.Info("leaderboard rebuilt", "scope", scope, "entries", n)
	}
	j.last.Store(&RunStats{StartedAt: started, Duration: time.Since(started), Affected: total})
	return nil
}

// LastRun returns the stats of the last run, nil before the first.
func (j *RebuildLeaderboardsJob) LastRun() *RunStats { return j.last.Load() }

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
