// Package points is the entry point of the scoring engine. Service wires the
// command and query handlers over injected stores and owns the lifecycle of
// the in-memory leaderboards (restore, flush, prune).
package points

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/battle64/points-engine/internal/application/command"
	"github.com/battle64/points-engine/internal/application/query"
	"github.com/battle64/points-engine/internal/domain/achievement"
	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/rank"
	"github.com/battle64/points-engine/internal/domain/scoring"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/pkg/retry"
	"github.com/battle64/points-engine/pkg/timeutil"
)

// snapshotConcurrency bounds parallel snapshot store calls.
const snapshotConcurrency = 4

// Deps are the stores and sinks the service runs on.
type Deps struct {
	Players   player.Repository
	Ledger    activity.Ledger
	Snapshots leaderboard.SnapshotStore
	Publisher shared.EventPublisher
	Logger    *slog.Logger
}

// Options tune the service. Zero values fall back to defaults.
type Options struct {
	Settings            shared.EngineSettings
	Calendar            *timeutil.Calendar
	RecentActivityLimit int
	// BoardRetention is how long a rolling board outlives its period.
	BoardRetention time.Duration

	Calculator *scoring.Calculator
	Medals     *achievement.MedalEngine
	Titles     *achievement.TitleEngine
	Ladder     *rank.Ladder
	NewID      func() string
}

// Service exposes award, getLeaderboard and getPlayerStats plus the
// maintenance operations the scheduler drives.
type Service struct {
	award   *command.AwardPointsHandler
	titles  *command.EvaluateTitlesHandler
	rebuild *command.RebuildLeaderboardHandler
	board   *query.GetLeaderboardHandler
	stats   *query.GetPlayerStatsHandler

	boards    *leaderboard.Maintainer
	snapshots leaderboard.SnapshotStore
	settings  shared.EngineSettings
	retention time.Duration
	recent    int
	flushRetr retry.Policy
	flushMu   sync.Mutex
	logger    *slog.Logger
}

// New builds the service. Players is required; Ledger defaults to Players when
// it implements activity.Ledger.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Players == nil {
		return nil, errors.New("points: player repository is required")
	}
	if deps.Ledger == nil {
		l, ok := deps.Players.(activity.Ledger)
		if !ok {
			return nil, errors.New("points: activity ledger is required")
		}
		deps.Ledger = l
	}
	if opts.Settings == (shared.EngineSettings{}) {
		opts.Settings = shared.DefaultEngineSettings()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Calendar == nil {
		opts.Calendar = timeutil.NewCalendar(time.UTC)
	}
	if opts.RecentActivityLimit <= 0 {
		opts.RecentActivityLimit = query.DefaultRecentActivities
	}
	if opts.Calculator == nil {
		opts.Calculator = scoring.MustCalculator(nil)
	}
	if opts.Medals == nil {
		opts.Medals = achievement.NewMedalEngine()
	}
	if opts.Titles == nil {
		opts.Titles = achievement.NewTitleEngine()
	}
	if opts.Ladder == nil {
		opts.Ladder = rank.DefaultLadder()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	boards := leaderboard.NewMaintainer(opts.Settings.LeaderboardSize, opts.Calendar)
	locks := command.NewPlayerLocks()

	s := &Service{
		boards:    boards,
		snapshots: deps.Snapshots,
		settings:  opts.Settings,
		retention: opts.BoardRetention,
		recent:    opts.RecentActivityLimit,
		flushRetr: retry.Snapshot(),
		logger:    logger.With("component", "points"),
	}

	s.award = command.NewAwardPointsHandler(command.AwardPointsDeps{
		Players:    deps.Players,
		Calculator: opts.Calculator,
		Medals:     opts.Medals,
		Titles:     opts.Titles,
		Ladder:     opts.Ladder,
		Boards:     boards,
		Locks:      locks,
		Publisher:  deps.Publisher,
		Logger:     logger,
	}, command.AwardPointsHandlerConfig{
		Settings: opts.Settings,
		Calendar: opts.Calendar,
		NewID:    opts.NewID,
	})
	s.titles = command.NewEvaluateTitlesHandler(deps.Players, opts.Titles, locks, deps.Publisher, opts.Calendar, logger)
	s.rebuild = command.NewRebuildLeaderboardHandler(deps.Players, boards, logger)
	s.board = query.NewGetLeaderboardHandler(boards)
	s.stats = query.NewGetPlayerStatsHandler(query.GetPlayerStatsDeps{
		Players:  deps.Players,
		Ledger:   deps.Ledger,
		Ladder:   opts.Ladder,
		Medals:   opts.Medals,
		Titles:   opts.Titles,
		Boards:   boards,
		Calendar: opts.Calendar,
		DailyCap: opts.Settings.DailyXPCap,
	})
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// Public operations
// ══════════════════════════════════════════════════════════════════════════════

// Award credits one validated activity. On error the result carries zero
// effect and a Failure.
func (s *Service) Award(ctx context.Context, playerID, activityType string, c activity.Context) (*command.PointsResult, error) {
	return s.award.Handle(ctx, command.AwardPointsCommand{
		PlayerID:     playerID,
		ActivityType: activityType,
		Context:      c,
	})
}

// AwardActivity is Award with the optional fields (display name, time,
// submission id, correlation id).
func (s *Service) AwardActivity(ctx context.Context, cmd command.AwardPointsCommand) (*command.PointsResult, error) {
	return s.award.Handle(ctx, cmd)
}

// GetLeaderboard returns up to limit entries of a board.
func (s *Service) GetLeaderboard(ctx context.Context, scope string, limit int) (*query.GetLeaderboardResult, error) {
	return s.board.Handle(ctx, query.GetLeaderboardQuery{Scope: scope, Limit: limit})
}

// GetPlayerStats returns the player's progression summary.
func (s *Service) GetPlayerStats(ctx context.Context, playerID string) (*query.PlayerStats, error) {
	return s.stats.Handle(ctx, query.GetPlayerStatsQuery{PlayerID: playerID, RecentLimit: s.recent})
}

// EvaluateTitles re-checks every player's titles.
func (s *Service) EvaluateTitles(ctx context.Context) (*command.EvaluateTitlesResult, error) {
	return s.titles.Handle(ctx, command.EvaluateTitlesCommand{})
}

// RebuildLeaderboards recomputes the current boards from player totals.
func (s *Service) RebuildLeaderboards(ctx context.Context) (*command.RebuildLeaderboardResult, error) {
	return s.rebuild.Handle(ctx, command.RebuildLeaderboardCommand{})
}

// Settings returns the settings the engine runs with.
func (s *Service) Settings() shared.EngineSettings {
	return s.settings
}

// Boards exposes the leaderboards for health checks and tests.
func (s *Service) Boards() *leaderboard.Maintainer {
	return s.boards
}

// ══════════════════════════════════════════════════════════════════════════════
// Leaderboard lifecycle
// ══════════════════════════════════════════════════════════════════════════════

// RestoreLeaderboards loads every stored snapshot. When the global board has
// no snapshot the current boards are rebuilt from player totals.
func (s *Service) RestoreLeaderboards(ctx context.Context) error {
	globalRestored := false
	if s.snapshots != nil {
		labels, err := s.snapshots.Scopes(ctx)
		if err != nil {
			return shared.PersistenceError("leaderboard", "Restore", err)
		}

		snaps := make([]*leaderboard.Snapshot, len(labels))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(snapshotConcurrency)
		for i, label := range labels {
			g.Go(func() error {
				snap, err := s.snapshots.Load(gctx, label)
				if err != nil {
					if shared.IsNotFound(err) {
						return nil
					}
					return err
				}
				snaps[i] = snap
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return shared.PersistenceError("leaderboard", "Restore", err)
		}

		now := s.boards.Calendar().Now()
		for _, snap := range snaps {
			if snap == nil {
				continue
			}
			scope, err := leaderboard.ParseScope(snap.Scope)
			if err != nil {
				s.logger.Warn("skipping snapshot with unknown scope", "scope", snap.Scope)
				continue
			}
			if s.retention > 0 && leaderboard.IsExpired(scope, s.boards.Calendar().Location(), now, s.retention) {
				continue
			}
			if err := s.boards.Restore(snap); err != nil {
				return err
			}
			if !scope.IsRolling() {
				globalRestored = true
			}
		}
		s.logger.Info("leaderboards restored", "snapshots", len(labels))
	}

	if !globalRestored {
		if _, err := s.rebuild.Handle(ctx, command.RebuildLeaderboardCommand{}); err != nil {
			return err
		}
	}
	return nil
}

// FlushLeaderboards saves every board changed since its last save and returns
// how many were written. Boards that fail stay dirty for the next run.
func (s *Service) FlushLeaderboards(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	snaps := s.boards.DirtySnapshots(s.boards.Calendar().Now())
	if len(snaps) == 0 {
		return 0, nil
	}

	var (
		mu      sync.Mutex
		flushed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotConcurrency)
	for _, snap := range snaps {
		g.Go(func() error {
			err := s.flushRetr.Do(gctx, func(ctx context.Context) error {
				return s.snapshots.Save(ctx, snap)
			})
			if err != nil {
				return err
			}
			s.boards.MarkFlushed(snap)
			mu.Lock()
			flushed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return flushed, shared.PersistenceError("leaderboard", "Flush", err)
	}
	return flushed, nil
}

// PruneLeaderboards drops rolling boards whose period ended more than the
// retention ago, from memory and from the snapshot store.
func (s *Service) PruneLeaderboards(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cal := s.boards.Calendar()
	now := cal.Now()

	expired := make(map[string]leaderboard.Scope)
	for _, sc := range s.boards.Expired(now, s.retention) {
		expired[sc.Label()] = sc
	}
	if s.snapshots != nil {
		labels, err := s.snapshots.Scopes(ctx)
		if err != nil {
			return 0, shared.PersistenceError("leaderboard", "Prune", err)
		}
		for _, label := range labels {
			sc, err := leaderboard.ParseScope(label)
			if err != nil {
				continue
			}
			if leaderboard.IsExpired(sc, cal.Location(), now, s.retention) {
				expired[label] = sc
			}
		}
	}

	pruned := 0
	for label, sc := range expired {
		if s.snapshots != nil {
			if err := s.snapshots.Delete(ctx, label); err != nil {
				return pruned, shared.PersistenceError("leaderboard", "Prune", err)
			}
		}
		s.boards.Drop(sc)
		pruned++
	}
	if pruned > 0 {
		s.logger.Info("leaderboards pruned", "count", pruned)
	}
	return pruned, nil
}
