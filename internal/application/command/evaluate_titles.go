package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/battle64/points-engine/internal/domain/achievement"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE TITLES COMMAND
// Re-checks titles that can unlock with the passage of time alone (veteran).
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateTitlesCommand selects the players to re-check.
type EvaluateTitlesCommand struct {
	// PlayerID limits the run to one player. Empty means everyone.
	PlayerID string

	// BatchSize is the page size when walking all players.
	BatchSize int
}

// EvaluateTitlesResult summarizes one run.
type EvaluateTitlesResult struct {
	Scanned  int           `json:"scanned"`
	Unlocked int           `json:"unlocked"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// EvaluateTitlesHandler handles the EvaluateTitlesCommand.
type EvaluateTitlesHandler struct {
	players   player.Repository
	titles    *achievement.TitleEngine
	locks     *PlayerLocks
	publisher shared.EventPublisher
	cal       *timeutil.Calendar
	logger    *slog.Logger
}

// NewEvaluateTitlesHandler creates a new EvaluateTitlesHandler. locks must be
// the same table the award handler uses.
func NewEvaluateTitlesHandler(
	players player.Repository,
	titles *achievement.TitleEngine,
	locks *PlayerLocks,
	publisher shared.EventPublisher,
	cal *timeutil.Calendar,
	logger *slog.Logger,
) *EvaluateTitlesHandler {
	if titles == nil {
		titles = achievement.NewTitleEngine()
	}
	if cal == nil {
		cal = timeutil.NewCalendar(time.UTC)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluateTitlesHandler{
		players:   players,
		titles:    titles,
		locks:     locks,
		publisher: publisher,
		cal:       cal,
		logger:    logger.With("handler", "evaluate_titles"),
	}
}

// Handle executes the command. A failing player is logged and skipped.
func (h *EvaluateTitlesHandler) Handle(ctx context.Context, cmd EvaluateTitlesCommand) (*EvaluateTitlesResult, error) {
	start := time.Now()
	result := &EvaluateTitlesResult{}

	if cmd.PlayerID != "" {
		n, err := h.evaluate(ctx, cmd.PlayerID)
		if err != nil {
			return nil, err
		}
		result.Scanned, result.Unlocked = 1, n
		result.Duration = time.Since(start)
		return result, nil
	}

	batch := cmd.BatchSize
	if batch <= 0 {
		batch = 200
	}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		ids, err := h.players.ListIDs(ctx, after, batch)
		if err != nil {
			return result, shared.PersistenceError("titles", "ListIDs", err)
		}
		for _, id := range ids {
			n, err := h.evaluate(ctx, id)
			result.Scanned++
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return result, err
				}
				result.Failed++
				h.logger.Warn("title evaluation failed", "player_id", id, "error", err)
				continue
			}
			result.Unlocked += n
		}
		if len(ids) < batch {
			break
		}
		after = ids[len(ids)-1]
	}

	result.Duration = time.Since(start)
	h.logger.Info("title evaluation finished",
		"scanned", result.Scanned,
		"unlocked", result.Unlocked,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

func (h *EvaluateTitlesHandler) evaluate(ctx context.Context, playerID string) (int, error) {
	unlock, err := h.locks.Lock(ctx, playerID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	stored, err := h.players.Get(ctx, playerID)
	if err != nil {
		return 0, err
	}
	acct := stored.Clone()

	now := h.cal.Now()
	earned := h.titles.Evaluate(acct.HasTitle, achievement.TitleInput{
		Tally:    acct.Tally,
		Now:      now,
		Location: h.cal.Location(),
	})
	if len(earned) == 0 {
		return 0, nil
	}
	for _, t := range earned {
		acct.GrantTitle(t.ID, now)
	}
	acct.UpdatedAt = now
	if err := h.players.Save(ctx, acct); err != nil {
		return 0, shared.PersistenceError("titles", "Save", err)
	}

	if h.publisher != nil {
		for _, t := range earned {
			if err := h.publisher.Publish(shared.NewTitleUnlockedEvent(acct.ID, t.ID, now)); err != nil {
				h.logger.Warn("failed to publish title event", "player_id", acct.ID, "title_id", t.ID, "error", err)
			}
		}
	}
	return len(earned), nil
}
