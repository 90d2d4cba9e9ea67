package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD COMMAND
// Rebuilds boards from stored player totals when no snapshot is available.
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardCommand selects the boards to rebuild.
type RebuildLeaderboardCommand struct {
	// Scopes to rebuild. Empty means global plus the current month and week.
	Scopes []leaderboard.Scope
}

// RebuildLeaderboardResult reports the entries placed per board.
type RebuildLeaderboardResult struct {
	Entries map[string]int `json:"entries"`
}

// RebuildLeaderboardHandler handles the RebuildLeaderboardCommand.
type RebuildLeaderboardHandler struct {
	players player.Repository
	boards  *leaderboard.Maintainer
	logger  *slog.Logger
}

// NewRebuildLeaderboardHandler creates a new RebuildLeaderboardHandler.
func NewRebuildLeaderboardHandler(players player.Repository, boards *leaderboard.Maintainer, logger *slog.Logger) *RebuildLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildLeaderboardHandler{
		players: players,
		boards:  boards,
		logger:  logger.With("handler", "rebuild_leaderboard"),
	}
}

// Handle executes the command. A rolling board keeps the players whose last
// activity falls inside its period; their score is the total XP, as on every board.
func (h *RebuildLeaderboardHandler) Handle(ctx context.Context, cmd RebuildLeaderboardCommand) (*RebuildLeaderboardResult, error) {
	cal := h.boards.Calendar()
	scopes := cmd.Scopes
	if len(scopes) == 0 {
		scopes = leaderboard.ScopesAt(cal, cal.Now())
	}

	result := &RebuildLeaderboardResult{Entries: make(map[string]int, len(scopes))}
	for _, s := range scopes {
		var since, until time.Time
		if s.IsRolling() {
			since = s.PeriodStart(cal.Location())
			until, _ = s.PeriodEnd(cal.Location())
		}

		standings, err := h.players.TopByXP(ctx, since, h.boards.Size())
		if err != nil {
			return result, shared.PersistenceError("leaderboard", "Rebuild", err)
		}

		entries := make([]leaderboard.Entry, 0, len(standings))
		for _, st := range standings {
			if !until.IsZero() && !st.UpdatedAt.Before(until) {
				continue
			}
			entries = append(entries, leaderboard.Entry{
				PlayerID:    st.PlayerID,
				DisplayName: st.DisplayName,
				Score:       st.TotalXP,
				LastUpdated: st.UpdatedAt,
			})
		}
		h.boards.Replace(s, entries)
		result.Entries[s.Label()] = len(entries)

		h.logger.Info("leaderboard rebuilt", "scope", s.Label(), "entries", len(entries))
	}
	return result, nil
}
