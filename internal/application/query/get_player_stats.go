package query

import (
	"context"
	"time"

	"github.com/battle64/points-engine/internal/domain/achievement"
	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/rank"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/pkg/timeutil"
)

// DefaultRecentActivities - сколько последних активностей попадает в статистику.
const DefaultRecentActivities = 10

// ══════════════════════════════════════════════════════════════════════════════
// GET PLAYER STATS QUERY
// Сводка по игроку: XP, ранг с прогрессом, медали, титулы, серии и
// последние активности.
// ══════════════════════════════════════════════════════════════════════════════

// GetPlayerStatsQuery содержит параметры запроса.
type GetPlayerStatsQuery struct {
	PlayerID string

	// RecentLimit - количество последних активностей (по умолчанию 10, максимум 100).
	RecentLimit int
}

// Validate проверяет корректность параметров запроса.
func (q GetPlayerStatsQuery) Validate() error {
	_, err := shared.NewPlayerID(q.PlayerID)
	return err
}

// UnlockDTO - полученная медаль или титул.
type UnlockDTO struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	BonusXP    int64     `json:"bonus_xp,omitempty"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// StreakDTO - серия по типу активности.
type StreakDTO struct {
	Current  int    `json:"current"`
	Best     int    `json:"best"`
	LastDate string `json:"last_date"`
	// Alive - серию ещё можно продлить сегодня.
	Alive bool `json:"alive"`
}

// PlayerStats содержит результат запроса.
type PlayerStats struct {
	PlayerID         string               `json:"player_id"`
	DisplayName      string               `json:"display_name,omitempty"`
	TotalXP          int64                `json:"total_xp"`
	CurrentRank      string               `json:"current_rank"`
	RankProgress     float64              `json:"rank_progress"`
	NextRank         string               `json:"next_rank,omitempty"`
	XPToNextRank     int64                `json:"xp_to_next_rank"`
	Medals           []UnlockDTO          `json:"medals"`
	Titles           []UnlockDTO          `json:"titles"`
	Streaks          map[string]StreakDTO `json:"streaks"`
	RecentActivities []*activity.Record   `json:"recent_activities"`
	ActivityCount    int                  `json:"activity_count"`
	ActivityByType   map[string]int       `json:"activity_breakdown"`
	FirstActivity    *time.Time           `json:"first_activity,omitempty"`
	LastActivity     *time.Time           `json:"last_activity,omitempty"`
	DailyXPRemaining int64                `json:"daily_xp_remaining"`
	Positions        map[string]int       `json:"leaderboard_positions,omitempty"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// GetPlayerStatsDeps - зависимости обработчика.
type GetPlayerStatsDeps struct {
	Players  player.Repository
	Ledger   activity.Ledger
	Ladder   *rank.Ladder
	Medals   *achievement.MedalEngine
	Titles   *achievement.TitleEngine
	Boards   *leaderboard.Maintainer
	Calendar *timeutil.Calendar
	DailyCap int64
}

// GetPlayerStatsHandler обрабатывает запрос статистики игрока.
type GetPlayerStatsHandler struct {
	deps GetPlayerStatsDeps
	cap  player.DailyCap
}

// NewGetPlayerStatsHandler создаёт обработчик.
func NewGetPlayerStatsHandler(deps GetPlayerStatsDeps) *GetPlayerStatsHandler {
	if deps.Ladder == nil {
		deps.Ladder = rank.DefaultLadder()
	}
	if deps.Medals == nil {
		deps.Medals = achievement.NewMedalEngine()
	}
	if deps.Titles == nil {
		deps.Titles = achievement.NewTitleEngine()
	}
	if deps.Calendar == nil {
		deps.Calendar = timeutil.NewCalendar(time.UTC)
	}
	return &GetPlayerStatsHandler{deps: deps, cap: player.NewDailyCap(deps.DailyCap)}
}

// Handle выполняет запрос. Для неизвестного игрока возвращает shared.ErrPlayerNotFound.
func (h *GetPlayerStatsHandler) Handle(ctx context.Context, q GetPlayerStatsQuery) (*PlayerStats, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	acct, err := h.deps.Players.Get(ctx, q.PlayerID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, err
		}
		return nil, shared.PersistenceError("stats", "LoadAccount", err)
	}

	limit := shared.Limit(q.RecentLimit).Clamp(DefaultRecentActivities, 100)
	recent, err := h.deps.Ledger.Recent(ctx, acct.ID, limit)
	if err != nil {
		return nil, shared.PersistenceError("stats", "Recent", err)
	}
	if recent == nil {
		recent = []*activity.Record{}
	}

	pos := h.deps.Ladder.Resolve(acct.TotalXP)
	today := h.deps.Calendar.Today()

	stats := &PlayerStats{
		PlayerID:         acct.ID,
		DisplayName:      acct.DisplayName,
		TotalXP:          acct.TotalXP,
		CurrentRank:      pos.Tier.Name,
		RankProgress:     pos.Progress,
		XPToNextRank:     pos.XPToNext,
		Medals:           h.medals(acct),
		Titles:           h.titles(acct),
		Streaks:          make(map[string]StreakDTO, len(acct.Streaks)),
		RecentActivities: recent,
		ActivityCount:    acct.Tally.Records,
		ActivityByType:   make(map[string]int, len(acct.Tally.ByType)),
		DailyXPRemaining: h.cap.Remaining(acct, today),
		GeneratedAt:      h.deps.Calendar.Now(),
	}
	if pos.Next != nil {
		stats.NextRank = pos.Next.Name
	}
	for t, s := range acct.Streaks {
		stats.Streaks[string(t)] = StreakDTO{
			Current:  s.Current,
			Best:     s.Best,
			LastDate: s.LastDate.String(),
			Alive:    s.IsAlive(today),
		}
	}
	for t, n := range acct.Tally.ByType {
		stats.ActivityByType[string(t)] = n
	}
	if first := acct.Tally.FirstActivity; !first.IsZero() {
		stats.FirstActivity = &first
	}
	if last := acct.LastActivity; !last.IsZero() {
		stats.LastActivity = &last
	}
	if h.deps.Boards != nil {
		stats.Positions = h.positions(acct.ID)
	}
	return stats, nil
}

func (h *GetPlayerStatsHandler) medals(acct *player.Account) []UnlockDTO {
	out := make([]UnlockDTO, 0, len(acct.Medals))
	for _, id := range acct.MedalIDs() {
		dto := UnlockDTO{ID: id, Name: id, UnlockedAt: acct.Medals[id]}
		if m, ok := h.deps.Medals.Lookup(id); ok {
			dto.Name, dto.BonusXP = m.Name, m.BonusXP
		}
		out = append(out, dto)
	}
	return out
}

func (h *GetPlayerStatsHandler) titles(acct *player.Account) []UnlockDTO {
	out := make([]UnlockDTO, 0, len(acct.Titles))
	for _, id := range acct.TitleIDs() {
		dto := UnlockDTO{ID: id, Name: id, UnlockedAt: acct.Titles[id]}
		if t, ok := h.deps.Titles.Lookup(id); ok {
			dto.Name = t.Name
		}
		out = append(out, dto)
	}
	return out
}

// positions возвращает места игрока на текущих досках.
func (h *GetPlayerStatsHandler) positions(playerID string) map[string]int {
	out := make(map[string]int)
	for _, s := range leaderboard.ScopesAt(h.deps.Calendar, h.deps.Calendar.Now()) {
		if b, ok := h.deps.Boards.Board(s); ok {
			if p := b.Position(playerID); p > 0 {
				out[s.Label()] = p
			}
		}
	}
	return out
}
