// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"time"

	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/shared"
)

// DefaultLeaderboardLimit - сколько записей отдаётся без явного limit.
const DefaultLeaderboardLimit = 50

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Получает топ-N игроков доски. Доска определяется меткой или псевдонимом
// текущего периода ("monthly", "weekly").
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Scope - метка доски: "global", "monthly-2024-03", "weekly-2024-W12",
	// или "monthly"/"weekly" для текущего периода. Пусто = global.
	Scope string

	// Limit - количество записей (по умолчанию 50, максимум - размер доски).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return shared.ValidationError("leaderboard", "Get", "limit cannot be negative")
	}
	return nil
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	// Scope - каноническая метка доски.
	Scope string `json:"scope"`

	// Entries - записи с местами, начиная с 1.
	Entries []leaderboard.RankedEntry `json:"entries"`

	// TotalCount - сколько записей на доске всего.
	TotalCount int `json:"total_count"`

	// Limit - применённый лимит.
	Limit int `json:"limit"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	boards *leaderboard.Maintainer
}

// NewGetLeaderboardHandler создаёт новый обработчик запроса лидерборда.
func NewGetLeaderboardHandler(boards *leaderboard.Maintainer) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{boards: boards}
}

// Handle выполняет запрос. Несуществующая доска отдаётся пустой.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	raw := q.Scope
	if raw == "" {
		raw = string(leaderboard.KindGlobal)
	}
	scope, err := leaderboard.ResolveScope(raw, h.boards.Calendar())
	if err != nil {
		return nil, err
	}

	limit := shared.Limit(q.Limit).Clamp(DefaultLeaderboardLimit, h.boards.Size())
	entries := h.boards.Top(scope, limit)

	total := 0
	if b, ok := h.boards.Board(scope); ok {
		total = b.Len()
	}

	return &GetLeaderboardResult{
		Scope:       scope.Label(),
		Entries:     entries,
		TotalCount:  total,
		Limit:       limit,
		GeneratedAt: h.boards.Calendar().Now(),
	}, nil
}
