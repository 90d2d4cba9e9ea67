// Package eventhandler содержит обработчики доменных событий движка очков.
// Обработчики подписываются на шину событий и выполняют побочные эффекты:
// логирование вех прогресса и ведение ленты последних достижений.
package eventhandler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/battle64/points-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// MILESTONE FEED
// Лента вех: медали, титулы, смена ранга и вход в лидерборд.
// События PointsAwarded в ленту не попадают, их слишком много.
// ═══════════════════════════════════════════════════════════════════════════

// DefaultFeedCapacity - размер ленты по умолчанию.
const DefaultFeedCapacity = 200

// Milestone - одна запись ленты.
type Milestone struct {
	Type       shared.EventType `json:"type"`
	PlayerID   string           `json:"player_id"`
	Summary    string           `json:"summary"`
	OccurredAt time.Time        `json:"occurred_at"`

	// CorrelationID связывает веху с запросом начисления.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// MilestoneFeed хранит последние вехи в кольцевом буфере.
// Безопасен для конкурентного использования: шина может вызывать Handle
// из нескольких воркеров.
type MilestoneFeed struct {
	mu     sync.RWMutex
	items  []Milestone
	next   int
	full   bool
	counts map[shared.EventType]int64
	logger *slog.Logger
}

// NewMilestoneFeed создаёт ленту заданной ёмкости.
func NewMilestoneFeed(capacity int, logger *slog.Logger) *MilestoneFeed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MilestoneFeed{
		items:  make([]Milestone, capacity),
		counts: make(map[shared.EventType]int64),
		logger: logger.With("handler", "milestone_feed"),
	}
}

// Handle реализует shared.EventHandler. Работает и с типизированными
// событиями, и с событиями, пришедшими от других инстансов: данные
// берутся из Payload.
func (f *MilestoneFeed) Handle(event shared.Event) error {
	summary, ok := summarize(event.EventType(), event.Payload())
	if !ok {
		return nil
	}

	m := Milestone{
		Type:       event.EventType(),
		PlayerID:   event.AggregateID(),
		Summary:    summary,
		OccurredAt: event.OccurredAt(),
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		m.CorrelationID = c.Correlation()
	}

	f.mu.Lock()
	f.items[f.next] = m
	f.next = (f.next + 1) % len(f.items)
	if f.next == 0 {
		f.full = true
	}
	f.counts[m.Type]++
	f.mu.Unlock()

	f.logger.Info("milestone",
		"type", string(m.Type),
		"player_id", m.PlayerID,
		"summary", m.Summary,
		"correlation_id", m.CorrelationID,
	)
	return nil
}

// Recent возвращает до limit последних вех, новые первыми.
// limit <= 0 возвращает всю ленту.
func (f *MilestoneFeed) Recent(limit int) []Milestone {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.next
	if f.full {
		n = len(f.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Milestone, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (f.next - i + len(f.items)) % len(f.items)
		out = append(out, f.items[idx])
	}
	return out
}

// Counts возвращает число обработанных вех по типам.
func (f *MilestoneFeed) Counts() map[shared.EventType]int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[shared.EventType]int64, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out
}

// summarize строит текст вехи. Числа из удалённых событий приходят как
// float64, поэтому они форматируются через %v.
func summarize(t shared.EventType, p map[string]interface{}) (string, bool) {
	switch t {
	case shared.EventMedalUnlocked:
		return fmt.Sprintf("unlocked medal %v (+%v XP)", p["medal_id"], p["bonus_xp"]), true
	case shared.EventTitleUnlocked:
		return fmt.Sprintf("earned title %v", p["title_id"]), true
	case shared.EventRankTierChanged:
		return fmt.Sprintf("promoted from %v to %v", p["old_tier"], p["new_tier"]), true
	case shared.EventEnteredLeaderboard:
		return fmt.Sprintf("entered %v leaderboard at #%v", p["scope"], p["position"]), true
	default:
		return "", false
	}
}
