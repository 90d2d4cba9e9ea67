// Package leaderboard содержит доменную модель лидербордов Battle64.
// Есть один постоянный глобальный лидерборд и скользящие лидерборды по периодам
// (месяц, ISO-неделя), которые создаются лениво при первом обращении.
// Каждая доска хранит не больше N записей, по одной на игрока, отсортированных
// по очкам по убыванию.
package leaderboard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/pkg/timeutil"
)

// DefaultSize - размер доски по умолчанию.
const DefaultSize = 100

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE
// ══════════════════════════════════════════════════════════════════════════════

// Kind - вид лидерборда.
type Kind string

const (
	// KindGlobal - общий лидерборд за всё время.
	KindGlobal Kind = "global"
	// KindMonthly - лидерборд календарного месяца.
	KindMonthly Kind = "monthly"
	// KindWeekly - лидерборд ISO-недели.
	KindWeekly Kind = "weekly"
)

// Scope идентифицирует доску: вид плюс метка периода.
// Для глобальной доски Period пустой.
type Scope struct {
	Kind   Kind
	Period string
}

// GlobalScope возвращает глобальную доску.
func GlobalScope() Scope {
	return Scope{Kind: KindGlobal}
}

// MonthlyScope возвращает месячную доску, в которую попадает t.
func MonthlyScope(cal *timeutil.Calendar, t time.Time) Scope {
	return Scope{Kind: KindMonthly, Period: cal.MonthLabel(t)}
}

// WeeklyScope возвращает недельную доску, в которую попадает t.
func WeeklyScope(cal *timeutil.Calendar, t time.Time) Scope {
	return Scope{Kind: KindWeekly, Period: cal.ISOWeekLabel(t)}
}

// ScopesAt возвращает все доски, которые затрагивает начисление в момент t.
func ScopesAt(cal *timeutil.Calendar, t time.Time) []Scope {
	return []Scope{GlobalScope(), MonthlyScope(cal, t), WeeklyScope(cal, t)}
}

// Label возвращает строковую метку: "global", "monthly-2024-03", "weekly-2024-W12".
func (s Scope) Label() string {
	if s.Kind == KindGlobal {
		return string(KindGlobal)
	}
	return string(s.Kind) + "-" + s.Period
}

// String возвращает метку.
func (s Scope) String() string {
	return s.Label()
}

// IsRolling возвращает true для досок с периодом.
func (s Scope) IsRolling() bool {
	return s.Kind != KindGlobal
}

// PeriodStart возвращает начало периода в loc. Для глобальной доски - нулевое время.
func (s Scope) PeriodStart(loc *time.Location) time.Time {
	var (
		t   time.Time
		err error
	)
	switch s.Kind {
	case KindMonthly:
		t, err = timeutil.ParseMonthLabel(s.Period, loc)
	case KindWeekly:
		t, err = timeutil.ParseISOWeekLabel(s.Period, loc)
	}
	if err != nil {
		return time.Time{}
	}
	return t
}

// PeriodEnd возвращает момент окончания периода (исключительно).
// Для глобальной доски возвращает false.
func (s Scope) PeriodEnd(loc *time.Location) (time.Time, bool) {
	start := s.PeriodStart(loc)
	if start.IsZero() {
		return time.Time{}, false
	}
	if s.Kind == KindMonthly {
		return start.AddDate(0, 1, 0), true
	}
	return start.AddDate(0, 0, 7), true
}

// ParseScope разбирает метку доски. Принимаются только канонические метки.
func ParseScope(label string) (Scope, error) {
	label = strings.TrimSpace(label)
	if label == string(KindGlobal) {
		return GlobalScope(), nil
	}

	kind, period, ok := strings.Cut(label, "-")
	if !ok || period == "" {
		return Scope{}, invalidScope(label)
	}
	s := Scope{Kind: Kind(kind), Period: period}

	// Метку нормализуем через календарь UTC и сравниваем с исходной,
	// чтобы "weekly-2024-W1" не превратилась во второй ключ для той же недели.
	utc := timeutil.NewCalendar(time.UTC)
	switch s.Kind {
	case KindMonthly:
		start, err := timeutil.ParseMonthLabel(period, time.UTC)
		if err != nil || utc.MonthLabel(start) != period {
			return Scope{}, invalidScope(label)
		}
	case KindWeekly:
		start, err := timeutil.ParseISOWeekLabel(period, time.UTC)
		if err != nil || utc.ISOWeekLabel(start) != period {
			return Scope{}, invalidScope(label)
		}
	default:
		return Scope{}, invalidScope(label)
	}
	return s, nil
}

// ResolveScope разбирает метку, допуская псевдонимы "monthly" и "weekly"
// для текущего периода календаря.
func ResolveScope(raw string, cal *timeutil.Calendar) (Scope, error) {
	switch Kind(strings.TrimSpace(raw)) {
	case KindMonthly:
		return MonthlyScope(cal, cal.Now()), nil
	case KindWeekly:
		return WeeklyScope(cal, cal.Now()), nil
	}
	return ParseScope(raw)
}

func invalidScope(label string) error {
	return shared.WrapError("leaderboard", "ParseScope", shared.ErrInvalidInput,
		fmt.Sprintf("unknown scope %q", label), shared.ErrInvalidScope)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry - запись игрока на доске. На одной доске у игрока ровно одна запись.
type Entry struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Score       int64     `json:"score"`
	LastUpdated time.Time `json:"last_updated"`
}

// RankedEntry - запись с местом (с 1).
type RankedEntry struct {
	Rank int `json:"rank"`
	Entry
}

// ranksAbove задаёт порядок на доске: больше очков - выше; при равенстве выше
// тот, кто обновился раньше; затем лексикографически по ID.
func ranksAbove(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.LastUpdated.Equal(b.LastUpdated) {
		return a.LastUpdated.Before(b.LastUpdated)
	}
	return a.PlayerID < b.PlayerID
}

// Placement - итог обновления одной доски для игрока.
type Placement struct {
	Scope string `json:"scope"`
	// Position - место после обновления, 0 если игрок не попал в топ-N.
	Position int `json:"position"`
	// Entered - игрок появился на доске этим обновлением.
	Entered bool `json:"entered"`
}

// OnBoard возвращает true, если игрок на доске.
func (p Placement) OnBoard() bool {
	return p.Position > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// BOARD
// ══════════════════════════════════════════════════════════════════════════════

// Board - одна доска. Все изменения идут под её собственным мьютексом,
// поэтому список всегда отсортирован и без дублей.
type Board struct {
	mu      sync.RWMutex
	scope   Scope
	size    int
	entries []Entry

	// rev растёт с каждым изменением, flushed - ревизия последнего сохранённого снапшота.
	rev     uint64
	flushed uint64
}

// NewBoard создаёт пустую доску на size записей.
func NewBoard(scope Scope, size int) *Board {
	if size <= 0 {
		size = DefaultSize
	}
	return &Board{scope: scope, size: size, entries: make([]Entry, 0, size)}
}

// Scope возвращает идентификатор доски.
func (b *Board) Scope() Scope {
	return b.scope
}

// Upsert ставит текущий счёт игрока на доску.
// Если счёт не изменился, запись остаётся на месте со старым LastUpdated.
func (b *Board) Upsert(playerID, displayName string, score int64, at time.Time) Placement {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := Placement{Scope: b.scope.Label()}

	idx := b.indexOf(playerID)
	if idx >= 0 {
		cur := &b.entries[idx]
		if cur.Score == score {
			if displayName != "" && cur.DisplayName != displayName {
				cur.DisplayName = displayName
				b.rev++
			}
			p.Position = idx + 1
			return p
		}
		if displayName == "" {
			displayName = cur.DisplayName
		}
		b.entries = append(b.entries[:idx], b.entries[idx+1:]...)
	}

	e := Entry{PlayerID: playerID, DisplayName: displayName, Score: score, LastUpdated: at}
	pos := sort.Search(len(b.entries), func(i int) bool { return ranksAbove(e, b.entries[i]) })
	if pos >= b.size {
		// не проходит в топ-N
		return p
	}

	b.entries = append(b.entries, Entry{})
	copy(b.entries[pos+1:], b.entries[pos:])
	b.entries[pos] = e
	if len(b.entries) > b.size {
		b.entries = b.entries[:b.size]
	}
	b.rev++

	p.Position = pos + 1
	p.Entered = idx < 0
	return p
}

func (b *Board) indexOf(playerID string) int {
	for i := range b.entries {
		if b.entries[i].PlayerID == playerID {
			return i
		}
	}
	return -1
}

// Top возвращает до limit записей с местами. limit <= 0 - вся доска.
func (b *Board) Top(limit int) []RankedEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]RankedEntry, n)
	for i := 0; i < n; i++ {
		out[i] = RankedEntry{Rank: i + 1, Entry: b.entries[i]}
	}
	return out
}

// Position возвращает место игрока или 0.
func (b *Board) Position(playerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.indexOf(playerID) + 1
}

// Len возвращает число записей.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Replace заменяет содержимое доски. Записи сортируются, дубли по игроку
// схлопываются (остаётся лучшая), лишние отрезаются.
func (b *Board) Replace(entries []Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = normalize(entries, b.size)
	b.rev++
}

func normalize(entries []Entry, size int) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return ranksAbove(sorted[i], sorted[j]) })

	out := make([]Entry, 0, size)
	seen := make(map[string]struct{}, len(sorted))
	for _, e := range sorted {
		if _, dup := seen[e.PlayerID]; dup || e.PlayerID == "" {
			continue
		}
		seen[e.PlayerID] = struct{}{}
		out = append(out, e)
		if len(out) == size {
			break
		}
	}
	return out
}
