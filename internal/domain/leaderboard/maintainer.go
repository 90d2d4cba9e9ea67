package leaderboard

import (
	"sort"
	"sync"
	"time"

	"github.com/battle64/points-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAINTAINER
// ══════════════════════════════════════════════════════════════════════════════

// Maintainer владеет всеми досками. Карта досок защищена своим RWMutex,
// каждая доска - своим, так что начисления в разные доски не блокируют друг друга.
type Maintainer struct {
	mu     sync.RWMutex
	boards map[string]*Board
	size   int
	cal    *timeutil.Calendar
}

// NewMaintainer создаёт пустой набор досок на size записей каждая.
func NewMaintainer(size int, cal *timeutil.Calendar) *Maintainer {
	if size <= 0 {
		size = DefaultSize
	}
	if cal == nil {
		cal = timeutil.NewCalendar(time.UTC)
	}
	return &Maintainer{boards: make(map[string]*Board), size: size, cal: cal}
}

// Size возвращает вместимость досок.
func (m *Maintainer) Size() int {
	return m.size
}

// Calendar возвращает календарь, по которому режутся периоды.
func (m *Maintainer) Calendar() *timeutil.Calendar {
	return m.cal
}

// board возвращает доску, создавая её при первом обращении.
func (m *Maintainer) board(s Scope) *Board {
	label := s.Label()

	m.mu.RLock()
	b, ok := m.boards[label]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.boards[label]; ok {
		return b
	}
	b = NewBoard(s, m.size)
	m.boards[label] = b
	return b
}

// Board возвращает существующую доску без создания.
func (m *Maintainer) Board(s Scope) (*Board, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[s.Label()]
	return b, ok
}

// Record ставит счёт игрока на все доски, которые затрагивает момент at.
func (m *Maintainer) Record(playerID, displayName string, score int64, at time.Time) []Placement {
	scopes := ScopesAt(m.cal, at)
	out := make([]Placement, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, m.board(s).Upsert(playerID, displayName, score, at))
	}
	return out
}

// Top возвращает до limit записей доски. Для несуществующей доски - пустой список.
func (m *Maintainer) Top(s Scope, limit int) []RankedEntry {
	b, ok := m.Board(s)
	if !ok {
		return []RankedEntry{}
	}
	return b.Top(limit)
}

// Scopes возвращает все доски в памяти: глобальная первой, остальные по метке.
func (m *Maintainer) Scopes() []Scope {
	m.mu.RLock()
	out := make([]Scope, 0, len(m.boards))
	for _, b := range m.boards {
		out = append(out, b.scope)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if (out[i].Kind == KindGlobal) != (out[j].Kind == KindGlobal) {
			return out[i].Kind == KindGlobal
		}
		return out[i].Label() < out[j].Label()
	})
	return out
}

// DirtySnapshots снимает снапшоты досок, изменившихся после последнего сохранения.
func (m *Maintainer) DirtySnapshots(at time.Time) []*Snapshot {
	var out []*Snapshot
	for _, s := range m.Scopes() {
		if b, ok := m.Board(s); ok && b.IsDirty() {
			out = append(out, b.Snapshot(at))
		}
	}
	return out
}

// MarkFlushed отмечает снапшот доски как сохранённый.
func (m *Maintainer) MarkFlushed(snap *Snapshot) {
	s, err := ParseScope(snap.Scope)
	if err != nil {
		return
	}
	if b, ok := m.Board(s); ok {
		b.MarkFlushed(snap.Revision)
	}
}

// Restore загружает снапшот в доску, создавая её при необходимости.
func (m *Maintainer) Restore(snap *Snapshot) error {
	s, err := ParseScope(snap.Scope)
	if err != nil {
		return err
	}
	m.board(s).restore(snap)
	return nil
}

// Replace перестраивает доску из готовых записей (например, из итогов игроков).
func (m *Maintainer) Replace(s Scope, entries []Entry) {
	m.board(s).Replace(entries)
}

// Drop удаляет доску из памяти.
func (m *Maintainer) Drop(s Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, s.Label())
}

// Expired возвращает скользящие доски, период которых закончился раньше,
// чем now - retention.
func (m *Maintainer) Expired(now time.Time, retention time.Duration) []Scope {
	var out []Scope
	for _, s := range m.Scopes() {
		if IsExpired(s, m.cal.Location(), now, retention) {
			out = append(out, s)
		}
	}
	return out
}

// IsExpired проверяет, вышла ли доска за окно хранения.
func IsExpired(s Scope, loc *time.Location, now time.Time, retention time.Duration) bool {
	end, ok := s.PeriodEnd(loc)
	if !ok {
		return false
	}
	return end.Add(retention).Before(now)
}
