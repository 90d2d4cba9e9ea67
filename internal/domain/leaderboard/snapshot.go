package leaderboard

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - сохраняемое состояние одной доски.
// Используется для восстановления досок после рестарта.
type Snapshot struct {
	// Scope - метка доски.
	Scope string `json:"scope"`

	// Size - вместимость доски на момент снимка.
	Size int `json:"size"`

	// Revision - ревизия доски, с которой снят снапшот.
	Revision uint64 `json:"revision"`

	// TakenAt - время снимка.
	TakenAt time.Time `json:"taken_at"`

	// Entries - записи в порядке мест.
	Entries []Entry `json:"entries"`
}

// Snapshot снимает копию доски.
func (b *Board) Snapshot(at time.Time) *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return &Snapshot{
		Scope:    b.scope.Label(),
		Size:     b.size,
		Revision: b.rev,
		TakenAt:  at,
		Entries:  entries,
	}
}

// IsDirty возвращает true, если доска менялась после последнего сохранения.
func (b *Board) IsDirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rev != b.flushed
}

// MarkFlushed отмечает, что ревизия rev сохранена. Более старые ревизии
// не откатывают отметку.
func (b *Board) MarkFlushed(rev uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rev > b.flushed {
		b.flushed = rev
	}
}

// restore загружает снапшот в доску и считает его сохранённым.
func (b *Board) restore(s *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = normalize(s.Entries, b.size)
	b.rev = s.Revision
	b.flushed = s.Revision
}

// Count возвращает количество записей.
func (s *Snapshot) Count() int {
	return len(s.Entries)
}

// IsEmpty возвращает true, если снапшот пуст.
func (s *Snapshot) IsEmpty() bool {
	return len(s.Entries) == 0
}
