package leaderboard

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT STORE INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotStore определяет контракт хранилища снапшотов досок.
// Реализации находятся в infrastructure слое (PostgreSQL, Redis, память).
type SnapshotStore interface {
	// Save сохраняет снапшот, заменяя предыдущий для той же доски.
	Save(ctx context.Context, snapshot *Snapshot) error

	// Load возвращает снапшот доски или shared.ErrSnapshotNotFound.
	Load(ctx context.Context, scope string) (*Snapshot, error)

	// Scopes возвращает метки всех сохранённых досок.
	Scopes(ctx context.Context) ([]string, error)

	// Delete удаляет снапшот доски. Отсутствие снапшота не ошибка.
	Delete(ctx context.Context, scope string) error
}
