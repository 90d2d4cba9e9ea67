package player

import (
	"context"
	"time"

	"github.com/battle64/points-engine/internal/domain/activity"
)

// Standing - краткая запись для восстановления лидерборда.
type Standing struct {
	PlayerID    string
	DisplayName string
	TotalXP     int64
	UpdatedAt   time.Time
}

// Repository определяет хранилище аккаунтов и журнала активностей.
// Реализации возвращают копии: изменения вызывающего не видны до Commit.
type Repository interface {
	// Get возвращает аккаунт или shared.ErrPlayerNotFound.
	Get(ctx context.Context, id string) (*Account, error)

	// CommitAward атомарно сохраняет аккаунт и добавляет запись в журнал.
	// Если версия в хранилище не совпадает с acct.Version, возвращает
	// shared.ErrStaleAccount. При успехе acct.Version увеличивается.
	CommitAward(ctx context.Context, acct *Account, rec *activity.Record) error

	// Save сохраняет аккаунт без записи в журнал (например, после выдачи титула).
	Save(ctx context.Context, acct *Account) error

	// ListIDs возвращает до limit идентификаторов после after в лексическом порядке.
	ListIDs(ctx context.Context, after string, limit int) ([]string, error)

	// TopByXP возвращает до limit игроков с наибольшим XP,
	// активных не раньше since (нулевое время - без ограничения).
	TopByXP(ctx context.Context, since time.Time, limit int) ([]Standing, error)
}
