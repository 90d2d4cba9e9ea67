// Package player содержит аккаунт игрока в системе очков: суммарный XP,
// медали, титулы, серии по типам активности и дневной лимит начислений.
// Аккаунт создаётся лениво при первом начислении и принадлежит только движку.
package player

import (
	"sort"
	"time"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/pkg/timeutil"
)

// SubmissionRetention - сколько хранятся отпечатки обработанных заявок.
const SubmissionRetention = 30 * 24 * time.Hour

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT
// ══════════════════════════════════════════════════════════════════════════════

// Account - очковый аккаунт игрока.
type Account struct {
	// ID - идентификатор игрока из внешней системы.
	ID string `json:"id"`

	// DisplayName - отображаемое имя для лидербордов (необязательно).
	DisplayName string `json:"display_name,omitempty"`

	// TotalXP - суммарный XP. Только растёт.
	TotalXP int64 `json:"total_xp"`

	// CurrentRank - название текущего ранга.
	CurrentRank string `json:"current_rank"`

	// Medals - полученные медали и время получения.
	Medals map[string]time.Time `json:"medals"`

	// Titles - полученные титулы и время получения.
	Titles map[string]time.Time `json:"titles"`

	// Streaks - серии по типам активности.
	Streaks map[activity.Type]Streak `json:"streaks"`

	// DailyXP - дневной аккумулятор начислений.
	DailyXP DailyXP `json:"daily_xp"`

	// Tally - сводка по истории активностей.
	Tally activity.Tally `json:"tally"`

	// Submissions - отпечатки обработанных заявок.
	Submissions map[string]time.Time `json:"submissions,omitempty"`

	// LastActivity - время последней активности.
	LastActivity time.Time `json:"last_activity"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version - версия для оптимистической блокировки в хранилище.
	// 0 означает, что аккаунт ещё не сохранён.
	Version int64 `json:"version"`
}

// NewAccount создаёт пустой аккаунт для игрока id.
func NewAccount(id string, at time.Time) (*Account, error) {
	pid, err := shared.NewPlayerID(id)
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:          pid.String(),
		Medals:      make(map[string]time.Time),
		Titles:      make(map[string]time.Time),
		Streaks:     make(map[activity.Type]Streak),
		DailyXP:     make(DailyXP),
		Tally:       activity.NewTally(),
		Submissions: make(map[string]time.Time),
		CreatedAt:   at,
		UpdatedAt:   at,
	}, nil
}

// Clone возвращает глубокую копию аккаунта. Все изменения в рамках начисления
// делаются на копии, поэтому неудачная запись просто отбрасывает её.
func (a *Account) Clone() *Account {
	out := *a
	out.Medals = cloneTimes(a.Medals)
	out.Titles = cloneTimes(a.Titles)
	out.Submissions = cloneTimes(a.Submissions)
	out.Streaks = make(map[activity.Type]Streak, len(a.Streaks))
	for k, v := range a.Streaks {
		out.Streaks[k] = v
	}
	out.DailyXP = make(DailyXP, len(a.DailyXP))
	for k, v := range a.DailyXP {
		out.DailyXP[k] = v
	}
	out.Tally = a.Tally.Clone()
	return &out
}

func cloneTimes(m map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// XP и история
// ─────────────────────────────────────────────────────────────────────────────

// AddXP увеличивает суммарный XP. Отрицательные суммы игнорируются.
func (a *Account) AddXP(amount int64) {
	if amount > 0 {
		a.TotalXP += amount
	}
}

// Append учитывает запись журнала: XP записи, сводку истории и время активности.
// today - текущий день по часам движка, относительно него чистится дневной аккумулятор.
func (a *Account) Append(rec *activity.Record, today timeutil.Date) {
	a.AddXP(rec.XPEarned)
	a.Tally.Apply(rec)
	if rec.OccurredAt.After(a.LastActivity) {
		a.LastActivity = rec.OccurredAt
	}
	a.DailyXP.prune(today)
	a.UpdatedAt = rec.OccurredAt
}

// ─────────────────────────────────────────────────────────────────────────────
// Медали и титулы
// ─────────────────────────────────────────────────────────────────────────────

// HasMedal проверяет наличие медали.
func (a *Account) HasMedal(id string) bool {
	_, ok := a.Medals[id]
	return ok
}

// GrantMedal выдаёт медаль. Возвращает false, если медаль уже была.
func (a *Account) GrantMedal(id string, at time.Time) bool {
	if a.HasMedal(id) {
		return false
	}
	if a.Medals == nil {
		a.Medals = make(map[string]time.Time)
	}
	a.Medals[id] = at
	return true
}

// HasTitle проверяет наличие титула.
func (a *Account) HasTitle(id string) bool {
	_, ok := a.Titles[id]
	return ok
}

// GrantTitle выдаёт титул. Возвращает false, если титул уже был.
func (a *Account) GrantTitle(id string, at time.Time) bool {
	if a.HasTitle(id) {
		return false
	}
	if a.Titles == nil {
		a.Titles = make(map[string]time.Time)
	}
	a.Titles[id] = at
	return true
}

// MedalIDs возвращает медали в порядке получения.
func (a *Account) MedalIDs() []string {
	return idsByTime(a.Medals)
}

// TitleIDs возвращает титулы в порядке получения.
func (a *Account) TitleIDs() []string {
	return idsByTime(a.Titles)
}

func idsByTime(m map[string]time.Time) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := m[ids[i]], m[ids[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// ─────────────────────────────────────────────────────────────────────────────
// Серии
// ─────────────────────────────────────────────────────────────────────────────

// Streak возвращает серию по типу активности.
func (a *Account) Streak(t activity.Type) Streak {
	return a.Streaks[t]
}

// RecordStreak обновляет серию по типу t на дату day.
func (a *Account) RecordStreak(t activity.Type, day timeutil.Date) StreakChange {
	if a.Streaks == nil {
		a.Streaks = make(map[activity.Type]Streak)
	}
	s := a.Streaks[t]
	change := s.Record(day)
	change.Type = t
	a.Streaks[t] = s
	return change
}

// ─────────────────────────────────────────────────────────────────────────────
// Идемпотентность заявок
// ─────────────────────────────────────────────────────────────────────────────

// HasSubmission проверяет, обрабатывалась ли заявка с отпечатком fp.
func (a *Account) HasSubmission(fp string) bool {
	_, ok := a.Submissions[fp]
	return ok
}

// RememberSubmission запоминает отпечаток и забывает устаревшие.
func (a *Account) RememberSubmission(fp string, at time.Time) {
	if a.Submissions == nil {
		a.Submissions = make(map[string]time.Time)
	}
	for k, seen := range a.Submissions {
		if at.Sub(seen) > SubmissionRetention {
			delete(a.Submissions, k)
		}
	}
	a.Submissions[fp] = at
}

// IsNew проверяет, что аккаунт ещё ни разу не сохранялся.
func (a *Account) IsNew() bool {
	return a.Version == 0
}
