package player

import (
	"github.com/battle64/points-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY CAP
// ══════════════════════════════════════════════════════════════════════════════

// DailyXPRetentionDays - сколько дней хранится дневной аккумулятор XP.
const DailyXPRetentionDays = 31

// DailyXP - начисленный XP по календарным дням (ключ YYYY-MM-DD).
type DailyXP map[string]int64

// Get возвращает XP, начисленный в день day.
func (d DailyXP) Get(day timeutil.Date) int64 {
	return d[day.String()]
}

// Tracked сообщает, хранится ли аккумулятор дня day, если сегодня today.
// Начисления за дни вне этого окна принимать нельзя: их лимит уже забыт.
func Tracked(day, today timeutil.Date) bool {
	return timeutil.DaysBetween(day, today) <= DailyXPRetentionDays
}

// prune удаляет записи, вышедшие из окна относительно today.
// today берётся из часов движка, а не из даты начисления.
func (d DailyXP) prune(today timeutil.Date) {
	for key := range d {
		day, err := timeutil.ParseDate(key)
		if err != nil || !Tracked(day, today) {
			delete(d, key)
		}
	}
}

// DailyCap ограничивает XP, начисляемый игроку за календарный день.
type DailyCap struct {
	// Limit - максимум XP в день. 0 означает, что начисления запрещены.
	Limit int64
}

// NewDailyCap создаёт ограничитель с лимитом limit.
func NewDailyCap(limit int64) DailyCap {
	if limit < 0 {
		limit = 0
	}
	return DailyCap{Limit: limit}
}

// Remaining возвращает остаток лимита игрока на день day.
func (c DailyCap) Remaining(a *Account, day timeutil.Date) int64 {
	rest := c.Limit - a.DailyXP.Get(day)
	if rest < 0 {
		return 0
	}
	return rest
}

// Apply зачисляет max(0, min(proposed, limit - accumulated)) в аккумулятор дня
// и возвращает зачтённую сумму. Вызывается только внутри блокировки игрока.
func (c DailyCap) Apply(a *Account, day timeutil.Date, proposed int64) int64 {
	if proposed <= 0 {
		return 0
	}
	credited := min(proposed, c.Remaining(a, day))
	if credited > 0 {
		if a.DailyXP == nil {
			a.DailyXP = make(DailyXP)
		}
		a.DailyXP[day.String()] += credited
	}
	return credited
}
