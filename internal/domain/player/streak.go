package player

import (
	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// Streak представляет серию последовательных календарных дней,
// в которые игрок выполнял активность одного типа.
type Streak struct {
	// Current - текущая длина серии.
	Current int `json:"current"`

	// Best - лучшая серия за всё время. Никогда не уменьшается.
	Best int `json:"best"`

	// LastDate - дата последней активности этого типа.
	LastDate timeutil.Date `json:"last_date"`

	// StartDate - дата начала текущей серии.
	StartDate timeutil.Date `json:"start_date"`
}

// StreakChange - результат обновления серии.
type StreakChange struct {
	Type     activity.Type `json:"type"`
	Previous int           `json:"previous"`
	Current  int           `json:"current"`
	Best     int           `json:"best"`
	Extended bool          `json:"extended"`
	Reset    bool          `json:"reset"`
}

// Record регистрирует активность в день day.
//
// Переходы:
//   - первой активности нет: серия = 1;
//   - разница 1 день: серия + 1;
//   - тот же день: без изменений;
//   - разрыв 2+ дня: серия сбрасывается до 1;
//   - дата раньше последней: игнорируется.
func (s *Streak) Record(day timeutil.Date) StreakChange {
	change := StreakChange{Previous: s.Current}

	if s.LastDate.IsZero() {
		s.Current = 1
		s.LastDate = day
		s.StartDate = day
	} else {
		switch diff := timeutil.DaysBetween(s.LastDate, day); {
		case diff <= 0:
			// Тот же день или запоздавшая запись - ничего не меняем
		case diff == 1:
			s.Current++
			s.LastDate = day
			change.Extended = true
		default:
			// Пропущены дни - сбрасываем серию
			s.Current = 1
			s.LastDate = day
			s.StartDate = day
			change.Reset = change.Previous > 0
		}
	}

	if s.Current > s.Best {
		s.Best = s.Current
	}

	change.Current = s.Current
	change.Best = s.Best
	return change
}

// Continues проверяет, продлит ли активность в день day текущую серию.
func (s Streak) Continues(day timeutil.Date) bool {
	return !s.LastDate.IsZero() && timeutil.DaysBetween(s.LastDate, day) == 1
}

// IsAlive проверяет, что серия ещё не прервана на дату today.
func (s Streak) IsAlive(today timeutil.Date) bool {
	if s.LastDate.IsZero() {
		return false
	}
	diff := timeutil.DaysBetween(s.LastDate, today)
	return diff == 0 || diff == 1
}
