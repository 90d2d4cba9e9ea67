package player

import (
	"testing"
	"time"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = timeutil.NewDate(2024, time.March, 1)

func newAccount(t *testing.T) *Account {
	t.Helper()
	a, err := NewAccount("player-1", day0.In(time.UTC))
	require.NoError(t, err)
	return a
}

func TestNewAccount_RejectsEmptyID(t *testing.T) {
	_, err := NewAccount("  ", time.Now())
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestStreak_Transitions(t *testing.T) {
	var s Streak

	c := s.Record(day0)
	assert.Equal(t, 1, c.Current)

	c = s.Record(day0)
	assert.Equal(t, 1, c.Current, "same day does not change the streak")
	assert.False(t, c.Extended)

	for i := 1; i <= 4; i++ {
		c = s.Record(day0.AddDays(i))
		assert.True(t, c.Extended)
		assert.Equal(t, i+1, c.Current)
	}
	assert.Equal(t, 5, s.Best)

	c = s.Record(day0.AddDays(6))
	assert.True(t, c.Reset)
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 5, s.Best, "best never decreases")

	c = s.Record(day0.AddDays(2))
	assert.Equal(t, 1, c.Current, "earlier dates are ignored")
	assert.Equal(t, day0.AddDays(6), s.LastDate)
}

func TestStreak_BestIsMonotonic(t *testing.T) {
	var s Streak
	best := 0
	for _, offset := range []int{0, 1, 2, 5, 6, 7, 8, 20, 21} {
		s.Record(day0.AddDays(offset))
		assert.GreaterOrEqual(t, s.Best, best)
		best = s.Best
	}
	assert.Equal(t, 4, s.Best)
}

func TestStreak_ContinuesAndAlive(t *testing.T) {
	var s Streak
	assert.False(t, s.Continues(day0))
	assert.False(t, s.IsAlive(day0))

	s.Record(day0)
	assert.True(t, s.Continues(day0.AddDays(1)))
	assert.False(t, s.Continues(day0))
	assert.True(t, s.IsAlive(day0.AddDays(1)))
	assert.False(t, s.IsAlive(day0.AddDays(2)))
}

func TestDailyCap_ClampsToRemaining(t *testing.T) {
	a := newAccount(t)
	limit := NewDailyCap(1000)

	assert.Equal(t, int64(900), limit.Apply(a, day0, 900))
	assert.Equal(t, int64(100), limit.Apply(a, day0, 300))
	assert.Equal(t, int64(1000), a.DailyXP.Get(day0))
	assert.Equal(t, int64(0), limit.Apply(a, day0, 50))
	assert.Equal(t, int64(0), limit.Remaining(a, day0))

	assert.Equal(t, int64(50), limit.Apply(a, day0.AddDays(1), 50), "a new day has a fresh allowance")
	assert.Equal(t, int64(0), limit.Apply(a, day0.AddDays(1), -10))
}

func TestDailyCap_ZeroLimit(t *testing.T) {
	a := newAccount(t)
	assert.Equal(t, int64(0), NewDailyCap(-5).Apply(a, day0, 100))
	assert.Empty(t, a.DailyXP)
}

func TestAccount_GrantIsIdempotent(t *testing.T) {
	a := newAccount(t)
	at := day0.In(time.UTC)

	assert.True(t, a.GrantMedal("gold", at))
	assert.False(t, a.GrantMedal("gold", at.Add(time.Hour)))
	assert.Equal(t, at, a.Medals["gold"])

	assert.True(t, a.GrantTitle("veteran", at))
	assert.False(t, a.GrantTitle("veteran", at))

	a.GrantMedal("bronze", at.Add(-time.Hour))
	assert.Equal(t, []string{"bronze", "gold"}, a.MedalIDs())
}

func TestAccount_CloneIsDeep(t *testing.T) {
	a := newAccount(t)
	rec := &activity.Record{ID: "r1", PlayerID: a.ID, Type: activity.TypeComment, OccurredAt: day0.In(time.UTC), XPEarned: 10}
	a.Append(rec, day0)
	a.RecordStreak(activity.TypeComment, day0)
	NewDailyCap(1000).Apply(a, day0, 10)

	cp := a.Clone()
	cp.Append(rec, day0)
	cp.GrantMedal("social", time.Now())
	cp.RecordStreak(activity.TypeComment, day0.AddDays(1))
	NewDailyCap(1000).Apply(cp, day0, 10)
	cp.RememberSubmission("fp", time.Now())

	assert.Equal(t, int64(10), a.TotalXP)
	assert.Equal(t, 1, a.Tally.Count(activity.TypeComment))
	assert.False(t, a.HasMedal("social"))
	assert.Equal(t, 1, a.Streak(activity.TypeComment).Current)
	assert.Equal(t, int64(10), a.DailyXP.Get(day0))
	assert.False(t, a.HasSubmission("fp"))

	assert.Equal(t, int64(20), cp.TotalXP)
	assert.Equal(t, 2, cp.Streak(activity.TypeComment).Current)
}

func TestAccount_AppendPrunesOldDays(t *testing.T) {
	a := newAccount(t)
	NewDailyCap(1000).Apply(a, day0, 10)

	later := day0.AddDays(DailyXPRetentionDays + 1)
	a.Append(&activity.Record{Type: activity.TypeLike, OccurredAt: later.In(time.UTC), XPEarned: 5}, later)

	assert.Zero(t, a.DailyXP.Get(day0))
	assert.Equal(t, later.In(time.UTC), a.LastActivity)
}

func TestAccount_AppendPrunesByToday(t *testing.T) {
	a := newAccount(t)
	NewDailyCap(1000).Apply(a, day0, 900)

	future := day0.AddDays(DailyXPRetentionDays + 9)
	a.Append(&activity.Record{Type: activity.TypeComment, OccurredAt: future.In(time.UTC), XPEarned: 10}, day0)

	assert.Equal(t, int64(900), a.DailyXP.Get(day0))
	assert.Equal(t, int64(100), NewDailyCap(1000).Remaining(a, day0))
}

func TestTracked(t *testing.T) {
	assert.True(t, Tracked(day0, day0))
	assert.True(t, Tracked(day0.AddDays(-DailyXPRetentionDays), day0))
	assert.False(t, Tracked(day0.AddDays(-DailyXPRetentionDays-1), day0))
	assert.True(t, Tracked(day0.AddDays(1), day0))
}

func TestAccount_RememberSubmissionExpires(t *testing.T) {
	a := newAccount(t)
	start := day0.In(time.UTC)

	a.RememberSubmission("old", start)
	a.RememberSubmission("new", start.Add(SubmissionRetention+time.Hour))

	assert.False(t, a.HasSubmission("old"))
	assert.True(t, a.HasSubmission("new"))
}
