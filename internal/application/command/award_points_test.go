package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/battle64/points-engine/internal/domain/achievement"
	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/internal/infrastructure/persistence/memory"
	"github.com/battle64/points-engine/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ══════════════════════════════════════════════════════════════════════════════
// Test harness
// ══════════════════════════════════════════════════════════════════════════════

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// flakyRepo fails the next failCommits commits.
type flakyRepo struct {
	*memory.PlayerRepository
	mu          sync.Mutex
	failCommits int
}

func (f *flakyRepo) CommitAward(ctx context.Context, acct *player.Account, rec *activity.Record) error {
	f.mu.Lock()
	fail := f.failCommits > 0
	if fail {
		f.failCommits--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.PlayerRepository.CommitAward(ctx, acct, rec)
}

type harness struct {
	handler *AwardPointsHandler
	repo    *flakyRepo
	boards  *leaderboard.Maintainer
	pub     *recordingPublisher
	clock   *testClock
	cal     *timeutil.Calendar
	locks   *PlayerLocks
}

func newHarness(t *testing.T, settings shared.EngineSettings, medals *achievement.MedalEngine) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)}
	cal := timeutil.NewCalendar(time.UTC).WithClock(clock.Now)
	h := &harness{
		repo:   &flakyRepo{PlayerRepository: memory.NewPlayerRepository()},
		boards: leaderboard.NewMaintainer(settings.LeaderboardSize, cal),
		pub:    &recordingPublisher{},
		clock:  clock,
		cal:    cal,
		locks:  NewPlayerLocks(),
	}
	seq := 0
	h.handler = NewAwardPointsHandler(AwardPointsDeps{
		Players:   h.repo,
		Medals:    medals,
		Boards:    h.boards,
		Locks:     h.locks,
		Publisher: h.pub,
	}, AwardPointsHandlerConfig{
		Settings: settings,
		Calendar: cal,
		NewID: func() string {
			seq++
			return fmt.Sprintf("rec-%d", seq)
		},
	})
	return h
}

func (h *harness) award(t *testing.T, playerID string, typ activity.Type, ctx activity.Context) *PointsResult {
	t.Helper()
	res, err := h.handler.Handle(context.Background(), AwardPointsCommand{
		PlayerID:     playerID,
		ActivityType: string(typ),
		Context:      ctx,
	})
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	return res
}

func (h *harness) account(t *testing.T, playerID string) *player.Account {
	t.Helper()
	a, err := h.repo.Get(context.Background(), playerID)
	require.NoError(t, err)
	return a
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func medalIDs(ms []achievement.MedalResult) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// Scenarios
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_FirstCommentCreatesAccount(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)

	res := h.award(t, "p1", activity.TypeComment, activity.Context{})
	assert.Equal(t, int64(10), res.XPEarned)
	assert.Equal(t, "Rookie", res.NewRank)
	assert.InDelta(t, 0.01, res.RankProgress, 1e-9)
	assert.Empty(t, res.MedalsEarned)
	assert.Equal(t, 1, res.Streak.Current)

	acct := h.account(t, "p1")
	assert.Equal(t, int64(10), acct.TotalXP)
	assert.Equal(t, "Rookie", acct.CurrentRank)

	top := h.boards.Top(leaderboard.GlobalScope(), 10)
	require.Len(t, top, 1)
	assert.Equal(t, int64(10), top[0].Score)
}

func TestAward_FirstPlaceWithSpeedBonus(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)

	res := h.award(t, "p1", activity.TypeEventParticipation, activity.Context{
		Placement:        intPtr(1),
		TopTenPercent:    true,
		StreakMultiplier: floatPtr(1.0),
	})

	assert.Equal(t, int64(1400), res.Details.Breakdown.Total)
	assert.Equal(t, int64(1000), res.XPEarned, "award path is capped")
	assert.Equal(t, []string{"gold", "participation", "speed_demon"}, medalIDs(res.MedalsEarned))
	assert.Equal(t, int64(1850), res.Details.MedalBonusXP, "medal bonuses bypass the cap")
	assert.Equal(t, int64(2850), res.Details.TotalXP)
	assert.Equal(t, "Enthusiast", res.NewRank)
	assert.Equal(t, "Rookie", res.Details.PreviousRank)
	assert.Equal(t, int64(0), res.Details.DailyXPRemaining)

	assert.Equal(t, []shared.EventType{
		shared.EventPointsAwarded,
		shared.EventMedalUnlocked, shared.EventMedalUnlocked, shared.EventMedalUnlocked,
		shared.EventRankTierChanged,
		shared.EventEnteredLeaderboard, shared.EventEnteredLeaderboard, shared.EventEnteredLeaderboard,
	}, h.pub.Types())
}

func TestAward_DailyCapClamps(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	ctx := context.Background()

	seed, err := player.NewAccount("p1", h.clock.Now())
	require.NoError(t, err)
	seed.DailyXP[h.cal.Today().String()] = 900
	seed.Medals["bronze"] = h.clock.Now()
	seed.Medals["participation"] = h.clock.Now()
	require.NoError(t, h.repo.Save(ctx, seed))

	// base 100 + third place 200
	res := h.award(t, "p1", activity.TypeEventParticipation, activity.Context{Placement: intPtr(3)})
	assert.Equal(t, int64(300), res.Details.Breakdown.Total)
	assert.Equal(t, int64(100), res.XPEarned)

	acct := h.account(t, "p1")
	assert.Equal(t, int64(1000), acct.DailyXP.Get(h.cal.Today()))

	// cap reached: further awards credit nothing
	res = h.award(t, "p1", activity.TypeComment, activity.Context{})
	assert.Equal(t, int64(0), res.XPEarned)
	assert.Equal(t, int64(100), h.account(t, "p1").TotalXP)

	// next day the cap resets
	h.clock.Advance(24 * time.Hour)
	res = h.award(t, "p1", activity.TypeComment, activity.Context{})
	assert.Equal(t, int64(10), res.XPEarned)
}

func TestAward_CapHoldsAcrossOutOfOrderDates(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	ctx := context.Background()
	now := h.clock.Now()
	today := h.cal.Today()
	twoDaysAgo := now.Add(-48 * time.Hour)

	awardAt := func(typ activity.Type, at time.Time) (*PointsResult, error) {
		return h.handler.Handle(ctx, AwardPointsCommand{PlayerID: "p1", ActivityType: string(typ), OccurredAt: at})
	}

	var creditedToday, creditedEarlier int64
	for i := 0; i < 20; i++ {
		res, err := awardAt(activity.TypeScreenshotUpload, now)
		require.NoError(t, err)
		creditedToday += res.XPEarned
	}

	for _, at := range []time.Time{now.Add(40 * 24 * time.Hour), now.Add(-40 * 24 * time.Hour), now.Add(MaxClockSkew + time.Second)} {
		res, err := awardAt(activity.TypeComment, at)
		require.Error(t, err, at)
		assert.True(t, shared.IsValidation(err))
		assert.Equal(t, FailureValidation, res.Failure.Kind)
	}

	for i := 0; i < 20; i++ {
		at := now
		if i%2 == 0 {
			at = twoDaysAgo
		}
		res, err := awardAt(activity.TypeScreenshotUpload, at)
		require.NoError(t, err)
		if at.Equal(now) {
			creditedToday += res.XPEarned
		} else {
			creditedEarlier += res.XPEarned
		}
	}

	acct := h.account(t, "p1")
	assert.Equal(t, int64(1000), creditedToday)
	assert.Equal(t, int64(500), creditedEarlier)
	assert.Equal(t, int64(1000), acct.DailyXP.Get(today))
	assert.Equal(t, int64(500), acct.DailyXP.Get(today.AddDays(-2)))
	assert.Equal(t, creditedToday+creditedEarlier, acct.TotalXP)
}

func TestAward_MedalBonusInsideCapWhenToggledOff(t *testing.T) {
	settings := shared.DefaultEngineSettings()
	settings.MedalBonusBypassesCap = false
	h := newHarness(t, settings, nil)

	res := h.award(t, "p1", activity.TypeEventParticipation, activity.Context{Placement: intPtr(1)})
	assert.Equal(t, int64(600), res.XPEarned)
	require.Equal(t, []string{"gold", "participation"}, medalIDs(res.MedalsEarned))
	assert.Equal(t, int64(400), res.MedalsEarned[0].BonusXP)
	assert.Equal(t, int64(0), res.MedalsEarned[1].BonusXP)
	assert.Equal(t, int64(1000), res.Details.TotalXP)

	acct := h.account(t, "p1")
	assert.Equal(t, int64(1000), acct.DailyXP.Get(h.cal.Today()))
	assert.True(t, acct.HasMedal("participation"))
}

func TestAward_MedalsAreGrantedOnce(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	first := activity.Context{Placement: intPtr(1)}

	res := h.award(t, "p1", activity.TypeEventParticipation, first)
	assert.Contains(t, medalIDs(res.MedalsEarned), "gold")

	h.clock.Advance(24 * time.Hour)
	res = h.award(t, "p1", activity.TypeEventParticipation, first)
	assert.Empty(t, res.MedalsEarned)
	assert.Equal(t, int64(0), res.Details.MedalBonusXP)

	acct := h.account(t, "p1")
	assert.Len(t, acct.Medals, 2)
	// 600 + 1000 + 50 on day one, 600 on day two
	assert.Equal(t, int64(2250), acct.TotalXP)
}

func TestAward_PersistentAfterFiveEventAwardsInARow(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)

	for i := 1; i < achievement.PersistentEventStreak; i++ {
		res := h.award(t, "p1", activity.TypeEventParticipation, activity.Context{})
		assert.NotContains(t, medalIDs(res.MedalsEarned), "persistent")
	}
	res := h.award(t, "p1", activity.TypeEventParticipation, activity.Context{})
	assert.Equal(t, []string{"persistent"}, medalIDs(res.MedalsEarned))

	// a different activity in between restarts the run
	for i := 1; i < achievement.PersistentEventStreak; i++ {
		h.award(t, "p2", activity.TypeEventParticipation, activity.Context{})
	}
	h.award(t, "p2", activity.TypeComment, activity.Context{})
	res = h.award(t, "p2", activity.TypeEventParticipation, activity.Context{})
	assert.Empty(t, res.MedalsEarned)
	assert.False(t, h.account(t, "p2").HasMedal("persistent"))
}

func TestAward_RankNeverDropsAndProgressBounded(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	prev := 0.0
	prevTotal := int64(0)
	for i := 0; i < 30; i++ {
		res := h.award(t, "p1", activity.TypeScreenshotUpload, activity.Context{})
		assert.GreaterOrEqual(t, res.Details.TotalXP, prevTotal)
		assert.GreaterOrEqual(t, res.RankProgress, 0.0)
		assert.LessOrEqual(t, res.RankProgress, 1.0)
		if res.NewRank == "Rookie" {
			assert.GreaterOrEqual(t, res.RankProgress, prev)
		}
		prev, prevTotal = res.RankProgress, res.Details.TotalXP
		h.clock.Advance(time.Hour)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// Streaks
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_StreakTransitions(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)

	steps := []struct {
		advance time.Duration
		current int
		best    int
	}{
		{0, 1, 1},
		{24 * time.Hour, 2, 2},
		{2 * time.Hour, 2, 2}, // same day
		{22 * time.Hour, 3, 3},
		{72 * time.Hour, 1, 3}, // gap
		{24 * time.Hour, 2, 3},
	}
	for i, s := range steps {
		h.clock.Advance(s.advance)
		res := h.award(t, "p1", activity.TypeDailyLogin, activity.Context{})
		assert.Equal(t, s.current, res.Streak.Current, "step %d", i)
		assert.Equal(t, s.best, res.Streak.Best, "step %d", i)
	}
}

func TestAward_StreakBonus(t *testing.T) {
	settings := shared.DefaultEngineSettings()
	settings.ApplyStreakBonus = true
	h := newHarness(t, settings, nil)

	res := h.award(t, "p1", activity.TypeDailyLogin, activity.Context{})
	assert.Equal(t, int64(25), res.XPEarned)
	assert.False(t, res.Details.StreakBonusApplied)

	h.clock.Advance(24 * time.Hour)
	res = h.award(t, "p1", activity.TypeDailyLogin, activity.Context{})
	assert.True(t, res.Details.StreakBonusApplied)
	assert.Equal(t, int64(27), res.XPEarned)

	// an explicit multiplier wins
	h.clock.Advance(24 * time.Hour)
	res = h.award(t, "p1", activity.TypeDailyLogin, activity.Context{StreakMultiplier: floatPtr(2)})
	assert.False(t, res.Details.StreakBonusApplied)
	assert.Equal(t, int64(50), res.XPEarned)
}

// ══════════════════════════════════════════════════════════════════════════════
// Failures
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_ValidationRejectsBeforeMutation(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	ctx := context.Background()

	cases := []AwardPointsCommand{
		{PlayerID: "p1", ActivityType: "teleport"},
		{PlayerID: "", ActivityType: "comment"},
		{PlayerID: "p1", ActivityType: "event_participation", Context: activity.Context{Placement: intPtr(0)}},
		{PlayerID: "p1", ActivityType: "fanart_creation", Context: activity.Context{QualityScore: floatPtr(3)}},
	}
	for _, cmd := range cases {
		res, err := h.handler.Handle(ctx, cmd)
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err), "%+v", cmd)
		require.NotNil(t, res.Failure)
		assert.Equal(t, FailureValidation, res.Failure.Kind)
		assert.Zero(t, res.XPEarned)
	}
	assert.Equal(t, 0, h.repo.Count())
	assert.Empty(t, h.pub.Types())
}

func TestAward_PersistenceFailureRollsBack(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	ctx := context.Background()

	h.award(t, "p1", activity.TypeComment, activity.Context{})
	before := h.account(t, "p1")
	eventsBefore := len(h.pub.Types())

	cmd := AwardPointsCommand{
		PlayerID:     "p1",
		ActivityType: string(activity.TypeEventParticipation),
		Context:      activity.Context{Placement: intPtr(1)},
		SubmissionID: "evt-42",
	}

	h.repo.failCommits = 1
	res, err := h.handler.Handle(ctx, cmd)
	require.Error(t, err)
	assert.True(t, shared.IsPersistence(err))
	assert.True(t, shared.IsRetryable(err))
	assert.Equal(t, FailurePersistence, res.Failure.Kind)
	assert.Zero(t, res.XPEarned)
	assert.Empty(t, res.MedalsEarned)

	after := h.account(t, "p1")
	assert.Equal(t, before, after, "no partial state survives")
	recent, _ := h.repo.Recent(ctx, "p1", 10)
	assert.Len(t, recent, 1)
	assert.Equal(t, int64(10), h.boards.Top(leaderboard.GlobalScope(), 1)[0].Score)
	assert.Len(t, h.pub.Types(), eventsBefore)

	// the same submission retried takes effect exactly once
	res, err = h.handler.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(600), res.XPEarned)
	assert.Equal(t, int64(10+600+1000+50), h.account(t, "p1").TotalXP)

	res, err = h.handler.Handle(ctx, cmd)
	assert.True(t, shared.IsDuplicate(err))
	assert.Equal(t, FailureDuplicate, res.Failure.Kind)
	assert.Equal(t, int64(1660), h.account(t, "p1").TotalXP)
}

func TestAward_PanicBecomesComputationError(t *testing.T) {
	broken := achievement.NewMedalEngine(achievement.Medal{
		ID: "broken",
		Condition: func(achievement.MedalInput) bool {
			var m map[string]int
			m["boom"]++
			return true
		},
	})
	h := newHarness(t, shared.DefaultEngineSettings(), broken)

	res, err := h.handler.Handle(context.Background(), AwardPointsCommand{PlayerID: "p1", ActivityType: "comment"})
	require.Error(t, err)
	assert.True(t, shared.IsComputation(err))
	assert.Equal(t, FailureComputation, res.Failure.Kind)
	assert.Equal(t, 0, h.repo.Count())
	assert.Empty(t, h.boards.Top(leaderboard.GlobalScope(), 10))
}

// ══════════════════════════════════════════════════════════════════════════════
// Concurrency
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_ConcurrentPlayers(t *testing.T) {
	settings := shared.DefaultEngineSettings()
	settings.LeaderboardSize = 5
	h := newHarness(t, settings, nil)
	ctx := context.Background()

	const players, perPlayer = 8, 20
	var wg sync.WaitGroup
	for p := 0; p < players; p++ {
		for i := 0; i < perPlayer; i++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				_, err := h.handler.Handle(ctx, AwardPointsCommand{
					PlayerID:     fmt.Sprintf("p%d", p),
					ActivityType: string(activity.TypeLike),
				})
				assert.NoError(t, err)
			}(p)
		}
	}
	wg.Wait()

	for p := 0; p < players; p++ {
		acct := h.account(t, fmt.Sprintf("p%d", p))
		assert.Equal(t, int64(perPlayer*5), acct.TotalXP)
		assert.Equal(t, perPlayer, acct.Tally.Count(activity.TypeLike))
	}

	top := h.boards.Top(leaderboard.GlobalScope(), 0)
	assert.Len(t, top, 5)
	seen := map[string]bool{}
	for i, e := range top {
		assert.False(t, seen[e.PlayerID])
		seen[e.PlayerID] = true
		assert.Equal(t, i+1, e.Rank)
		assert.Equal(t, int64(perPlayer*5), e.Score)
	}
	assert.Equal(t, 0, h.locks.Len())
}

func TestPlayerLocks_HonoursContext(t *testing.T) {
	locks := NewPlayerLocks()
	unlock, err := locks.Lock(context.Background(), "p1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "p1")
	assert.ErrorIs(t, err, shared.ErrTimeout)

	other, err := locks.Lock(context.Background(), "p2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Equal(t, 0, locks.Len())
}

func TestSubmissionFingerprint(t *testing.T) {
	a := SubmissionFingerprint("p1", "s1")
	assert.Len(t, a, 32)
	assert.Equal(t, a, SubmissionFingerprint("p1", "s1"))
	assert.NotEqual(t, a, SubmissionFingerprint("p2", "s1"))
	assert.NotEqual(t, SubmissionFingerprint("p1", "s1x"), SubmissionFingerprint("p1s", "1x"))
}
