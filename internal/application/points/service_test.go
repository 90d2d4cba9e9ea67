package points

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/internal/infrastructure/persistence/memory"
	"github.com/battle64/points-engine/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	players   *memory.PlayerRepository
	snapshots *memory.SnapshotStore
	clock     *clock
	cal       *timeutil.Calendar
}

func newFixture() *fixture {
	c := &clock{now: time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		players:   memory.NewPlayerRepository(),
		snapshots: memory.NewSnapshotStore(),
		clock:     c,
		cal:       timeutil.NewCalendar(time.UTC).WithClock(c.Now),
	}
}

func (f *fixture) service(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Deps{
		Players:   f.players,
		Snapshots: f.snapshots,
	}, Options{
		Calendar:       f.cal,
		BoardRetention: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return svc
}

func TestNew_RequiresPlayers(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)

	settings := shared.DefaultEngineSettings()
	settings.LeaderboardSize = 0
	_, err = New(Deps{Players: memory.NewPlayerRepository()}, Options{Settings: settings})
	assert.True(t, shared.IsValidation(err))
}

func TestService_AwardAndQuery(t *testing.T) {
	f := newFixture()
	svc := f.service(t)
	ctx := context.Background()

	res, err := svc.Award(ctx, "alice", "event_participation", activity.Context{Placement: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.XPEarned)

	_, err = svc.Award(ctx, "bob", "comment", activity.Context{})
	require.NoError(t, err)

	board, err := svc.GetLeaderboard(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "global", board.Scope)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "alice", board.Entries[0].PlayerID)
	assert.Equal(t, 1, board.Entries[0].Rank)

	monthly, err := svc.GetLeaderboard(ctx, "monthly", 1)
	require.NoError(t, err)
	assert.Equal(t, "monthly-2024-03", monthly.Scope)
	assert.Len(t, monthly.Entries, 1)
	assert.Equal(t, 2, monthly.TotalCount)

	_, err = svc.GetLeaderboard(ctx, "yearly", 10)
	assert.True(t, shared.IsValidation(err))

	stats, err := svc.GetPlayerStats(ctx, "alice")
	require.NoError(t, err)
	// 400 earned + silver 600 + participation 50
	assert.Equal(t, int64(1050), stats.TotalXP)
	assert.Equal(t, "Amateur", stats.CurrentRank)
	assert.Len(t, stats.Medals, 2)
	assert.Len(t, stats.RecentActivities, 1)
	assert.Equal(t, 1, stats.ActivityByType["event_participation"])
	assert.Equal(t, int64(600), stats.DailyXPRemaining)
	assert.Equal(t, 1, stats.Positions["global"])
	assert.Equal(t, 1, stats.Streaks["event_participation"].Current)

	_, err = svc.GetPlayerStats(ctx, "nobody")
	assert.True(t, shared.IsNotFound(err))
}

func TestService_FlushAndRestore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	svc := f.service(t)
	require.NoError(t, svc.RestoreLeaderboards(ctx))
	_, err := svc.Award(ctx, "alice", "fanart_creation", activity.Context{})
	require.NoError(t, err)
	_, err = svc.Award(ctx, "bob", "like", activity.Context{})
	require.NoError(t, err)

	n, err := svc.FlushLeaderboards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = svc.FlushLeaderboards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "clean boards are not rewritten")

	labels, err := f.snapshots.Scopes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"global", "monthly-2024-03", "weekly-2024-W12"}, labels)

	restarted := f.service(t)
	require.NoError(t, restarted.RestoreLeaderboards(ctx))
	board, err := restarted.GetLeaderboard(ctx, "weekly-2024-W12", 10)
	require.NoError(t, err)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "alice", board.Entries[0].PlayerID)
	assert.Equal(t, int64(300), board.Entries[0].Score)
}

func TestService_RestoreRebuildsWithoutSnapshots(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	svc := f.service(t)
	_, err := svc.Award(ctx, "alice", "comment", activity.Context{})
	require.NoError(t, err)

	// snapshots were never flushed
	restarted := f.service(t)
	require.NoError(t, restarted.RestoreLeaderboards(ctx))
	board, err := restarted.GetLeaderboard(ctx, "global", 10)
	require.NoError(t, err)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, int64(10), board.Entries[0].Score)
}

func TestService_PruneExpiredBoards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	svc := f.service(t)
	_, err := svc.Award(ctx, "alice", "comment", activity.Context{})
	require.NoError(t, err)
	_, err = svc.FlushLeaderboards(ctx)
	require.NoError(t, err)

	n, err := svc.PruneLeaderboards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(60 * 24 * time.Hour)
	n, err = svc.PruneLeaderboards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	labels, err := f.snapshots.Scopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"global"}, labels)
	assert.Equal(t, []leaderboard.Scope{leaderboard.GlobalScope()}, svc.Boards().Scopes())
}

type failingSnapshots struct {
	*memory.SnapshotStore
}

func (failingSnapshots) Save(context.Context, *leaderboard.Snapshot) error {
	return errors.New("bucket unavailable")
}

func TestService_FlushFailureKeepsBoardsDirty(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc, err := New(Deps{
		Players:   f.players,
		Snapshots: failingSnapshots{memory.NewSnapshotStore()},
	}, Options{Calendar: f.cal})
	require.NoError(t, err)

	_, err = svc.Award(ctx, "alice", "comment", activity.Context{})
	require.NoError(t, err)

	_, err = svc.FlushLeaderboards(ctx)
	require.Error(t, err)
	assert.True(t, shared.IsPersistence(err))
	assert.Len(t, svc.Boards().DirtySnapshots(f.clock.Now()), 3)
}

func intPtr(v int) *int { return &v }
