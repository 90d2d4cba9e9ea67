package command

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateTitles_VeteranAfterAYear(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.award(t, fmt.Sprintf("p%d", i), activity.TypeComment, activity.Context{})
	}
	handler := NewEvaluateTitlesHandler(h.repo, nil, h.locks, h.pub, h.cal, nil)

	res, err := handler.Handle(ctx, EvaluateTitlesCommand{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scanned)
	assert.Equal(t, 0, res.Unlocked)

	h.clock.Advance(365 * 24 * time.Hour)
	res, err = handler.Handle(ctx, EvaluateTitlesCommand{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scanned)
	assert.Equal(t, 5, res.Unlocked)
	assert.Equal(t, 0, res.Failed)
	assert.True(t, h.account(t, "p3").HasTitle("veteran"))

	// titles are granted once
	res, err = handler.Handle(ctx, EvaluateTitlesCommand{PlayerID: "p3"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Unlocked)

	unlocked := 0
	for _, typ := range h.pub.Types() {
		if typ == shared.EventTitleUnlocked {
			unlocked++
		}
	}
	assert.Equal(t, 5, unlocked)
}

func TestEvaluateTitles_UnknownPlayer(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	handler := NewEvaluateTitlesHandler(h.repo, nil, h.locks, nil, h.cal, nil)

	_, err := handler.Handle(context.Background(), EvaluateTitlesCommand{PlayerID: "ghost"})
	assert.True(t, shared.IsNotFound(err))
}

func TestRebuildLeaderboard_FromPlayerTotals(t *testing.T) {
	h := newHarness(t, shared.DefaultEngineSettings(), nil)
	ctx := context.Background()

	// 2024-03-20: p1 and p2 active
	h.award(t, "p1", activity.TypeFanartCreation, activity.Context{})
	h.award(t, "p2", activity.TypeComment, activity.Context{})

	// 2024-04-10: only p2 active
	h.clock.Advance(21 * 24 * time.Hour)
	h.award(t, "p2", activity.TypeComment, activity.Context{})

	fresh := leaderboard.NewMaintainer(10, h.cal)
	handler := NewRebuildLeaderboardHandler(h.repo, fresh, nil)
	res, err := handler.Handle(ctx, RebuildLeaderboardCommand{})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"global":          2,
		"monthly-2024-04": 1,
		"weekly-2024-W15": 1,
	}, res.Entries)

	global := fresh.Top(leaderboard.GlobalScope(), 0)
	require.Len(t, global, 2)
	assert.Equal(t, "p1", global[0].PlayerID)
	assert.Equal(t, int64(300), global[0].Score)
	assert.Equal(t, "p2", global[1].PlayerID)
	assert.Equal(t, int64(20), global[1].Score)

	monthly := fresh.Top(leaderboard.MonthlyScope(h.cal, h.clock.Now()), 0)
	require.Len(t, monthly, 1)
	assert.Equal(t, "p2", monthly[0].PlayerID)

	// an explicit past period keeps only players last seen inside it
	march, err := leaderboard.ParseScope("monthly-2024-03")
	require.NoError(t, err)
	res, err = handler.Handle(ctx, RebuildLeaderboardCommand{Scopes: []leaderboard.Scope{march}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entries["monthly-2024-03"])
}
