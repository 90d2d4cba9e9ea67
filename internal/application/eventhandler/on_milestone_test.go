package eventhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battle64/points-engine/internal/domain/shared"
)

func TestMilestoneFeed_Handle(t *testing.T) {
	feed := NewMilestoneFeed(3, nil)
	at := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

	medal := shared.NewMedalUnlockedEvent("alice", "silver", 600, at)
	medal.BaseEvent = medal.BaseEvent.WithCorrelationID("req-1")

	require.NoError(t, feed.Handle(shared.NewPointsAwardedEvent("alice", "comment", 10, 0, 10, at)))
	require.NoError(t, feed.Handle(medal))
	require.NoError(t, feed.Handle(shared.NewRankTierChangedEvent("alice", "Rookie", "Amateur", 1050, at)))

	got := feed.Recent(0)
	require.Len(t, got, 2)
	assert.Equal(t, "promoted from Rookie to Amateur", got[0].Summary)
	assert.Equal(t, "unlocked medal silver (+600 XP)", got[1].Summary)
	assert.Equal(t, "req-1", got[1].CorrelationID)
	assert.Equal(t, "alice", got[1].PlayerID)

	counts := feed.Counts()
	assert.Equal(t, int64(1), counts[shared.EventMedalUnlocked])
	assert.Zero(t, counts[shared.EventPointsAwarded])
}

func TestMilestoneFeed_Wraps(t *testing.T) {
	feed := NewMilestoneFeed(2, nil)
	at := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

	for _, title := range []string{"newcomer", "veteran", "legend"} {
		require.NoError(t, feed.Handle(shared.NewTitleUnlockedEvent("bob", title, at)))
	}

	got := feed.Recent(5)
	require.Len(t, got, 2)
	assert.Equal(t, "earned title legend", got[0].Summary)
	assert.Equal(t, "earned title veteran", got[1].Summary)
	assert.Len(t, feed.Recent(1), 1)
}
