package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battle64/points-engine/internal/domain/leaderboard"
)

func TestKeys(t *testing.T) {
	k := NewKeys("")
	assert.Equal(t, "battle64:leaderboard:global:scores", k.BoardScores("global"))
	assert.Equal(t, "battle64:leaderboard:weekly-2024-W12:entries", k.BoardEntries("weekly-2024-W12"))
	assert.Equal(t, "battle64:leaderboard:monthly-2024-03:meta", k.BoardMeta("monthly-2024-03"))
	assert.Equal(t, "battle64:leaderboard:scopes", k.Scopes())
	assert.Equal(t, "battle64:lock:flush", k.Lock("flush"))

	k = NewKeys("test:")
	assert.Equal(t, "test:points:events", k.Channel("points:events"))
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.DB = 2

	opts := cfg.Options()
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
}

func TestSnapshotMeta_RoundTrip(t *testing.T) {
	snap := &leaderboard.Snapshot{
		Scope:    "global",
		Size:     100,
		Revision: 42,
		TakenAt:  time.Date(2024, 3, 20, 12, 0, 0, 500, time.UTC),
	}

	raw := encodeMeta(snap)
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		meta[k] = v.(string)
	}

	got, err := decodeMeta("global", meta)
	require.NoError(t, err)
	assert.Equal(t, snap.Revision, got.Revision)
	assert.Equal(t, snap.Size, got.Size)
	assert.True(t, snap.TakenAt.Equal(got.TakenAt))

	meta["revision"] = "x"
	_, err = decodeMeta("global", meta)
	assert.Error(t, err)
}
