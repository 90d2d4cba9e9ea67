package rank

import (
	"testing"

	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	l := DefaultLadder()

	tests := []struct {
		xp       int64
		tier     string
		next     string
		progress float64
	}{
		{0, "Rookie", "Amateur", 0},
		{950, "Rookie", "Amateur", 0.95},
		{1000, "Amateur", "Enthusiast", 0},
		{1750, "Amateur", "Enthusiast", 0.5},
		{99999, "Legend", "Mythic", 0.99998},
		{-5, "Rookie", "Amateur", 0},
	}
	for _, tt := range tests {
		p := l.Resolve(tt.xp)
		assert.Equal(t, tt.tier, p.Tier.Name, "xp=%d", tt.xp)
		require.NotNil(t, p.Next)
		assert.Equal(t, tt.next, p.Next.Name)
		assert.InDelta(t, tt.progress, p.Progress, 1e-9, "xp=%d", tt.xp)
	}
}

func TestResolve_TopTier(t *testing.T) {
	l := DefaultLadder()
	for _, xp := range []int64{100000, 250000} {
		p := l.Resolve(xp)
		assert.Equal(t, "Mythic", p.Tier.Name)
		assert.Nil(t, p.Next)
		assert.Equal(t, 1.0, p.Progress)
		assert.Zero(t, p.XPToNext)
	}
}

func TestResolve_Monotonic(t *testing.T) {
	l := DefaultLadder()
	prev := 0
	for xp := int64(0); xp <= 120000; xp += 250 {
		p := l.Resolve(xp)
		idx := l.index(p.Tier.Name)
		assert.GreaterOrEqual(t, idx, prev)
		assert.GreaterOrEqual(t, p.Progress, 0.0)
		assert.LessOrEqual(t, p.Progress, 1.0)
		prev = idx
	}
}

func TestNewLadder_Rejects(t *testing.T) {
	cases := map[string][]Tier{
		"empty":        nil,
		"non-zero":     {{Name: "A", MinXP: 5}},
		"not rising":   {{Name: "A", MinXP: 0}, {Name: "B", MinXP: 0}},
		"duplicate":    {{Name: "A", MinXP: 0}, {Name: "A", MinXP: 10}},
		"missing name": {{Name: "", MinXP: 0}},
	}
	for name, tiers := range cases {
		_, err := NewLadder(tiers)
		assert.True(t, shared.IsValidation(err), name)
	}
}

func TestCompare(t *testing.T) {
	l := DefaultLadder()
	assert.Equal(t, 1, l.Compare("Rookie", "Amateur"))
	assert.Equal(t, 0, l.Compare("Expert", "Expert"))
	assert.Negative(t, l.Compare("Mythic", "Rookie"))
}
