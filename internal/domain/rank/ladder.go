// Package rank maps cumulative XP onto an ordered ladder of named tiers.
package rank

import (
	"fmt"

	"github.com/battle64/points-engine/internal/domain/shared"
)

// Tier is a named bracket starting at MinXP.
type Tier struct {
	Name  string `json:"name"`
	MinXP int64  `json:"min_xp"`
}

// DefaultTiers is the stock eight-tier ladder.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "Rookie", MinXP: 0},
		{Name: "Amateur", MinXP: 1000},
		{Name: "Enthusiast", MinXP: 2500},
		{Name: "Veteran", MinXP: 5000},
		{Name: "Expert", MinXP: 10000},
		{Name: "Master", MinXP: 20000},
		{Name: "Legend", MinXP: 50000},
		{Name: "Mythic", MinXP: 100000},
	}
}

// Position is where a total XP sits on the ladder.
type Position struct {
	Tier Tier `json:"tier"`
	// Next is nil at the top tier.
	Next *Tier `json:"next,omitempty"`
	// Progress toward Next in [0,1]; exactly 1 at the top tier.
	Progress float64 `json:"progress"`
	// XPToNext is 0 at the top tier.
	XPToNext int64 `json:"xp_to_next"`
}

// Ladder is an immutable, strictly increasing list of tiers.
type Ladder struct {
	tiers []Tier
}

// NewLadder validates tiers: at least one, the first at 0 XP, strictly
// increasing thresholds and unique non-empty names.
func NewLadder(tiers []Tier) (*Ladder, error) {
	if len(tiers) == 0 {
		return nil, shared.ValidationError("rank", "NewLadder", "ladder needs at least one tier")
	}
	if tiers[0].MinXP != 0 {
		return nil, shared.ValidationError("rank", "NewLadder", "first tier must start at 0 XP, got %d", tiers[0].MinXP)
	}
	seen := make(map[string]struct{}, len(tiers))
	for i, t := range tiers {
		if t.Name == "" {
			return nil, shared.ValidationError("rank", "NewLadder", "tier %d has no name", i)
		}
		if _, dup := seen[t.Name]; dup {
			return nil, shared.ValidationError("rank", "NewLadder", "duplicate tier %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if i > 0 && t.MinXP <= tiers[i-1].MinXP {
			return nil, shared.ValidationError("rank", "NewLadder",
				"tier %q (%d) must be above %q (%d)", t.Name, t.MinXP, tiers[i-1].Name, tiers[i-1].MinXP)
		}
	}
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return &Ladder{tiers: out}, nil
}

// DefaultLadder returns the ladder over DefaultTiers.
func DefaultLadder() *Ladder {
	l, err := NewLadder(DefaultTiers())
	if err != nil {
		panic(fmt.Sprintf("rank: default ladder: %v", err))
	}
	return l
}

// Tiers returns a copy of the ladder.
func (l *Ladder) Tiers() []Tier {
	out := make([]Tier, len(l.tiers))
	copy(out, l.tiers)
	return out
}

// Resolve returns the highest tier whose threshold is at or below xp, and the
// progress toward the next one. Negative xp resolves as 0.
func (l *Ladder) Resolve(xp int64) Position {
	if xp < 0 {
		xp = 0
	}
	i := 0
	for i+1 < len(l.tiers) && l.tiers[i+1].MinXP <= xp {
		i++
	}
	cur := l.tiers[i]
	if i+1 == len(l.tiers) {
		return Position{Tier: cur, Progress: 1}
	}
	next := l.tiers[i+1]
	span := next.MinXP - cur.MinXP
	p := float64(xp-cur.MinXP) / float64(span)
	switch {
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	return Position{Tier: cur, Next: &next, Progress: p, XPToNext: next.MinXP - xp}
}

// Compare reports the ladder distance between two tier names: positive when
// b is above a. Unknown names count as the bottom tier.
func (l *Ladder) Compare(a, b string) int {
	return l.index(b) - l.index(a)
}

func (l *Ladder) index(name string) int {
	for i, t := range l.tiers {
		if t.Name == name {
			return i
		}
	}
	return 0
}
