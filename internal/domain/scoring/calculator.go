// Package scoring computes the XP an activity is worth before any daily cap.
package scoring

import (
	"fmt"
	"math"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/shared"
)

// DefaultBaseXP is the stock base amount per activity type.
var DefaultBaseXP = map[activity.Type]int64{
	activity.TypeEventParticipation: 100,
	activity.TypeScreenshotUpload:   50,
	activity.TypeFanartCreation:     200,
	activity.TypeComment:            10,
	activity.TypeLike:               5,
	activity.TypeAchievementUnlock:  150,
	activity.TypeDailyLogin:         25,
	activity.TypeWeeklyStreak:       100,
	activity.TypeCommunityChallenge: 75,
}

// Bonus amounts added before multipliers.
const (
	FirstPlaceBonus  int64 = 500
	SecondPlaceBonus int64 = 300
	ThirdPlaceBonus  int64 = 200
	TopPercentBonus  int64 = 800

	// DefaultQualityScore applies to creative work submitted without a grade.
	DefaultQualityScore = 0.5
)

// Breakdown is the typed result of one calculation.
type Breakdown struct {
	BaseXP            int64   `json:"base_xp"`
	PlacementBonus    int64   `json:"placement_bonus"`
	SpeedBonus        int64   `json:"speed_bonus"`
	StreakMultiplier  float64 `json:"streak_multiplier"`
	QualityMultiplier float64 `json:"quality_multiplier"`
	Total             int64   `json:"total"`
}

// Calculator computes raw plus bonus XP for single activities.
type Calculator struct {
	base map[activity.Type]int64
}

// NewCalculator creates a calculator over a base table. A nil table uses DefaultBaseXP.
// Every known activity type must have a non-negative entry.
func NewCalculator(base map[activity.Type]int64) (*Calculator, error) {
	if base == nil {
		base = DefaultBaseXP
	}
	table := make(map[activity.Type]int64, len(base))
	for _, t := range activity.Types() {
		v, ok := base[t]
		if !ok {
			return nil, fmt.Errorf("scoring: no base xp for %s", t)
		}
		if v < 0 {
			return nil, fmt.Errorf("scoring: negative base xp for %s", t)
		}
		table[t] = v
	}
	return &Calculator{base: table}, nil
}

// MustCalculator is NewCalculator that panics on a broken table.
func MustCalculator(base map[activity.Type]int64) *Calculator {
	c, err := NewCalculator(base)
	if err != nil {
		panic(err)
	}
	return c
}

// BaseXP returns the table entry for t.
func (c *Calculator) BaseXP(t activity.Type) int64 {
	return c.base[t]
}

// Compute returns the XP for one activity. streakMultiplier replaces the
// context's multiplier when the caller resolved one; pass 0 to use the context.
func (c *Calculator) Compute(t activity.Type, ctx activity.Context, streakMultiplier float64) (Breakdown, error) {
	if !t.IsValid() {
		return Breakdown{}, shared.ErrUnknownActivityType
	}
	if err := ctx.Validate(); err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		BaseXP:            c.base[t],
		StreakMultiplier:  1.0,
		QualityMultiplier: 1.0,
	}

	switch ctx.PlacementValue() {
	case 1:
		b.PlacementBonus = FirstPlaceBonus
	case 2:
		b.PlacementBonus = SecondPlaceBonus
	case 3:
		b.PlacementBonus = ThirdPlaceBonus
	}
	if ctx.TopTenPercent {
		b.SpeedBonus = TopPercentBonus
	}

	switch {
	case streakMultiplier > 0:
		if streakMultiplier < 1 {
			return Breakdown{}, shared.ValidationError("scoring", "Compute", "streak multiplier must be >= 1, got %v", streakMultiplier)
		}
		b.StreakMultiplier = streakMultiplier
	case ctx.StreakMultiplier != nil:
		b.StreakMultiplier = *ctx.StreakMultiplier
	}

	if t.IsCreative() {
		q := DefaultQualityScore
		if ctx.QualityScore != nil {
			q = *ctx.QualityScore
		}
		b.QualityMultiplier = 1 + q
	}

	raw := float64(b.BaseXP+b.PlacementBonus+b.SpeedBonus) * b.StreakMultiplier * b.QualityMultiplier
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw > math.MaxInt64/2 {
		return Breakdown{}, shared.ComputationError("scoring", "Compute", fmt.Errorf("xp overflow: %v", raw))
	}
	b.Total = int64(math.Floor(raw))
	if b.Total < 0 {
		b.Total = 0
	}
	return b, nil
}
