package scoring

import (
	"testing"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestCompute(t *testing.T) {
	calc := MustCalculator(nil)

	tests := []struct {
		name string
		typ  activity.Type
		ctx  activity.Context
		want int64
	}{
		{"comment", activity.TypeComment, activity.Context{}, 10},
		{"event first place with top percent", activity.TypeEventParticipation,
			activity.Context{Placement: intPtr(1), TopTenPercent: true, StreakMultiplier: floatPtr(1.0)}, 1400},
		{"event second place", activity.TypeEventParticipation, activity.Context{Placement: intPtr(2)}, 400},
		{"event third place", activity.TypeEventParticipation, activity.Context{Placement: intPtr(3)}, 300},
		{"fourth place has no bonus", activity.TypeEventParticipation, activity.Context{Placement: intPtr(4)}, 100},
		{"placement bonus applies to any type", activity.TypeCommunityChallenge, activity.Context{Placement: intPtr(1)}, 575},
		{"streak multiplier floors", activity.TypeDailyLogin, activity.Context{StreakMultiplier: floatPtr(1.1)}, 27},
		{"fanart default quality", activity.TypeFanartCreation, activity.Context{}, 300},
		{"fanart perfect quality with streak", activity.TypeFanartCreation,
			activity.Context{QualityScore: floatPtr(1), StreakMultiplier: floatPtr(1.5)}, 600},
		{"fanart zero quality", activity.TypeFanartCreation, activity.Context{QualityScore: floatPtr(0)}, 200},
		{"quality ignored for non-creative", activity.TypeScreenshotUpload, activity.Context{QualityScore: floatPtr(1)}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := calc.Compute(tt.typ, tt.ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Total)
		})
	}
}

func TestCompute_Breakdown(t *testing.T) {
	calc := MustCalculator(nil)

	b, err := calc.Compute(activity.TypeEventParticipation, activity.Context{Placement: intPtr(1), TopTenPercent: true}, 0)
	require.NoError(t, err)
	assert.Equal(t, Breakdown{
		BaseXP:            100,
		PlacementBonus:    500,
		SpeedBonus:        800,
		StreakMultiplier:  1,
		QualityMultiplier: 1,
		Total:             1400,
	}, b)
}

func TestCompute_ResolvedMultiplierOverridesContext(t *testing.T) {
	calc := MustCalculator(nil)

	b, err := calc.Compute(activity.TypeWeeklyStreak, activity.Context{StreakMultiplier: floatPtr(2)}, 1.1)
	require.NoError(t, err)
	assert.Equal(t, int64(110), b.Total)

	_, err = calc.Compute(activity.TypeWeeklyStreak, activity.Context{}, 0.5)
	assert.True(t, shared.IsValidation(err))
}

func TestCompute_RejectsMalformedInput(t *testing.T) {
	calc := MustCalculator(nil)

	_, err := calc.Compute(activity.Type("unknown"), activity.Context{}, 0)
	assert.True(t, shared.IsValidation(err))

	_, err = calc.Compute(activity.TypeFanartCreation, activity.Context{QualityScore: floatPtr(2)}, 0)
	assert.True(t, shared.IsValidation(err))
}

func TestNewCalculator_RequiresCompleteTable(t *testing.T) {
	_, err := NewCalculator(map[activity.Type]int64{activity.TypeComment: 10})
	assert.Error(t, err)

	table := make(map[activity.Type]int64, len(DefaultBaseXP))
	for k, v := range DefaultBaseXP {
		table[k] = v
	}
	table[activity.TypeLike] = -5
	_, err = NewCalculator(table)
	assert.Error(t, err)
}
