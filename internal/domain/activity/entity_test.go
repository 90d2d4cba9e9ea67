package activity

import (
	"testing"
	"time"

	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestParseType(t *testing.T) {
	tp, err := ParseType("comment")
	require.NoError(t, err)
	assert.Equal(t, TypeComment, tp)

	_, err = ParseType("speedrun_of_doom")
	assert.True(t, shared.IsValidation(err))
	assert.ErrorIs(t, err, shared.ErrUnknownActivityType)

	assert.Len(t, Types(), 9)
	assert.True(t, TypeFanartCreation.IsCreative())
	assert.False(t, TypeScreenshotUpload.IsCreative())
}

func TestContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ctx     Context
		wantErr bool
	}{
		{"empty", Context{}, false},
		{"full", Context{Placement: intPtr(1), TopTenPercent: true, StreakMultiplier: floatPtr(1.5), QualityScore: floatPtr(1), CompletionPercentage: floatPtr(100), LikesReceived: 3}, false},
		{"zero placement", Context{Placement: intPtr(0)}, true},
		{"multiplier below one", Context{StreakMultiplier: floatPtr(0.9)}, true},
		{"quality above one", Context{QualityScore: floatPtr(1.01)}, true},
		{"negative quality", Context{QualityScore: floatPtr(-0.1)}, true},
		{"completion above 100", Context{CompletionPercentage: floatPtr(101)}, true},
		{"negative likes", Context{LikesReceived: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.Validate()
			if tt.wantErr {
				assert.True(t, shared.IsValidation(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewRecord_CopiesContext(t *testing.T) {
	placement := 2
	ctx := Context{Placement: &placement}
	rec, err := NewRecord("r-1", "p-1", TypeEventParticipation, time.Now(), 400, ctx)
	require.NoError(t, err)

	placement = 9
	assert.Equal(t, 2, rec.Context.PlacementValue())
}

func TestNewRecord_Rejects(t *testing.T) {
	now := time.Now()
	_, err := NewRecord("", "p-1", TypeComment, now, 10, Context{})
	assert.Error(t, err)
	_, err = NewRecord("r", " ", TypeComment, now, 10, Context{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
	_, err = NewRecord("r", "p-1", Type("x"), now, 10, Context{})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = NewRecord("r", "p-1", TypeComment, now, -1, Context{})
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
}

func TestTally_EventRun(t *testing.T) {
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	event := &Record{Type: TypeEventParticipation, OccurredAt: at}
	tally := NewTally()

	tally.Apply(event)
	tally.Apply(event)
	tally.Apply(event)
	assert.Equal(t, 3, tally.EventRun)

	tally.Apply(&Record{Type: TypeComment, OccurredAt: at})
	assert.Zero(t, tally.EventRun)

	tally.Apply(event)
	assert.Equal(t, 1, tally.EventRun)
	assert.Equal(t, 4, tally.Count(TypeEventParticipation))
}

func TestTally_ApplyMatchesRebuild(t *testing.T) {
	base := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	records := []*Record{
		{ID: "1", PlayerID: "p", Type: TypeEventParticipation, OccurredAt: base, Context: Context{Placement: intPtr(1), GameTitle: "Mario Kart 64"}},
		{ID: "2", PlayerID: "p", Type: TypeEventParticipation, OccurredAt: base.Add(24 * time.Hour), Context: Context{Placement: intPtr(12), GameTitle: "GoldenEye 007"}},
		{ID: "3", PlayerID: "p", Type: TypeFanartCreation, OccurredAt: base.Add(25 * time.Hour), Context: Context{Achievement: AchievementArtworkOfWeek, LikesReceived: 40}},
		{ID: "4", PlayerID: "p", Type: TypeAchievementUnlock, OccurredAt: base.Add(26 * time.Hour), Context: Context{CompletionPercentage: floatPtr(100), GameTitle: "Mario Kart 64"}},
	}

	inc := NewTally()
	for _, r := range records {
		inc.Apply(r)
	}
	rebuilt := Rebuild(records)

	assert.Equal(t, rebuilt, inc)
	assert.Equal(t, 4, inc.Records)
	assert.Equal(t, 2, inc.Count(TypeEventParticipation))
	assert.Equal(t, 1, inc.TopTenFinishes)
	assert.Equal(t, 1, inc.Wins)
	assert.EqualValues(t, 40, inc.LikesReceived)
	assert.Equal(t, 2, inc.DistinctGames())
	assert.Equal(t, 1, inc.FullCompletions)
	assert.Equal(t, 1, inc.AchievementCount(AchievementArtworkOfWeek))
	assert.Zero(t, inc.EventRun)
	assert.Equal(t, base, inc.FirstActivity)
	assert.Equal(t, base.Add(26*time.Hour), inc.LastActivity)
}

func TestTally_CloneIsDeep(t *testing.T) {
	orig := NewTally()
	orig.Apply(&Record{Type: TypeComment, OccurredAt: time.Now(), Context: Context{GameTitle: "F-Zero X"}})

	cp := orig.Clone()
	cp.Apply(&Record{Type: TypeComment, OccurredAt: time.Now(), Context: Context{GameTitle: "Star Fox 64"}})

	assert.Equal(t, 1, orig.Count(TypeComment))
	assert.Equal(t, 1, orig.DistinctGames())
	assert.Equal(t, 2, cp.Count(TypeComment))
}
