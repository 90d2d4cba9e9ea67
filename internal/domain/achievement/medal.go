// Package achievement holds the medal and title registries and the engines that
// decide which of them a player newly unlocks. Engines never mutate players:
// they return typed results and the caller grants them.
package achievement

import (
	"github.com/battle64/points-engine/internal/domain/activity"
)

// Medal thresholds.
const (
	CreativeFanartCount   = 3
	SocialCommentCount    = 50
	PersistentEventStreak = 5
)

// MedalInput is what medal conditions see: the record just appended and the
// ledger tally that already includes it.
type MedalInput struct {
	Record *activity.Record
	Tally  activity.Tally
}

// Medal describes a one-time achievement with a flat XP bonus.
type Medal struct {
	ID          string
	Name        string
	Requirement string
	BonusXP     int64
	// Condition reports whether the medal is earned given the input.
	Condition func(MedalInput) bool
}

// MedalResult is one newly unlocked medal.
type MedalResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BonusXP int64  `json:"bonus_xp"`
}

// DefaultMedals returns the stock medal set in evaluation order.
func DefaultMedals() []Medal {
	placement := func(n int) func(MedalInput) bool {
		return func(in MedalInput) bool { return in.Record.Context.PlacementValue() == n }
	}
	return []Medal{
		{ID: "gold", Name: "Gold Medal", Requirement: "1st place", BonusXP: 1000, Condition: placement(1)},
		{ID: "silver", Name: "Silver Medal", Requirement: "2nd place", BonusXP: 600, Condition: placement(2)},
		{ID: "bronze", Name: "Bronze Medal", Requirement: "3rd place", BonusXP: 400, Condition: placement(3)},
		{
			ID: "participation", Name: "Participation", Requirement: "Event completion", BonusXP: 50,
			Condition: func(in MedalInput) bool { return in.Record.Type == activity.TypeEventParticipation },
		},
		{
			ID: "speed_demon", Name: "Speed Demon", Requirement: "Top 10% time", BonusXP: 800,
			Condition: func(in MedalInput) bool { return in.Record.Context.TopTenPercent },
		},
		{
			ID: "persistent", Name: "Persistent", Requirement: "5 events in a row", BonusXP: 300,
			Condition: func(in MedalInput) bool {
				return in.Record.Type == activity.TypeEventParticipation && in.Tally.EventRun >= PersistentEventStreak
			},
		},
		{
			ID: "creative", Name: "Creative", Requirement: "3 fanart pieces", BonusXP: 500,
			Condition: func(in MedalInput) bool { return in.Tally.Count(activity.TypeFanartCreation) >= CreativeFanartCount },
		},
		{
			ID: "social", Name: "Social", Requirement: "50 comments", BonusXP: 200,
			Condition: func(in MedalInput) bool { return in.Tally.Count(activity.TypeComment) >= SocialCommentCount },
		},
	}
}

// MedalEngine evaluates the medal registry.
type MedalEngine struct {
	registry []Medal
	byID     map[string]Medal
}

// NewMedalEngine creates an engine over medals, or DefaultMedals when none are given.
func NewMedalEngine(medals ...Medal) *MedalEngine {
	if len(medals) == 0 {
		medals = DefaultMedals()
	}
	e := &MedalEngine{registry: medals, byID: make(map[string]Medal, len(medals))}
	for _, m := range medals {
		e.byID[m.ID] = m
	}
	return e
}

// Registry returns a shallow copy of all registered medals.
func (e *MedalEngine) Registry() []Medal {
	out := make([]Medal, len(e.registry))
	copy(out, e.registry)
	return out
}

// Lookup returns the medal with the given id.
func (e *MedalEngine) Lookup(id string) (Medal, bool) {
	m, ok := e.byID[id]
	return m, ok
}

// Evaluate returns every medal not yet held whose condition passes.
func (e *MedalEngine) Evaluate(held func(id string) bool, in MedalInput) []MedalResult {
	var out []MedalResult
	for _, m := range e.registry {
		if held(m.ID) {
			continue
		}
		if m.Condition(in) {
			out = append(out, MedalResult{ID: m.ID, Name: m.Name, BonusXP: m.BonusXP})
		}
	}
	return out
}
