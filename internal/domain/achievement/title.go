package achievement

import (
	"time"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/pkg/timeutil"
)

// Title thresholds.
const (
	SpeedrunnerTopTenFinishes = 10
	CollectorAchievements     = 100
	VeteranDays               = 365
	ChampionWins              = 5
	CommunityLeaderLikes      = 1000
	ExplorerGames             = 50
	PerfectionistCompletions  = 10
	PixelArtistArtworks       = 3
)

// TitleInput is what title conditions see. Titles look only at long-horizon
// history and the current time, never at the award that triggered evaluation.
type TitleInput struct {
	Tally    activity.Tally
	Now      time.Time
	Location *time.Location
}

// Title describes a long-horizon status marker. Titles carry no XP.
type Title struct {
	ID          string
	Name        string
	Requirement string
	Condition   func(TitleInput) bool
}

// TitleResult is one newly unlocked title.
type TitleResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultTitles returns the stock title set.
func DefaultTitles() []Title {
	return []Title{
		{
			ID: "pixel_artist", Name: "Pixel Artist", Requirement: "3x Artwork of the Week",
			Condition: func(in TitleInput) bool {
				return in.Tally.AchievementCount(activity.AchievementArtworkOfWeek) >= PixelArtistArtworks
			},
		},
		{
			ID: "speedrunner", Name: "Speedrunner", Requirement: "10 top 10 finishes",
			Condition: func(in TitleInput) bool { return in.Tally.TopTenFinishes >= SpeedrunnerTopTenFinishes },
		},
		{
			ID: "collector", Name: "Collector", Requirement: "100 achievements",
			Condition: func(in TitleInput) bool {
				return in.Tally.Count(activity.TypeAchievementUnlock) >= CollectorAchievements
			},
		},
		{
			ID: "veteran", Name: "Veteran", Requirement: "1 year membership",
			Condition: func(in TitleInput) bool {
				if in.Tally.FirstActivity.IsZero() {
					return false
				}
				loc := in.Location
				if loc == nil {
					loc = time.UTC
				}
				first := timeutil.DateOf(in.Tally.FirstActivity, loc)
				return timeutil.DaysBetween(first, timeutil.DateOf(in.Now, loc)) >= VeteranDays
			},
		},
		{
			ID: "champion", Name: "Champion", Requirement: "5 event wins",
			Condition: func(in TitleInput) bool { return in.Tally.Wins >= ChampionWins },
		},
		{
			ID: "community_leader", Name: "Community Leader", Requirement: "1000 likes received",
			Condition: func(in TitleInput) bool { return in.Tally.LikesReceived >= CommunityLeaderLikes },
		},
		{
			ID: "explorer", Name: "Explorer", Requirement: "50 different games played",
			Condition: func(in TitleInput) bool { return in.Tally.DistinctGames() >= ExplorerGames },
		},
		{
			ID: "perfectionist", Name: "Perfectionist", Requirement: "10 100% completions",
			Condition: func(in TitleInput) bool { return in.Tally.FullCompletions >= PerfectionistCompletions },
		},
	}
}

// TitleEngine evaluates the title registry.
type TitleEngine struct {
	registry []Title
	byID     map[string]Title
}

// NewTitleEngine creates an engine over titles, or DefaultTitles when none are given.
func NewTitleEngine(titles ...Title) *TitleEngine {
	if len(titles) == 0 {
		titles = DefaultTitles()
	}
	e := &TitleEngine{registry: titles, byID: make(map[string]Title, len(titles))}
	for _, t := range titles {
		e.byID[t.ID] = t
	}
	return e
}

// Registry returns a shallow copy of all registered titles.
func (e *TitleEngine) Registry() []Title {
	out := make([]Title, len(e.registry))
	copy(out, e.registry)
	return out
}

// Lookup returns the title with the given id.
func (e *TitleEngine) Lookup(id string) (Title, bool) {
	t, ok := e.byID[id]
	return t, ok
}

// Evaluate returns every title not yet held whose condition passes.
func (e *TitleEngine) Evaluate(held func(id string) bool, in TitleInput) []TitleResult {
	var out []TitleResult
	for _, t := range e.registry {
		if held(t.ID) {
			continue
		}
		if t.Condition(in) {
			out = append(out, TitleResult{ID: t.ID, Name: t.Name})
		}
	}
	return out
}
