package activity

import "time"

// Tally is an incremental summary of a player's ledger. Unlock predicates read the
// tally instead of rescanning history; Rebuild derives the same tally from the
// full history, so unlock timing is identical either way.
type Tally struct {
	Records         int            `json:"records"`
	ByType          map[Type]int   `json:"by_type"`
	TopTenFinishes  int            `json:"top_ten_finishes"`
	Wins            int            `json:"wins"`
	LikesReceived   int64          `json:"likes_received"`
	Games           map[string]int `json:"games"`
	FullCompletions int            `json:"full_completions"`
	Achievements    map[string]int `json:"achievements"`
	FirstActivity   time.Time      `json:"first_activity"`
	LastActivity    time.Time      `json:"last_activity"`

	// EventRun counts event participations since the last award of any
	// other type.
	EventRun int `json:"event_run"`
}

// NewTally returns an empty tally.
func NewTally() Tally {
	return Tally{
		ByType:       make(map[Type]int),
		Games:        make(map[string]int),
		Achievements: make(map[string]int),
	}
}

// Apply folds one record into the tally.
func (t *Tally) Apply(r *Record) {
	t.ensureMaps()

	t.Records++
	t.ByType[r.Type]++

	c := r.Context
	if c.IsTopTenFinish() {
		t.TopTenFinishes++
	}
	if c.IsWin() {
		t.Wins++
	}
	t.LikesReceived += int64(c.LikesReceived)
	if c.GameTitle != "" {
		t.Games[c.GameTitle]++
	}
	if c.IsFullCompletion() {
		t.FullCompletions++
	}
	if c.Achievement != "" {
		t.Achievements[c.Achievement]++
	}

	if t.FirstActivity.IsZero() || r.OccurredAt.Before(t.FirstActivity) {
		t.FirstActivity = r.OccurredAt
	}
	if r.OccurredAt.After(t.LastActivity) {
		t.LastActivity = r.OccurredAt
	}

	if r.Type == TypeEventParticipation {
		t.EventRun++
	} else {
		t.EventRun = 0
	}
}

func (t *Tally) ensureMaps() {
	if t.ByType == nil {
		t.ByType = make(map[Type]int)
	}
	if t.Games == nil {
		t.Games = make(map[string]int)
	}
	if t.Achievements == nil {
		t.Achievements = make(map[string]int)
	}
}

// Count returns the number of records of type tp.
func (t Tally) Count(tp Type) int {
	return t.ByType[tp]
}

// DistinctGames returns how many different games appear in the history.
func (t Tally) DistinctGames() int {
	return len(t.Games)
}

// AchievementCount returns how often the named achievement was reported.
func (t Tally) AchievementCount(name string) int {
	return t.Achievements[name]
}

// Clone returns a deep copy.
func (t Tally) Clone() Tally {
	out := t
	out.ByType = make(map[Type]int, len(t.ByType))
	for k, v := range t.ByType {
		out.ByType[k] = v
	}
	out.Games = make(map[string]int, len(t.Games))
	for k, v := range t.Games {
		out.Games[k] = v
	}
	out.Achievements = make(map[string]int, len(t.Achievements))
	for k, v := range t.Achievements {
		out.Achievements[k] = v
	}
	return out
}

// Rebuild derives a tally from records in ledger order.
func Rebuild(records []*Record) Tally {
	t := NewTally()
	for _, r := range records {
		t.Apply(r)
	}
	return t
}
