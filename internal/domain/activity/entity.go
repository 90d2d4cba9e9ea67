// Package activity contains the scored activity types, the context payload
// upstream validators attach to an activity, and the immutable ledger record.
// This is a pure domain layer with zero external dependencies.
package activity

import (
	"math"
	"sort"
	"time"

	"github.com/battle64/points-engine/internal/domain/shared"
)

// Type identifies a scored activity.
type Type string

const (
	TypeEventParticipation Type = "event_participation"
	TypeScreenshotUpload   Type = "screenshot_upload"
	TypeFanartCreation     Type = "fanart_creation"
	TypeComment            Type = "comment"
	TypeLike               Type = "like"
	TypeAchievementUnlock  Type = "achievement_unlock"
	TypeDailyLogin         Type = "daily_login"
	TypeWeeklyStreak       Type = "weekly_streak"
	TypeCommunityChallenge Type = "community_challenge"
)

var knownTypes = map[Type]struct{}{
	TypeEventParticipation: {},
	TypeScreenshotUpload:   {},
	TypeFanartCreation:     {},
	TypeComment:            {},
	TypeLike:               {},
	TypeAchievementUnlock:  {},
	TypeDailyLogin:         {},
	TypeWeeklyStreak:       {},
	TypeCommunityChallenge: {},
}

// Types returns every known activity type in lexical order.
func Types() []Type {
	out := make([]Type, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsValid reports whether t is a known activity type.
func (t Type) IsValid() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsCreative reports whether quality scoring applies to t.
func (t Type) IsCreative() bool {
	return t == TypeFanartCreation
}

// String returns the string representation of Type.
func (t Type) String() string {
	return string(t)
}

// ParseType validates a raw activity type.
func ParseType(raw string) (Type, error) {
	t := Type(raw)
	if !t.IsValid() {
		return "", shared.WrapError("activity", "ParseType", shared.ErrValidation, "unknown activity type "+raw, shared.ErrUnknownActivityType)
	}
	return t, nil
}

// Achievement markers carried in Context.Achievement.
const (
	AchievementArtworkOfWeek = "artwork_of_week"
)

// Context is the typed payload attached to an activity by upstream validators.
// Every field is optional; absent pointers mean "not reported".
type Context struct {
	// Placement is the finishing position in an event, 1-based.
	Placement *int `json:"placement,omitempty"`

	// TopTenPercent marks a time within the top 10% of an event.
	TopTenPercent bool `json:"is_top_10_percent,omitempty"`

	// StreakMultiplier scales the award, >= 1.0. Defaults to 1.0.
	StreakMultiplier *float64 `json:"streak_multiplier,omitempty"`

	// QualityScore grades creative work in [0, 1].
	QualityScore *float64 `json:"quality_score,omitempty"`

	// Achievement is a named recognition such as "artwork_of_week".
	Achievement string `json:"achievement,omitempty"`

	// LikesReceived counts likes the player's content received with this activity.
	LikesReceived int `json:"likes_received,omitempty"`

	// GameTitle names the game the activity was performed in.
	GameTitle string `json:"game_title,omitempty"`

	// CompletionPercentage is the reported completion in [0, 100].
	CompletionPercentage *float64 `json:"completion_percentage,omitempty"`
}

// Validate checks every reported field for range and sanity.
func (c Context) Validate() error {
	const op = "ValidateContext"
	if c.Placement != nil && *c.Placement < 1 {
		return shared.ValidationError("activity", op, "placement must be >= 1, got %d", *c.Placement)
	}
	if c.StreakMultiplier != nil {
		m := *c.StreakMultiplier
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 1 {
			return shared.ValidationError("activity", op, "streak_multiplier must be a finite value >= 1, got %v", m)
		}
	}
	if c.QualityScore != nil {
		q := *c.QualityScore
		if math.IsNaN(q) || q < 0 || q > 1 {
			return shared.ValidationError("activity", op, "quality_score must be within [0, 1], got %v", q)
		}
	}
	if c.CompletionPercentage != nil {
		p := *c.CompletionPercentage
		if math.IsNaN(p) || p < 0 || p > 100 {
			return shared.ValidationError("activity", op, "completion_percentage must be within [0, 100], got %v", p)
		}
	}
	if c.LikesReceived < 0 {
		return shared.ValidationError("activity", op, "likes_received must be >= 0, got %d", c.LikesReceived)
	}
	return nil
}

// Clone returns a copy that shares no memory with c.
func (c Context) Clone() Context {
	out := c
	if c.Placement != nil {
		v := *c.Placement
		out.Placement = &v
	}
	out.StreakMultiplier = cloneFloat(c.StreakMultiplier)
	out.QualityScore = cloneFloat(c.QualityScore)
	out.CompletionPercentage = cloneFloat(c.CompletionPercentage)
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// PlacementValue returns the placement or 0 when absent.
func (c Context) PlacementValue() int {
	if c.Placement == nil {
		return 0
	}
	return *c.Placement
}

// IsTopTenFinish reports a placement between 1 and 10.
func (c Context) IsTopTenFinish() bool {
	p := c.PlacementValue()
	return p >= 1 && p <= 10
}

// IsWin reports a first place.
func (c Context) IsWin() bool {
	return c.PlacementValue() == 1
}

// IsFullCompletion reports a 100% completion.
func (c Context) IsFullCompletion() bool {
	return c.CompletionPercentage != nil && *c.CompletionPercentage == 100
}

// Record is one scored activity. It is immutable once appended to the ledger.
type Record struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"player_id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	XPEarned   int64     `json:"xp_earned"`
	Context    Context   `json:"context"`
}

// NewRecord creates a validated ledger record.
func NewRecord(id, playerID string, t Type, occurredAt time.Time, xp int64, ctx Context) (*Record, error) {
	const op = "NewRecord"
	if id == "" {
		return nil, shared.ValidationError("activity", op, "record id must not be empty")
	}
	if !shared.PlayerID(playerID).IsValid() {
		return nil, shared.ErrInvalidPlayerID
	}
	if !t.IsValid() {
		return nil, shared.ErrUnknownActivityType
	}
	if occurredAt.IsZero() {
		return nil, shared.ValidationError("activity", op, "occurred_at must be set")
	}
	if xp < 0 {
		return nil, shared.NewDomainError("activity", op, shared.ErrNegativeValue, "xp_earned must be non-negative")
	}
	if err := ctx.Validate(); err != nil {
		return nil, err
	}

	return &Record{
		ID:         id,
		PlayerID:   playerID,
		Type:       t,
		OccurredAt: occurredAt,
		XPEarned:   xp,
		Context:    ctx.Clone(),
	}, nil
}
