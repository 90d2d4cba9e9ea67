// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each is published after the award that caused it is committed.
const (
	// Points events
	EventPointsAwarded EventType = "points.awarded"

	// Achievement events
	EventMedalUnlocked EventType = "achievement.medal_unlocked"
	EventTitleUnlocked EventType = "achievement.title_unlocked"

	// Progression events
	EventRankTierChanged EventType = "progress.rank_tier_changed"

	// Leaderboard events
	EventEnteredLeaderboard EventType = "leaderboard.entered"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// Correlation returns the correlation ID, empty when none was set.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Points Events
// ═══════════════════════════════════════════════════════════════════════════

// PointsAwardedEvent is emitted for every committed award.
type PointsAwardedEvent struct {
	BaseEvent
	PlayerID     string `json:"player_id"`
	ActivityType string `json:"activity_type"`
	XPEarned     int64  `json:"xp_earned"`
	BonusXP      int64  `json:"bonus_xp"`
	TotalXP      int64  `json:"total_xp"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"player_id":     e.PlayerID,
		"activity_type": e.ActivityType,
		"xp_earned":     e.XPEarned,
		"bonus_xp":      e.BonusXP,
		"total_xp":      e.TotalXP,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(playerID, activityType string, earned, bonus, total int64, at time.Time) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent:    NewBaseEvent(EventPointsAwarded, playerID, at),
		PlayerID:     playerID,
		ActivityType: activityType,
		XPEarned:     earned,
		BonusXP:      bonus,
		TotalXP:      total,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// MedalUnlockedEvent is emitted once per player and medal.
type MedalUnlockedEvent struct {
	BaseEvent
	PlayerID string `json:"player_id"`
	MedalID  string `json:"medal_id"`
	BonusXP  int64  `json:"bonus_xp"`
}

// Payload implements Event interface.
func (e MedalUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"player_id": e.PlayerID,
		"medal_id":  e.MedalID,
		"bonus_xp":  e.BonusXP,
	}
}

// NewMedalUnlockedEvent creates a new MedalUnlockedEvent.
func NewMedalUnlockedEvent(playerID, medalID string, bonus int64, at time.Time) MedalUnlockedEvent {
	return MedalUnlockedEvent{
		BaseEvent: NewBaseEvent(EventMedalUnlocked, playerID, at),
		PlayerID:  playerID,
		MedalID:   medalID,
		BonusXP:   bonus,
	}
}

// TitleUnlockedEvent is emitted once per player and title.
type TitleUnlockedEvent struct {
	BaseEvent
	PlayerID string `json:"player_id"`
	TitleID  string `json:"title_id"`
}

// Payload implements Event interface.
func (e TitleUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"player_id": e.PlayerID,
		"title_id":  e.TitleID,
	}
}

// NewTitleUnlockedEvent creates a new TitleUnlockedEvent.
func NewTitleUnlockedEvent(playerID, titleID string, at time.Time) TitleUnlockedEvent {
	return TitleUnlockedEvent{
		BaseEvent: NewBaseEvent(EventTitleUnlocked, playerID, at),
		PlayerID:  playerID,
		TitleID:   titleID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// RankTierChangedEvent is emitted when an award moves a player into a new tier.
type RankTierChangedEvent struct {
	BaseEvent
	PlayerID string `json:"player_id"`
	OldTier  string `json:"old_tier"`
	NewTier  string `json:"new_tier"`
	TotalXP  int64  `json:"total_xp"`
}

// Payload implements Event interface.
func (e RankTierChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"player_id": e.PlayerID,
		"old_tier":  e.OldTier,
		"new_tier":  e.NewTier,
		"total_xp":  e.TotalXP,
	}
}

// NewRankTierChangedEvent creates a new RankTierChangedEvent.
func NewRankTierChangedEvent(playerID, oldTier, newTier string, total int64, at time.Time) RankTierChangedEvent {
	return RankTierChangedEvent{
		BaseEvent: NewBaseEvent(EventRankTierChanged, playerID, at),
		PlayerID:  playerID,
		OldTier:   oldTier,
		NewTier:   newTier,
		TotalXP:   total,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard Events
// ═══════════════════════════════════════════════════════════════════════════

// EnteredLeaderboardEvent is emitted when a player appears on a board for the first time
// or after having been evicted from it.
type EnteredLeaderboardEvent struct {
	BaseEvent
	PlayerID string `json:"player_id"`
	Scope    string `json:"scope"`
	Position int    `json:"position"`
}

// Payload implements Event interface.
func (e EnteredLeaderboardEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"player_id": e.PlayerID,
		"scope":     e.Scope,
		"position":  e.Position,
	}
}

// NewEnteredLeaderboardEvent creates a new EnteredLeaderboardEvent.
func NewEnteredLeaderboardEvent(playerID, scope string, position int, at time.Time) EnteredLeaderboardEvent {
	return EnteredLeaderboardEvent{
		BaseEvent: NewBaseEvent(EventEnteredLeaderboard, playerID, at),
		PlayerID:  playerID,
		Scope:     scope,
		Position:  position,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
