// Package command contains write operations (CQRS - Commands).
// Every command mutates player state under the player's lock, commits through
// the injected repository and only then touches leaderboards and events.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/battle64/points-engine/internal/domain/achievement"
	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/rank"
	"github.com/battle64/points-engine/internal/domain/scoring"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/pkg/timeutil"
	"github.com/google/uuid"
)

// Limits on free-form command fields.
const (
	MaxDisplayNameLength  = 64
	MaxSubmissionIDLength = 128
)

// MaxClockSkew is how far ahead of the engine clock OccurredAt may be.
const MaxClockSkew = 5 * time.Minute

// ══════════════════════════════════════════════════════════════════════════════
// AWARD POINTS COMMAND
// Turns one validated activity into XP, unlocks, a rank and leaderboard updates.
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsCommand contains one validated activity.
type AwardPointsCommand struct {
	// PlayerID is the external player id.
	PlayerID string

	// DisplayName is shown on leaderboards. Optional; the last non-empty value wins.
	DisplayName string

	// ActivityType is one of the known activity types.
	ActivityType string

	// Context carries placement, multipliers and the other scoring inputs.
	Context activity.Context

	// OccurredAt defaults to the engine clock.
	OccurredAt time.Time

	// SubmissionID makes the award idempotent when set.
	SubmissionID string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate checks the command and returns the parsed activity type.
func (c AwardPointsCommand) Validate() (activity.Type, error) {
	if _, err := shared.NewPlayerID(c.PlayerID); err != nil {
		return "", err
	}
	t, err := activity.ParseType(c.ActivityType)
	if err != nil {
		return "", err
	}
	if err := c.Context.Validate(); err != nil {
		return "", err
	}
	if utf8.RuneCountInString(c.DisplayName) > MaxDisplayNameLength {
		return "", shared.ValidationError("points", "Award", "display name longer than %d characters", MaxDisplayNameLength)
	}
	if len(c.SubmissionID) > MaxSubmissionIDLength || (c.SubmissionID != "" && strings.TrimSpace(c.SubmissionID) == "") {
		return "", shared.ValidationError("points", "Award", "invalid submission id")
	}
	return t, nil
}

// PointsResult is the outcome of an award. On failure it carries zero effect
// and a Failure describing why.
type PointsResult struct {
	PlayerID     string                    `json:"player_id"`
	RecordID     string                    `json:"record_id,omitempty"`
	XPEarned     int64                     `json:"xp_earned"`
	MedalsEarned []achievement.MedalResult `json:"medals_earned"`
	TitlesEarned []achievement.TitleResult `json:"titles_earned"`
	NewRank      string                    `json:"new_rank"`
	RankProgress float64                   `json:"rank_progress"`
	Details      PointsDetails             `json:"details"`
	Streak       player.StreakChange       `json:"streak"`
	Placements   []leaderboard.Placement   `json:"placements,omitempty"`
	Failure      *Failure                  `json:"failure,omitempty"`
}

// PointsDetails breaks the award down.
type PointsDetails struct {
	BaseXP             int64             `json:"base_xp"`
	Breakdown          scoring.Breakdown `json:"breakdown"`
	StreakBonusApplied bool              `json:"streak_bonus_applied"`
	MedalBonusXP       int64             `json:"medal_bonus_xp"`
	TotalXP            int64             `json:"total_xp"`
	DailyXPRemaining   int64             `json:"daily_xp_remaining"`
	PreviousRank       string            `json:"previous_rank,omitempty"`
	NextRank           string            `json:"next_rank,omitempty"`
	XPToNextRank       int64             `json:"xp_to_next_rank"`
}

// Failure describes why an award had no effect.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Failure kinds.
const (
	FailureValidation  = "validation"
	FailureDuplicate   = "duplicate"
	FailureComputation = "computation"
	FailurePersistence = "persistence"
	FailureTimeout     = "timeout"
)

// Succeeded reports whether the award took effect.
func (r *PointsResult) Succeeded() bool {
	return r != nil && r.Failure == nil
}

func failedResult(playerID string, err error) *PointsResult {
	kind := FailureComputation
	switch {
	case shared.IsValidation(err):
		kind = FailureValidation
	case shared.IsDuplicate(err):
		kind = FailureDuplicate
	case shared.IsPersistence(err):
		kind = FailurePersistence
	case errors.Is(err, shared.ErrTimeout):
		kind = FailureTimeout
	}
	return &PointsResult{
		PlayerID:     playerID,
		MedalsEarned: []achievement.MedalResult{},
		TitlesEarned: []achievement.TitleResult{},
		Failure:      &Failure{Kind: kind, Message: err.Error()},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsDeps are the collaborators of the handler.
type AwardPointsDeps struct {
	Players    player.Repository
	Calculator *scoring.Calculator
	Medals     *achievement.MedalEngine
	Titles     *achievement.TitleEngine
	Ladder     *rank.Ladder
	Boards     *leaderboard.Maintainer
	Locks      *PlayerLocks
	Publisher  shared.EventPublisher
	Logger     *slog.Logger
}

// AwardPointsHandlerConfig contains configuration for the handler.
type AwardPointsHandlerConfig struct {
	Settings shared.EngineSettings
	Calendar *timeutil.Calendar
	// NewID generates activity record ids.
	NewID func() string
}

// DefaultAwardPointsHandlerConfig returns default configuration.
func DefaultAwardPointsHandlerConfig() AwardPointsHandlerConfig {
	return AwardPointsHandlerConfig{
		Settings: shared.DefaultEngineSettings(),
		Calendar: timeutil.NewCalendar(time.UTC),
		NewID:    uuid.NewString,
	}
}

// AwardPointsHandler handles the AwardPointsCommand.
type AwardPointsHandler struct {
	deps     AwardPointsDeps
	settings shared.EngineSettings
	cap      player.DailyCap
	cal      *timeutil.Calendar
	newID    func() string
	logger   *slog.Logger
}

// NewAwardPointsHandler creates a new AwardPointsHandler.
func NewAwardPointsHandler(deps AwardPointsDeps, config AwardPointsHandlerConfig) *AwardPointsHandler {
	def := DefaultAwardPointsHandlerConfig()
	if config.Settings == (shared.EngineSettings{}) {
		config.Settings = def.Settings
	}
	if config.Calendar == nil {
		config.Calendar = def.Calendar
	}
	if config.NewID == nil {
		config.NewID = def.NewID
	}
	if deps.Calculator == nil {
		deps.Calculator = scoring.MustCalculator(nil)
	}
	if deps.Medals == nil {
		deps.Medals = achievement.NewMedalEngine()
	}
	if deps.Titles == nil {
		deps.Titles = achievement.NewTitleEngine()
	}
	if deps.Ladder == nil {
		deps.Ladder = rank.DefaultLadder()
	}
	if deps.Locks == nil {
		deps.Locks = NewPlayerLocks()
	}
	if deps.Boards == nil {
		deps.Boards = leaderboard.NewMaintainer(config.Settings.LeaderboardSize, config.Calendar)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AwardPointsHandler{
		deps:     deps,
		settings: config.Settings,
		cap:      player.NewDailyCap(config.Settings.DailyXPCap),
		cal:      config.Calendar,
		newID:    config.NewID,
		logger:   logger.With("handler", "award_points"),
	}
}

// Settings returns the settings the handler runs with.
func (h *AwardPointsHandler) Settings() shared.EngineSettings {
	return h.settings
}

// Handle executes the award. Errors always come with a zero-effect result.
func (h *AwardPointsHandler) Handle(ctx context.Context, cmd AwardPointsCommand) (*PointsResult, error) {
	cmd.PlayerID = strings.TrimSpace(cmd.PlayerID)
	cmd.DisplayName = strings.TrimSpace(cmd.DisplayName)

	typ, err := cmd.Validate()
	if err != nil {
		return failedResult(cmd.PlayerID, err), err
	}

	unlock, err := h.deps.Locks.Lock(ctx, cmd.PlayerID)
	if err != nil {
		return failedResult(cmd.PlayerID, err), err
	}
	result, events, err := h.awardLocked(ctx, cmd, typ)
	unlock()

	if err != nil {
		h.logFailure(cmd, err)
		return failedResult(cmd.PlayerID, err), err
	}

	h.publish(events, cmd.CorrelationID)

	h.logger.Debug("points awarded",
		"player_id", cmd.PlayerID,
		"activity_type", string(typ),
		"xp_earned", result.XPEarned,
		"medal_bonus_xp", result.Details.MedalBonusXP,
		"total_xp", result.Details.TotalXP,
	)
	return result, nil
}

// awardLocked runs the award sequence on a private copy of the account.
// Panics are turned into computation errors; nothing is committed then.
func (h *AwardPointsHandler) awardLocked(
	ctx context.Context,
	cmd AwardPointsCommand,
	typ activity.Type,
) (result *PointsResult, events []shared.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, events = nil, nil
			err = shared.ComputationError("points", "Award", fmt.Errorf("panic: %v", r))
		}
	}()

	now := h.cal.Now()
	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	day, today := h.cal.DateOf(occurredAt), h.cal.Today()
	if err := checkOccurredAt(occurredAt, now, day, today); err != nil {
		return nil, nil, err
	}

	// 1. Account (lazy)
	stored, err := h.deps.Players.Get(ctx, cmd.PlayerID)
	switch {
	case err == nil:
	case shared.IsNotFound(err):
		stored, err = player.NewAccount(cmd.PlayerID, now)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, shared.PersistenceError("points", "LoadAccount", err)
	}
	acct := stored.Clone()
	if acct.CurrentRank == "" {
		acct.CurrentRank = h.deps.Ladder.Resolve(acct.TotalXP).Tier.Name
	}

	// 2. Idempotency
	var fingerprint string
	if cmd.SubmissionID != "" {
		fingerprint = SubmissionFingerprint(cmd.PlayerID, cmd.SubmissionID)
		if acct.HasSubmission(fingerprint) {
			return nil, nil, shared.ErrSubmissionProcessed
		}
	}

	// 3. XP
	var multiplier float64
	streakBonus := h.settings.ApplyStreakBonus &&
		cmd.Context.StreakMultiplier == nil &&
		acct.Streak(typ).Continues(day)
	if streakBonus {
		multiplier = h.settings.StreakBonusFactor
	}
	breakdown, err := h.deps.Calculator.Compute(typ, cmd.Context, multiplier)
	if err != nil {
		if shared.IsValidation(err) {
			return nil, nil, err
		}
		return nil, nil, shared.ComputationError("points", "Compute", err)
	}

	// 4. Daily cap
	credited := h.cap.Apply(acct, day, breakdown.Total)

	// 5. Ledger
	rec, err := activity.NewRecord(h.newID(), cmd.PlayerID, typ, occurredAt, credited, cmd.Context)
	if err != nil {
		return nil, nil, err
	}
	acct.Append(rec, today)
	if cmd.DisplayName != "" {
		acct.DisplayName = cmd.DisplayName
	}

	// 6. Medals; bonuses bypass the cap unless configured otherwise
	var medalBonus int64
	medals := h.deps.Medals.Evaluate(acct.HasMedal, achievement.MedalInput{Record: rec, Tally: acct.Tally})
	for i, m := range medals {
		acct.GrantMedal(m.ID, occurredAt)
		bonus := m.BonusXP
		if !h.settings.MedalBonusBypassesCap {
			bonus = h.cap.Apply(acct, day, bonus)
		}
		acct.AddXP(bonus)
		medals[i].BonusXP = bonus
		medalBonus += bonus
	}

	// 7. Titles
	titles := h.deps.Titles.Evaluate(acct.HasTitle, achievement.TitleInput{
		Tally:    acct.Tally,
		Now:      now,
		Location: h.cal.Location(),
	})
	for _, t := range titles {
		acct.GrantTitle(t.ID, occurredAt)
	}

	// 8. Rank
	previousRank := acct.CurrentRank
	position := h.deps.Ladder.Resolve(acct.TotalXP)
	acct.CurrentRank = position.Tier.Name

	// 9. Streak
	streak := acct.RecordStreak(typ, day)

	if fingerprint != "" {
		acct.RememberSubmission(fingerprint, now)
	}
	acct.UpdatedAt = now

	// 10. Commit
	if err := h.deps.Players.CommitAward(ctx, acct, rec); err != nil {
		return nil, nil, shared.PersistenceError("points", "CommitAward", err)
	}

	// 11. Leaderboards
	placements := h.deps.Boards.Record(acct.ID, acct.DisplayName, acct.TotalXP, occurredAt)

	result = &PointsResult{
		PlayerID:     acct.ID,
		RecordID:     rec.ID,
		XPEarned:     credited,
		MedalsEarned: nonNilMedals(medals),
		TitlesEarned: nonNilTitles(titles),
		NewRank:      position.Tier.Name,
		RankProgress: position.Progress,
		Streak:       streak,
		Placements:   placements,
		Details: PointsDetails{
			BaseXP:             breakdown.BaseXP,
			Breakdown:          breakdown,
			StreakBonusApplied: streakBonus,
			MedalBonusXP:       medalBonus,
			TotalXP:            acct.TotalXP,
			DailyXPRemaining:   h.cap.Remaining(acct, today),
			XPToNextRank:       position.XPToNext,
		},
	}
	if position.Next != nil {
		result.Details.NextRank = position.Next.Name
	}
	if previousRank != position.Tier.Name {
		result.Details.PreviousRank = previousRank
	}

	events = h.buildEvents(acct, rec, result, previousRank, occurredAt)
	return result, events, nil
}

// checkOccurredAt rejects awards dated in the future or on a day whose
// cap accumulator is no longer kept.
func checkOccurredAt(at, now time.Time, day, today timeutil.Date) error {
	if at.After(now.Add(MaxClockSkew)) {
		return shared.ValidationError("points", "Award", "occurred_at %s is in the future", at.Format(time.RFC3339))
	}
	if !player.Tracked(day, today) {
		return shared.ValidationError("points", "Award", "occurred_at %s is older than %d days", at.Format(time.RFC3339), player.DailyXPRetentionDays)
	}
	return nil
}

func (h *AwardPointsHandler) buildEvents(
	acct *player.Account,
	rec *activity.Record,
	r *PointsResult,
	previousRank string,
	at time.Time,
) []shared.Event {
	events := []shared.Event{
		shared.NewPointsAwardedEvent(acct.ID, string(rec.Type), r.XPEarned, r.Details.MedalBonusXP, acct.TotalXP, at),
	}
	for _, m := range r.MedalsEarned {
		events = append(events, shared.NewMedalUnlockedEvent(acct.ID, m.ID, m.BonusXP, at))
	}
	for _, t := range r.TitlesEarned {
		events = append(events, shared.NewTitleUnlockedEvent(acct.ID, t.ID, at))
	}
	if previousRank != r.NewRank {
		events = append(events, shared.NewRankTierChangedEvent(acct.ID, previousRank, r.NewRank, acct.TotalXP, at))
	}
	for _, p := range r.Placements {
		if p.Entered {
			events = append(events, shared.NewEnteredLeaderboardEvent(acct.ID, p.Scope, p.Position, at))
		}
	}
	return events
}

// publish sends events after the award is committed. Delivery failures are
// logged; the award stands.
func (h *AwardPointsHandler) publish(events []shared.Event, correlationID string) {
	if h.deps.Publisher == nil {
		return
	}
	for _, e := range events {
		if correlationID != "" {
			e = withCorrelation(e, correlationID)
		}
		if err := h.deps.Publisher.Publish(e); err != nil {
			h.logger.Warn("failed to publish event",
				"event_type", string(e.EventType()),
				"player_id", e.AggregateID(),
				"error", err,
			)
		}
	}
}

func (h *AwardPointsHandler) logFailure(cmd AwardPointsCommand, err error) {
	attrs := []any{
		"player_id", cmd.PlayerID,
		"activity_type", cmd.ActivityType,
		"error", err,
	}
	switch {
	case shared.IsDuplicate(err):
		h.logger.Info("duplicate submission ignored", attrs...)
	case shared.IsPersistence(err):
		h.logger.Warn("award not committed", attrs...)
	default:
		h.logger.Error("award aborted", attrs...)
	}
}

func withCorrelation(e shared.Event, id string) shared.Event {
	switch ev := e.(type) {
	case shared.PointsAwardedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.MedalUnlockedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.TitleUnlockedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.RankTierChangedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.EnteredLeaderboardEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	}
	return e
}

func nonNilMedals(m []achievement.MedalResult) []achievement.MedalResult {
	if m == nil {
		return []achievement.MedalResult{}
	}
	return m
}

func nonNilTitles(t []achievement.TitleResult) []achievement.TitleResult {
	if t == nil {
		return []achievement.TitleResult{}
	}
	return t
}
