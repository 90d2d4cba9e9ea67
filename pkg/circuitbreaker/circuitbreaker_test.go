package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	var transitions []string

	b := New(Settings{
		Name:     "players",
		Failures: 2,
		Cooldown: 5 * time.Second,
		Now:      func() time.Time { return now },
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()
	fail := func(context.Context) error { return errors.New("conn refused") }
	ok := func(context.Context) error { return nil }

	assert.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, StateClosed, b.State())
	assert.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
	assert.ErrorIs(t, b.Check(ctx), ErrOpen)

	now = now.Add(6 * time.Second)
	assert.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Check(ctx))
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	b := New(Settings{Failures: 1, Cooldown: time.Second, Now: func() time.Time { return now }})
	ctx := context.Background()
	fail := func(context.Context) error { return errors.New("conn refused") }

	assert.Error(t, b.Execute(ctx, fail))
	now = now.Add(2 * time.Second)
	assert.EqualError(t, b.Execute(ctx, fail), "conn refused")
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, fail), ErrOpen)
}

func TestBreaker_SingleTrialInFlight(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	b := New(Settings{Failures: 1, Cooldown: time.Second, Now: func() time.Time { return now }})
	ctx := context.Background()

	_ = b.Execute(ctx, func(context.Context) error { return errors.New("down") })
	now = now.Add(2 * time.Second)

	err := b.Execute(ctx, func(context.Context) error {
		assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return nil }), ErrOpen)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestStore_IgnoresCallerCancellation(t *testing.T) {
	b := Store("players", nil)
	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "players", b.Name())
}
