package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fast(5).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_StopsWhenRetryDeclines(t *testing.T) {
	sentinel := errors.New("bad dsn")
	p := fast(5)
	p.Retry = func(err error) bool { return !errors.Is(err, sentinel) }

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestPolicy_CancelledContextSkipsCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fast(3).Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Initial: 10 * time.Millisecond, Max: 30 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 10*time.Millisecond, p.Delay(1))
	assert.Equal(t, 20*time.Millisecond, p.Delay(2))
	assert.Equal(t, 30*time.Millisecond, p.Delay(3))

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 15*time.Millisecond)
	}
}

func TestValue_ExhaustsAttempts(t *testing.T) {
	var retries []int
	p := fast(3)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

	v, err := Value(context.Background(), p, func(context.Context) (int, error) {
		return 7, errors.New("down")
	})

	assert.EqualError(t, err, "down")
	assert.Zero(t, v)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestSnapshot_DoesNotRetryCancellation(t *testing.T) {
	calls := 0
	err := Snapshot().Do(context.Background(), func(context.Context) error {
		calls++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestStartup_RetriesEverything(t *testing.T) {
	p := Startup(nil)
	assert.Nil(t, p.Retry)
	assert.Equal(t, 6, p.Attempts)
}
