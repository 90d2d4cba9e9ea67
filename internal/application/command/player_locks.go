package command

import (
	"context"
	"sync"

	"github.com/battle64/points-engine/internal/domain/shared"
)

// PlayerLocks serializes work per player while letting different players run
// in parallel. Idle keys are released once nobody holds or waits on them.
type PlayerLocks struct {
	mu    sync.Mutex
	locks map[string]*playerLock
}

type playerLock struct {
	ch   chan struct{}
	refs int
}

// NewPlayerLocks creates an empty lock table.
func NewPlayerLocks() *PlayerLocks {
	return &PlayerLocks{locks: make(map[string]*playerLock)}
}

// Lock acquires the lock for playerID. It gives up when ctx is done, so callers
// bound the wait with their own deadline.
func (l *PlayerLocks) Lock(ctx context.Context, playerID string) (unlock func(), err error) {
	l.mu.Lock()
	pl, ok := l.locks[playerID]
	if !ok {
		pl = &playerLock{ch: make(chan struct{}, 1)}
		l.locks[playerID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(playerID, pl)
		return nil, shared.WrapError("points", "Lock", shared.ErrTimeout, "player is busy", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.ch
			l.release(playerID, pl)
		})
	}, nil
}

func (l *PlayerLocks) release(playerID string, pl *playerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, playerID)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *PlayerLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
