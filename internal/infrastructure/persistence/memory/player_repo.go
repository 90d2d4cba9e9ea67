// Package memory provides in-process implementations of the engine's stores.
// They back single-node deployments without Postgres and double as test fakes.
// Every read returns a copy, so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/shared"
)

// PlayerRepository keeps accounts and the activity ledger in maps.
// It implements player.Repository and activity.Ledger.
type PlayerRepository struct {
	mu       sync.RWMutex
	accounts map[string]*player.Account
	ledger   map[string][]*activity.Record
}

// NewPlayerRepository creates an empty repository.
func NewPlayerRepository() *PlayerRepository {
	return &PlayerRepository{
		accounts: make(map[string]*player.Account),
		ledger:   make(map[string][]*activity.Record),
	}
}

// Get implements player.Repository.
func (r *PlayerRepository) Get(ctx context.Context, id string) (*player.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[id]
	if !ok {
		return nil, shared.ErrPlayerNotFound
	}
	return acct.Clone(), nil
}

// CommitAward implements player.Repository.
func (r *PlayerRepository) CommitAward(ctx context.Context, acct *player.Account, rec *activity.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkVersion(acct); err != nil {
		return err
	}
	acct.Version++
	r.accounts[acct.ID] = acct.Clone()
	if rec != nil {
		r.ledger[acct.ID] = append(r.ledger[acct.ID], cloneRecord(rec))
	}
	return nil
}

// Save implements player.Repository.
func (r *PlayerRepository) Save(ctx context.Context, acct *player.Account) error {
	return r.CommitAward(ctx, acct, nil)
}

func (r *PlayerRepository) checkVersion(acct *player.Account) error {
	cur, ok := r.accounts[acct.ID]
	switch {
	case !ok && acct.Version != 0:
		return shared.ErrStaleAccount
	case ok && cur.Version != acct.Version:
		return shared.ErrStaleAccount
	}
	return nil
}

// ListIDs implements player.Repository.
func (r *PlayerRepository) ListIDs(ctx context.Context, after string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		if id > after {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// TopByXP implements player.Repository.
func (r *PlayerRepository) TopByXP(ctx context.Context, since time.Time, limit int) ([]player.Standing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]player.Standing, 0, len(r.accounts))
	for _, a := range r.accounts {
		if !since.IsZero() && a.LastActivity.Before(since) {
			continue
		}
		out = append(out, player.Standing{
			PlayerID:    a.ID,
			DisplayName: a.DisplayName,
			TotalXP:     a.TotalXP,
			UpdatedAt:   a.LastActivity,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalXP != out[j].TotalXP {
			return out[i].TotalXP > out[j].TotalXP
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Recent implements activity.Ledger.
func (r *PlayerRepository) Recent(ctx context.Context, playerID string, limit int) ([]*activity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := r.ledger[playerID]
	n := len(recs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*activity.Record, 0, n)
	for i := len(recs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneRecord(recs[i]))
	}
	return out, nil
}

// History implements activity.Ledger.
func (r *PlayerRepository) History(ctx context.Context, playerID string) ([]*activity.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := r.ledger[playerID]
	out := make([]*activity.Record, len(recs))
	for i, rec := range recs {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

// Count returns the number of stored accounts.
func (r *PlayerRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

func cloneRecord(rec *activity.Record) *activity.Record {
	out := *rec
	out.Context = rec.Context.Clone()
	return &out
}
