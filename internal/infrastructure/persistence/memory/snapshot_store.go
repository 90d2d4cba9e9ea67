package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/shared"
)

// SnapshotStore implements leaderboard.SnapshotStore in memory.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*leaderboard.Snapshot
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]*leaderboard.Snapshot)}
}

// Save implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, snap *leaderboard.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Scope] = cloneSnapshot(snap)
	return nil
}

// Load implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Load(ctx context.Context, scope string) (*leaderboard.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[scope]
	if !ok {
		return nil, shared.ErrSnapshotNotFound
	}
	return cloneSnapshot(snap), nil
}

// Scopes implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Scopes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]string, 0, len(s.snapshots))
	for k := range s.snapshots {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Delete implements leaderboard.SnapshotStore.
func (s *SnapshotStore) Delete(ctx context.Context, scope string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, scope)
	return nil
}

func cloneSnapshot(snap *leaderboard.Snapshot) *leaderboard.Snapshot {
	out := *snap
	out.Entries = make([]leaderboard.Entry, len(snap.Entries))
	copy(out.Entries, snap.Entries)
	return &out
}
