package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/shared"
)

// SnapshotStore implements leaderboard.SnapshotStore on Redis.
//
// Layout per scope:
//   - Sorted Set "{prefix}leaderboard:{scope}:scores" playerID -> score
//   - Hash "{prefix}leaderboard:{scope}:entries" playerID -> Entry JSON
//   - Hash "{prefix}leaderboard:{scope}:meta" revision, size, taken_at
//
// plus the set "{prefix}leaderboard:scopes" of stored labels.
type SnapshotStore struct {
	cache *Cache
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(cache *Cache) *SnapshotStore {
	return &SnapshotStore{cache: cache}
}

// Save replaces the stored snapshot of the scope. A snapshot taken earlier
// than the stored one is ignored.
func (s *SnapshotStore) Save(ctx context.Context, snap *leaderboard.Snapshot) error {
	keys := s.cache.Keys()
	scoresKey := keys.BoardScores(snap.Scope)
	entriesKey := keys.BoardEntries(snap.Scope)
	metaKey := keys.BoardMeta(snap.Scope)

	members := make([]redis.Z, 0, len(snap.Entries))
	fields := make(map[string]interface{}, len(snap.Entries))
	for _, e := range snap.Entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", e.PlayerID, err)
		}
		members = append(members, redis.Z{Score: float64(e.Score), Member: e.PlayerID})
		fields[e.PlayerID] = data
	}

	err := s.cache.Client().Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.HGet(ctx, metaKey, "taken_at").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if stored != "" {
			if prev, perr := time.Parse(time.RFC3339Nano, stored); perr == nil && prev.After(snap.TakenAt) {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, scoresKey, entriesKey)
			if len(members) > 0 {
				pipe.ZAdd(ctx, scoresKey, members...)
				pipe.HSet(ctx, entriesKey, fields)
			}
			pipe.HSet(ctx, metaKey, encodeMeta(snap))
			pipe.SAdd(ctx, keys.Scopes(), snap.Scope)
			return nil
		})
		return err
	}, metaKey)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.Scope, err)
	}
	return nil
}

// Load returns the stored snapshot or shared.ErrSnapshotNotFound.
func (s *SnapshotStore) Load(ctx context.Context, scope string) (*leaderboard.Snapshot, error) {
	keys := s.cache.Keys()

	var (
		metaCmd    *redis.MapStringStringCmd
		idsCmd     *redis.StringSliceCmd
		entriesCmd *redis.MapStringStringCmd
	)
	_, err := s.cache.Client().Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, keys.BoardMeta(scope))
		idsCmd = pipe.ZRevRange(ctx, keys.BoardScores(scope), 0, -1)
		entriesCmd = pipe.HGetAll(ctx, keys.BoardEntries(scope))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", scope, err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, shared.ErrSnapshotNotFound
	}
	snap, err := decodeMeta(scope, meta)
	if err != nil {
		return nil, err
	}

	raw := entriesCmd.Val()
	snap.Entries = make([]leaderboard.Entry, 0, len(raw))
	for _, id := range idsCmd.Val() {
		data, ok := raw[id]
		if !ok {
			continue
		}
		var e leaderboard.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("failed to decode entry %s/%s: %w", scope, id, err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

// Scopes lists the stored scope labels in lexical order.
func (s *SnapshotStore) Scopes(ctx context.Context) ([]string, error) {
	scopes, err := s.cache.Client().SMembers(ctx, s.cache.Keys().Scopes()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Delete removes the snapshot of scope. Missing keys are not an error.
func (s *SnapshotStore) Delete(ctx context.Context, scope string) error {
	keys := s.cache.Keys()
	_, err := s.cache.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys.BoardScores(scope), keys.BoardEntries(scope), keys.BoardMeta(scope))
		pipe.SRem(ctx, keys.Scopes(), scope)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", scope, err)
	}
	return nil
}

func encodeMeta(snap *leaderboard.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"revision": strconv.FormatUint(snap.Revision, 10),
		"size":     strconv.Itoa(snap.Size),
		"taken_at": snap.TakenAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeMeta(scope string, meta map[string]string) (*leaderboard.Snapshot, error) {
	rev, err := strconv.ParseUint(meta["revision"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: bad revision: %w", scope, err)
	}
	size, err := strconv.Atoi(meta["size"])
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: bad size: %w", scope, err)
	}
	takenAt, err := time.Parse(time.RFC3339Nano, meta["taken_at"])
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: bad taken_at: %w", scope, err)
	}
	return &leaderboard.Snapshot{
		Scope:    scope,
		Size:     size,
		Revision: rev,
		TakenAt:  takenAt,
	}, nil
}
