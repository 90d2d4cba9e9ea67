package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/battle64/points-engine/internal/domain/leaderboard"
	"github.com/battle64/points-engine/internal/domain/shared"
)

// SnapshotRepository implements leaderboard.SnapshotStore. One row per scope;
// each save replaces the row and stamps a fresh snapshot id.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// Save upserts the snapshot. An older revision never overwrites a newer one.
func (r *SnapshotRepository) Save(ctx context.Context, snap *leaderboard.Snapshot) error {
	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot entries: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO leaderboard_snapshots (scope, id, revision, size, taken_at, entries)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope) DO UPDATE SET
			id = EXCLUDED.id,
			revision = EXCLUDED.revision,
			size = EXCLUDED.size,
			taken_at = EXCLUDED.taken_at,
			entries = EXCLUDED.entries
		WHERE leaderboard_snapshots.taken_at <= EXCLUDED.taken_at
	`, snap.Scope, uuid.New(), int64(snap.Revision), snap.Size, snap.TakenAt, entries)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.Scope, err)
	}
	return nil
}

// Load returns the stored snapshot or shared.ErrSnapshotNotFound.
func (r *SnapshotRepository) Load(ctx context.Context, scope string) (*leaderboard.Snapshot, error) {
	var (
		snap     leaderboard.Snapshot
		revision int64
		entries  []byte
	)
	err := r.conn.QueryRow(ctx, `
		SELECT scope, revision, size, taken_at, entries
		FROM leaderboard_snapshots
		WHERE scope = $1
	`, scope).Scan(&snap.Scope, &revision, &snap.Size, &snap.TakenAt, &entries)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", scope, err)
	}
	snap.Revision = uint64(revision)
	if err := json.Unmarshal(entries, &snap.Entries); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", scope, err)
	}
	return &snap, nil
}

// Scopes lists the stored scope labels.
func (r *SnapshotRepository) Scopes(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Query(ctx, `SELECT scope FROM leaderboard_snapshots ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Delete removes the snapshot of scope. Missing rows are not an error.
func (r *SnapshotRepository) Delete(ctx context.Context, scope string) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM leaderboard_snapshots WHERE scope = $1`, scope); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", scope, err)
	}
	return nil
}
