package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/battle64/points-engine/internal/domain/activity"
	"github.com/battle64/points-engine/internal/domain/player"
	"github.com/battle64/points-engine/internal/domain/shared"
	"github.com/battle64/points-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// PLAYER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PlayerRepository implements player.Repository and activity.Ledger.
// Writes go through a circuit breaker so a failing database turns awards
// into fast persistence errors.
type PlayerRepository struct {
	conn    *Connection
	breaker *circuitbreaker.Breaker
}

// NewPlayerRepository creates a new PlayerRepository. breaker may be nil.
func NewPlayerRepository(conn *Connection, breaker *circuitbreaker.Breaker) *PlayerRepository {
	if breaker == nil {
		breaker = circuitbreaker.Store("postgres.players", nil)
	}
	return &PlayerRepository{conn: conn, breaker: breaker}
}

// ─────────────────────────────────────────────────────────────────────────────
// Accounts
// ─────────────────────────────────────────────────────────────────────────────

// Get returns the account or shared.ErrPlayerNotFound.
func (r *PlayerRepository) Get(ctx context.Context, id string) (*player.Account, error) {
	var (
		data    []byte
		version int64
	)
	err := r.conn.QueryRow(ctx,
		`SELECT data, version FROM player_accounts WHERE id = $1`, id,
	).Scan(&data, &version)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	acct := &player.Account{}
	if err := json.Unmarshal(data, acct); err != nil {
		return nil, fmt.Errorf("failed to decode account %s: %w", id, err)
	}
	acct.Version = version
	return acct, nil
}

// CommitAward stores the account and appends rec in one transaction.
// A version mismatch returns shared.ErrStaleAccount and is not counted
// against the breaker.
func (r *PlayerRepository) CommitAward(ctx context.Context, acct *player.Account, rec *activity.Record) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	var recCtx []byte
	if rec != nil {
		if recCtx, err = json.Marshal(rec.Context); err != nil {
			return fmt.Errorf("failed to encode activity context: %w", err)
		}
	}

	stale := false
	err = r.breaker.Execute(ctx, func(ctx context.Context) error {
		err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if err := writeAccount(ctx, tx, acct, data); err != nil {
				return err
			}
			if rec == nil {
				return nil
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO activity_ledger (id, player_id, activity_type, occurred_at, xp_earned, context)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, rec.ID, rec.PlayerID, string(rec.Type), rec.OccurredAt, rec.XPEarned, recCtx)
			if err != nil {
				return fmt.Errorf("failed to append activity: %w", err)
			}
			return nil
		})
		if errors.Is(err, shared.ErrStaleAccount) {
			stale = true
			return nil
		}
		return err
	})
	if stale {
		return shared.ErrStaleAccount
	}
	if err != nil {
		return err
	}
	acct.Version++
	return nil
}

// writeAccount inserts a new account (Version 0) or updates one whose stored
// version still matches.
func writeAccount(ctx context.Context, q Querier, acct *player.Account, data []byte) error {
	var lastActivity *time.Time
	if !acct.LastActivity.IsZero() {
		t := acct.LastActivity
		lastActivity = &t
	}

	if acct.Version == 0 {
		tag, err := q.Exec(ctx, `
			INSERT INTO player_accounts (id, display_name, total_xp, current_rank, last_activity, data, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, acct.ID, acct.DisplayName, acct.TotalXP, acct.CurrentRank, lastActivity, data, acct.CreatedAt, acct.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrStaleAccount
		}
		return nil
	}

	tag, err := q.Exec(ctx, `
		UPDATE player_accounts SET
			display_name = $1,
			total_xp = $2,
			current_rank = $3,
			last_activity = $4,
			data = $5,
			version = version + 1,
			updated_at = $6
		WHERE id = $7 AND version = $8
	`, acct.DisplayName, acct.TotalXP, acct.CurrentRank, lastActivity, data, acct.UpdatedAt, acct.ID, acct.Version)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleAccount
	}
	return nil
}

// Save stores the account without a ledger entry.
func (r *PlayerRepository) Save(ctx context.Context, acct *player.Account) error {
	return r.CommitAward(ctx, acct, nil)
}

// ListIDs returns up to limit ids after the given one in lexical order.
func (r *PlayerRepository) ListIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT id FROM player_accounts WHERE id > $1 ORDER BY id LIMIT $2`, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// TopByXP returns the best players active since the given time, in board order.
func (r *PlayerRepository) TopByXP(ctx context.Context, since time.Time, limit int) ([]player.Standing, error) {
	query := `
		SELECT id, display_name, total_xp, COALESCE(last_activity, created_at)
		FROM player_accounts
		WHERE ($1::timestamptz IS NULL OR last_activity >= $1)
		ORDER BY total_xp DESC, last_activity ASC, id ASC
		LIMIT $2
	`
	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}

	rows, err := r.conn.Query(ctx, query, sinceArg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top players: %w", err)
	}
	defer rows.Close()

	var out []player.Standing
	for rows.Next() {
		var s player.Standing
		if err := rows.Scan(&s.PlayerID, &s.DisplayName, &s.TotalXP, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Count returns the number of stored accounts.
func (r *PlayerRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.conn.QueryRow(ctx, `SELECT count(*) FROM player_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ledger
// ─────────────────────────────────────────────────────────────────────────────

// Recent returns up to limit records for the player, newest first.
func (r *PlayerRepository) Recent(ctx context.Context, playerID string, limit int) ([]*activity.Record, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, player_id, activity_type, occurred_at, xp_earned, context
		FROM activity_ledger
		WHERE player_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent activity: %w", err)
	}
	return scanRecords(rows)
}

// History returns every record for the player in append order.
func (r *PlayerRepository) History(ctx context.Context, playerID string) ([]*activity.Record, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, player_id, activity_type, occurred_at, xp_earned, context
		FROM activity_ledger
		WHERE player_id = $1
		ORDER BY seq ASC
	`, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity history: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]*activity.Record, error) {
	defer rows.Close()

	out := []*activity.Record{}
	for rows.Next() {
		var (
			rec    activity.Record
			typ    string
			rawCtx []byte
		)
		if err := rows.Scan(&rec.ID, &rec.PlayerID, &typ, &rec.OccurredAt, &rec.XPEarned, &rawCtx); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		rec.Type = activity.Type(typ)
		if len(rawCtx) > 0 {
			if err := json.Unmarshal(rawCtx, &rec.Context); err != nil {
				return nil, fmt.Errorf("failed to decode activity context %s: %w", rec.ID, err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
