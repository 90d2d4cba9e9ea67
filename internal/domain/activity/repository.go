package activity

import "context"

// Ledger is the read side of the append-only activity history.
// Appends happen together with the player account commit, see player.Repository.
type Ledger interface {
	// Recent returns up to limit records for a player, newest first.
	Recent(ctx context.Context, playerID string, limit int) ([]*Record, error)

	// History returns every record for a player in append order.
	History(ctx context.Context, playerID string) ([]*Record, error)
}
