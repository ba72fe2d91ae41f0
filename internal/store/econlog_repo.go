package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// EconLogRepo appends to the immutable economy audit trail. Rows are never
// updated or deleted.
type EconLogRepo struct {
	db *sql.DB
	d  dialect
}

// AppendTx writes the entry inside tx so the audit record commits atomically
// with the balance change it describes. The entry id and timestamp are
// assigned here.
func (r *EconLogRepo) AppendTx(ctx context.Context, tx *sql.Tx, e *EconomyEntry) error {
	e.ID = uuid.NewString()
	e.CreatedAt = now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO economy_log (id, player_id, action, amount, balance_before, balance_after, meta, origin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PlayerID, e.Action, e.Amount, e.BalanceBefore, e.BalanceAfter, e.Meta, e.Origin, e.CreatedAt)
	return err
}

func (r *EconLogRepo) ListByPlayer(ctx context.Context, playerID int64) ([]EconomyEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, player_id, action, amount, balance_before, balance_after, meta, origin, created_at
		 FROM economy_log WHERE player_id = ? ORDER BY created_at, id`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]EconomyEntry, 0)
	for rows.Next() {
		var e EconomyEntry
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.Action, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.Meta, &e.Origin, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
