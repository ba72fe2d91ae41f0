package store

import (
	"context"
	"database/sql"
)

// InventoryRepo tracks which catalog objects a player has unlocked. The
// (player, object) pair is unique; inserts are idempotent by design so free
// unlocks can be retried safely.
type InventoryRepo struct {
	db *sql.DB
	d  dialect
}

// InsertIfAbsent unlocks the object for the player outside any transaction.
// Returns whether a new unlock row was written.
func (r *InventoryRepo) InsertIfAbsent(ctx context.Context, playerID, objectID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		r.d.insertIgnore()+` INTO inventory_unlocks (player_id, object_id, created_at) VALUES (?, ?, ?)`,
		playerID, objectID, now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InsertTx writes the unlock inside tx; the caller has already verified the
// pair is absent under lock.
func (r *InventoryRepo) InsertTx(ctx context.Context, tx *sql.Tx, playerID, objectID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO inventory_unlocks (player_id, object_id, created_at) VALUES (?, ?, ?)`,
		playerID, objectID, now())
	return err
}

func (r *InventoryRepo) Has(ctx context.Context, playerID, objectID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM inventory_unlocks WHERE player_id = ? AND object_id = ?`,
		playerID, objectID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// HasTx checks the pair under the row lock discipline of tx.
func (r *InventoryRepo) HasTx(ctx context.Context, tx *sql.Tx, playerID, objectID int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM inventory_unlocks WHERE player_id = ? AND object_id = ?`+r.d.forUpdate(),
		playerID, objectID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r *InventoryRepo) ListByPlayer(ctx context.Context, playerID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT object_id FROM inventory_unlocks WHERE player_id = ? ORDER BY object_id`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GrantToAll unlocks the object for every existing player. Used when catalog
// growth introduces a free object.
func (r *InventoryRepo) GrantToAll(ctx context.Context, objectID int64) error {
	_, err := r.db.ExecContext(ctx,
		r.d.insertIgnore()+` INTO inventory_unlocks (player_id, object_id, created_at)
		 SELECT id, ?, ? FROM players`, objectID, now())
	return err
}
