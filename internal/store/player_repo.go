package store

import (
	"context"
	"database/sql"

	"infinityworld.gg/internal/fault"
)

// PlayerRepo provides CRUD access to players. Balance mutations happen only
// through DeductCoinsTx inside a transaction owned by the economy engine.
type PlayerRepo struct {
	db *sql.DB
	d  dialect
}

// Create inserts a new player. Display names are unique; a duplicate fails
// ValidationFailed.
func (r *PlayerRepo) Create(ctx context.Context, name string, coins int64) (Player, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO players (name, coins, created_at) VALUES (?, ?, ?)`,
		name, coins, now())
	if err != nil {
		if r.d.isUniqueViolation(err) {
			return Player{}, fault.New(fault.ValidationFailed, "player name %q taken", name)
		}
		return Player{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Player{}, err
	}
	return Player{ID: id, Name: name, Coins: coins}, nil
}

func (r *PlayerRepo) GetByID(ctx context.Context, id int64) (Player, error) {
	var p Player
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, coins FROM players WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Coins)
	if err == sql.ErrNoRows {
		return Player{}, fault.New(fault.NotFound, "player %d", id)
	}
	return p, err
}

// GetForUpdateTx reads the player row under an exclusive row lock, blocking
// concurrent purchases by the same player for the life of tx.
func (r *PlayerRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (Player, error) {
	var p Player
	err := tx.QueryRowContext(ctx,
		`SELECT id, name, coins FROM players WHERE id = ?`+r.d.forUpdate(), id).
		Scan(&p.ID, &p.Name, &p.Coins)
	if err == sql.ErrNoRows {
		return Player{}, fault.New(fault.NotFound, "player %d", id)
	}
	return p, err
}

// DeductCoinsTx subtracts amount from the player's balance with a write-time
// re-check of balance >= amount. Returns false when the conditional update
// matched no row, meaning the funds were drained since the initial read.
func (r *PlayerRepo) DeductCoinsTx(ctx context.Context, tx *sql.Tx, id, amount int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE players SET coins = coins - ? WHERE id = ? AND coins >= ?`,
		amount, id, amount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AddCoinsTx credits the player's balance. amount must be positive.
func (r *PlayerRepo) AddCoinsTx(ctx context.Context, tx *sql.Tx, id, amount int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE players SET coins = coins + ? WHERE id = ?`, amount, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fault.New(fault.NotFound, "player %d", id)
	}
	return nil
}

func (r *PlayerRepo) List(ctx context.Context) ([]Player, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, coins FROM players ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.Name, &p.Coins); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PlayerRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players`).Scan(&n)
	return n, err
}
