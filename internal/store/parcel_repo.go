package store

import (
	"context"
	"database/sql"

	"infinityworld.gg/internal/fault"
)

type ParcelRepo struct {
	db *sql.DB
	d  dialect
}

func scanParcel(row interface{ Scan(...any) error }) (Parcel, error) {
	var (
		p     Parcel
		owner sql.NullInt64
		sys   int
	)
	if err := row.Scan(&p.ID, &p.X, &p.Y, &owner, &sys); err != nil {
		return Parcel{}, err
	}
	if owner.Valid {
		v := owner.Int64
		p.OwnerID = &v
	}
	p.System = sys != 0
	return p, nil
}

const parcelCols = `id, x, y, owner_id, is_system`

// GetByCoord returns the parcel at (x, y), or (nil, nil) when the coordinate
// has no row yet.
func (r *ParcelRepo) GetByCoord(ctx context.Context, x, y int) (*Parcel, error) {
	p, err := scanParcel(r.db.QueryRowContext(ctx,
		`SELECT `+parcelCols+` FROM parcels WHERE x = ? AND y = ?`, x, y))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByCoordTx is GetByCoord under a row lock inside tx.
func (r *ParcelRepo) GetByCoordTx(ctx context.Context, tx *sql.Tx, x, y int) (*Parcel, error) {
	p, err := scanParcel(tx.QueryRowContext(ctx,
		`SELECT `+parcelCols+` FROM parcels WHERE x = ? AND y = ?`+r.d.forUpdate(), x, y))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ParcelRepo) GetByID(ctx context.Context, id int64) (Parcel, error) {
	p, err := scanParcel(r.db.QueryRowContext(ctx,
		`SELECT `+parcelCols+` FROM parcels WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Parcel{}, fault.New(fault.NotFound, "parcel %d", id)
	}
	return p, err
}

func (r *ParcelRepo) ListByOwner(ctx context.Context, ownerID int64) ([]Parcel, error) {
	return r.listQuery(ctx, r.db,
		`SELECT `+parcelCols+` FROM parcels WHERE owner_id = ? ORDER BY id`, ownerID)
}

// ListByOwnerTx reads the player's owned parcel set inside tx, for the
// proximity check of a purchase.
func (r *ParcelRepo) ListByOwnerTx(ctx context.Context, tx *sql.Tx, ownerID int64) ([]Parcel, error) {
	return r.listQuery(ctx, tx,
		`SELECT `+parcelCols+` FROM parcels WHERE owner_id = ? ORDER BY id`, ownerID)
}

func (r *ParcelRepo) ListAll(ctx context.Context) ([]Parcel, error) {
	return r.listQuery(ctx, r.db,
		`SELECT `+parcelCols+` FROM parcels ORDER BY id`)
}

// FindInArea returns all parcels with min <= x <= max on both axes.
func (r *ParcelRepo) FindInArea(ctx context.Context, minX, maxX, minY, maxY int) ([]Parcel, error) {
	return r.listQuery(ctx, r.db,
		`SELECT `+parcelCols+` FROM parcels WHERE x BETWEEN ? AND ? AND y BETWEEN ? AND ? ORDER BY id`,
		minX, maxX, minY, maxY)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *ParcelRepo) listQuery(ctx context.Context, q querier, query string, args ...any) ([]Parcel, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Parcel, 0)
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateOwnedTx inserts the parcel row bound to ownerID. A duplicate (x, y)
// surfaces AlreadyOwned: another transaction created the row first.
func (r *ParcelRepo) CreateOwnedTx(ctx context.Context, tx *sql.Tx, x, y int, ownerID int64) (Parcel, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO parcels (x, y, owner_id, is_system, created_at) VALUES (?, ?, ?, 0, ?)`,
		x, y, ownerID, now())
	if err != nil {
		if r.d.isUniqueViolation(err) {
			return Parcel{}, fault.New(fault.AlreadyOwned, "parcel (%d,%d)", x, y)
		}
		return Parcel{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Parcel{}, err
	}
	return Parcel{ID: id, X: x, Y: y, OwnerID: &ownerID}, nil
}

// SetOwnerTx flips ownership of a pre-existing unowned row.
func (r *ParcelRepo) SetOwnerTx(ctx context.Context, tx *sql.Tx, id, ownerID int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE parcels SET owner_id = ? WHERE id = ? AND owner_id IS NULL`, ownerID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SeedSystem pre-seeds a reserved coordinate. Idempotent.
func (r *ParcelRepo) SeedSystem(ctx context.Context, x, y int) error {
	_, err := r.db.ExecContext(ctx,
		r.d.insertIgnore()+` INTO parcels (x, y, owner_id, is_system, created_at) VALUES (?, ?, NULL, 1, ?)`,
		x, y, now())
	return err
}
