package store

import (
	"context"
	"database/sql"
	"strings"

	"infinityworld.gg/internal/fault"
)

// ObjectRepo provides CRUD access to placed objects.
type ObjectRepo struct {
	db *sql.DB
	d  dialect
}

const placedCols = `id, parcel_id, object_id, local_x, local_y`

func scanPlaced(row interface{ Scan(...any) error }) (PlacedObject, error) {
	var o PlacedObject
	err := row.Scan(&o.ID, &o.ParcelID, &o.ObjectID, &o.LocalX, &o.LocalY)
	return o, err
}

func (r *ObjectRepo) GetByID(ctx context.Context, id int64) (PlacedObject, error) {
	o, err := scanPlaced(r.db.QueryRowContext(ctx,
		`SELECT `+placedCols+` FROM placed_objects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return PlacedObject{}, fault.New(fault.NotFound, "placed object %d", id)
	}
	return o, err
}

func (r *ObjectRepo) ListByParcel(ctx context.Context, parcelID int64) ([]PlacedObject, error) {
	return r.listQuery(ctx,
		`SELECT `+placedCols+` FROM placed_objects WHERE parcel_id = ? ORDER BY id`, parcelID)
}

// ListByParcels fetches the objects of several parcels in one round trip.
func (r *ObjectRepo) ListByParcels(ctx context.Context, parcelIDs []int64) ([]PlacedObject, error) {
	if len(parcelIDs) == 0 {
		return []PlacedObject{}, nil
	}
	placeholders := make([]string, len(parcelIDs))
	args := make([]any, len(parcelIDs))
	for i, id := range parcelIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	return r.listQuery(ctx,
		`SELECT `+placedCols+` FROM placed_objects WHERE parcel_id IN (`+
			strings.Join(placeholders, ",")+`) ORDER BY parcel_id, id`, args...)
}

func (r *ObjectRepo) listQuery(ctx context.Context, query string, args ...any) ([]PlacedObject, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]PlacedObject, 0)
	for rows.Next() {
		o, err := scanPlaced(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *ObjectRepo) Create(ctx context.Context, parcelID, objectID int64, localX, localY int) (PlacedObject, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO placed_objects (parcel_id, object_id, local_x, local_y, created_at) VALUES (?, ?, ?, ?, ?)`,
		parcelID, objectID, localX, localY, now())
	if err != nil {
		return PlacedObject{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return PlacedObject{}, err
	}
	return PlacedObject{ID: id, ParcelID: parcelID, ObjectID: objectID, LocalX: localX, LocalY: localY}, nil
}

func (r *ObjectRepo) UpdatePos(ctx context.Context, id int64, localX, localY int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE placed_objects SET local_x = ?, local_y = ? WHERE id = ?`, localX, localY, id)
	return err
}

func (r *ObjectRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM placed_objects WHERE id = ?`, id)
	return err
}
