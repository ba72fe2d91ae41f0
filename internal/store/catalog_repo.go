package store

import (
	"context"
	"database/sql"

	"infinityworld.gg/internal/fault"
)

// CatalogRepo reads the placeable template catalog. Rows are reference data:
// written only by the startup seeder, read-only afterwards.
type CatalogRepo struct {
	db *sql.DB
	d  dialect
}

const catalogCols = `id, name, width, depth, price, is_free`

func scanCatalog(row interface{ Scan(...any) error }) (CatalogObject, error) {
	var (
		o    CatalogObject
		free int
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Width, &o.Depth, &o.Price, &free); err != nil {
		return CatalogObject{}, err
	}
	o.Free = free != 0
	return o, nil
}

func (r *CatalogRepo) GetByID(ctx context.Context, id int64) (CatalogObject, error) {
	o, err := scanCatalog(r.db.QueryRowContext(ctx,
		`SELECT `+catalogCols+` FROM catalog_objects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return CatalogObject{}, fault.New(fault.NotFound, "catalog object %d", id)
	}
	return o, err
}

func (r *CatalogRepo) GetByName(ctx context.Context, name string) (CatalogObject, error) {
	o, err := scanCatalog(r.db.QueryRowContext(ctx,
		`SELECT `+catalogCols+` FROM catalog_objects WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return CatalogObject{}, fault.New(fault.NotFound, "catalog object %q", name)
	}
	return o, err
}

func (r *CatalogRepo) List(ctx context.Context) ([]CatalogObject, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+catalogCols+` FROM catalog_objects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]CatalogObject, 0)
	for rows.Next() {
		o, err := scanCatalog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Upsert inserts the object by unique name or refreshes its footprint and
// price. Returns the stored row and whether it was newly created.
func (r *CatalogRepo) Upsert(ctx context.Context, o CatalogObject) (CatalogObject, bool, error) {
	free := 0
	if o.Free {
		free = 1
	}
	existing, err := r.GetByName(ctx, o.Name)
	if err == nil {
		_, err = r.db.ExecContext(ctx,
			`UPDATE catalog_objects SET width = ?, depth = ?, price = ?, is_free = ? WHERE id = ?`,
			o.Width, o.Depth, o.Price, free, existing.ID)
		if err != nil {
			return CatalogObject{}, false, err
		}
		o.ID = existing.ID
		return o, false, nil
	}
	if !fault.Is(err, fault.NotFound) {
		return CatalogObject{}, false, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO catalog_objects (name, width, depth, price, is_free) VALUES (?, ?, ?, ?, ?)`,
		o.Name, o.Width, o.Depth, o.Price, free)
	if err != nil {
		return CatalogObject{}, false, err
	}
	o.ID, err = res.LastInsertId()
	if err != nil {
		return CatalogObject{}, false, err
	}
	return o, true, nil
}
