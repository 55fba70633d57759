package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/pkg/errors"
)

// ProductRepository handles product ("drop") database operations.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

const productColumns = `id, city, district, product_type, size, price, available, reserved, details, media_file_ids, created_at`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.City, &p.District, &p.ProductType, &p.Size, &p.Price,
		&p.Available, &p.Reserved, &p.Details, &p.MediaFileIDs, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a product by ID, locking the row FOR UPDATE when tx is
// non-nil so callers can serialize reservation against concurrent writers.
func (r *ProductRepository) GetByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	q := queryable(r.pool, tx)
	p, err := scanProduct(q.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListByCityDistrictType lists purchasable products (available > reserved)
// grouped by size, for the size-selection screen of the catalog flow.
func (r *ProductRepository) ListByCityDistrictType(ctx context.Context, city, district, productType string) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE city = $1 AND district = $2 AND product_type = $3 AND available > reserved
		ORDER BY size, price`
	rows, err := r.pool.Query(ctx, query, city, district, productType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

// DistinctCities returns the cities with at least one purchasable product.
func (r *ProductRepository) DistinctCities(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT city FROM products WHERE available > reserved ORDER BY city`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cities []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

// DistinctDistricts returns the districts of city with at least one
// purchasable product.
func (r *ProductRepository) DistinctDistricts(ctx context.Context, city string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT district FROM products WHERE city = $1 AND available > reserved ORDER BY district`, city)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var districts []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		districts = append(districts, d)
	}
	return districts, rows.Err()
}

// DistinctProductTypes returns the product types available in
// (city, district) with at least one purchasable product.
func (r *ProductRepository) DistinctProductTypes(ctx context.Context, city, district string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT product_type FROM products WHERE city = $1 AND district = $2 AND available > reserved ORDER BY product_type`,
		city, district)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// TryReserve atomically increments reserved by 1 for id, but only if doing
// so would not exceed available. Returns false (no error) if the product is
// out of stock — the caller should treat that as a normal "sold out" branch,
// not an infrastructure error. Must run inside tx so the caller can enlist
// the matching basket-entry insert in the same commit.
func (r *ProductRepository) TryReserve(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
	res, err := tx.Exec(ctx,
		`UPDATE products SET reserved = reserved + 1 WHERE id = $1 AND reserved < available`, id)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

// Release atomically decrements reserved by 1 for id, floored at zero.
// Clamped reports whether the floor actually triggered (reserved was
// already 0) — that's a reservation that outlived its matching claim, and
// the caller writes it to the admin audit trail.
func (r *ProductRepository) Release(ctx context.Context, tx pgx.Tx, id int64) (clamped bool, err error) {
	q := queryable(r.pool, tx)
	var before, after int
	err = q.QueryRow(ctx, `
		WITH prev AS (SELECT reserved FROM products WHERE id = $1)
		UPDATE products SET reserved = CASE WHEN reserved > 0 THEN reserved - 1 ELSE 0 END
		WHERE id = $1
		RETURNING (SELECT reserved FROM prev), reserved`, id).Scan(&before, &after)
	if err != nil {
		return false, err
	}
	return before == 0, nil
}

// Deduct permanently consumes 1 unit of available stock and releases the
// matching reservation slot, called at purchase finalization.
func (r *ProductRepository) Deduct(ctx context.Context, tx pgx.Tx, id int64) error {
	res, err := tx.Exec(ctx,
		`UPDATE products SET available = available - 1, reserved = GREATEST(reserved - 1, 0) WHERE id = $1 AND available > 0`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrDeliveryIncomplete.WithMessage("product depleted before finalize")
	}
	return nil
}

// Create inserts a new product listing (admin catalog management).
func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (city, district, product_type, size, price, available, reserved, details, media_file_ids)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query, p.City, p.District, p.ProductType, p.Size, p.Price,
		p.Available, p.Details, p.MediaFileIDs).Scan(&p.ID, &p.CreatedAt)
}

// UpdatePrice updates a product's price (admin repricing).
func (r *ProductRepository) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	res, err := r.pool.Exec(ctx, `UPDATE products SET price = $2 WHERE id = $1`, id, price)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrProductNotFound
	}
	return nil
}

// AdjustAvailable adds delta (may be negative) to available stock.
func (r *ProductRepository) AdjustAvailable(ctx context.Context, id int64, delta int) error {
	res, err := r.pool.Exec(ctx,
		`UPDATE products SET available = GREATEST(available + $2, 0) WHERE id = $1`, id, delta)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrProductNotFound
	}
	return nil
}

// ReconcileReserved clamps every product's reserved counter down to the
// number of claims that actually still exist for it — live basket entries
// plus items frozen into an open pending deposit's basket snapshot — for
// the abandoned-reservation sweep (a reservation can outlive both if its
// owning basket row or deposit was deleted outside of the usual release
// path, e.g. a crash mid-transaction). Returns the number of products
// whose reserved count was adjusted.
func (r *ProductRepository) ReconcileReserved(ctx context.Context) (int, error) {
	res, err := r.pool.Exec(ctx, `
		WITH basket_claims AS (
			SELECT product_id, COUNT(*) AS n FROM basket_entries GROUP BY product_id
		),
		deposit_claims AS (
			SELECT (item->>'product_id')::bigint AS product_id, COUNT(*) AS n
			FROM pending_deposits, jsonb_array_elements(basket_snapshot) AS item
			GROUP BY (item->>'product_id')::bigint
		),
		live AS (
			SELECT p.id, COALESCE(b.n, 0) + COALESCE(d.n, 0) AS live_count
			FROM products p
			LEFT JOIN basket_claims b ON b.product_id = p.id
			LEFT JOIN deposit_claims d ON d.product_id = p.id
		)
		UPDATE products SET reserved = live.live_count
		FROM live
		WHERE products.id = live.id AND products.reserved <> live.live_count`)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

// Delete removes a product listing (admin catalog management).
func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrProductNotFound
	}
	return nil
}
