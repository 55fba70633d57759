package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropbot/backend/internal/domain"
)

// BasketRepository handles the per-user reserved-but-unpaid basket.
type BasketRepository struct {
	pool *pgxpool.Pool
}

// NewBasketRepository creates a new BasketRepository.
func NewBasketRepository(pool *pgxpool.Pool) *BasketRepository {
	return &BasketRepository{pool: pool}
}

// Insert records a new basket entry, enlisted in tx alongside the matching
// ProductRepository.TryReserve call.
func (r *BasketRepository) Insert(ctx context.Context, tx pgx.Tx, userID int64, e domain.BasketEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO basket_entries (user_id, product_id, reserved_at, snapshot_price, snapshot_product_type)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, e.ProductID, e.ReservedAt, e.SnapshotPrice, e.SnapshotProductType)
	return err
}

// ListByUser returns every entry currently held by userID, oldest first.
func (r *BasketRepository) ListByUser(ctx context.Context, userID int64) ([]domain.BasketEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, reserved_at, snapshot_price, snapshot_product_type
		FROM basket_entries WHERE user_id = $1 ORDER BY reserved_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.BasketEntry
	for rows.Next() {
		var e domain.BasketEntry
		if err := rows.Scan(&e.ProductID, &e.ReservedAt, &e.SnapshotPrice, &e.SnapshotProductType); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes one basket entry, enlisted in tx alongside the matching
// ProductRepository.Release call.
func (r *BasketRepository) Delete(ctx context.Context, tx pgx.Tx, userID, productID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM basket_entries WHERE user_id = $1 AND product_id = $2`, userID, productID)
	return err
}

// DeleteAllByUser clears userID's entire basket, enlisted in tx — called
// when a checkout intent is issued (spec: basket contents freeze as soon
// as a PendingDeposit with Kind=Purchase exists) or when the basket
// reservation timeout sweep releases it.
func (r *BasketRepository) DeleteAllByUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM basket_entries WHERE user_id = $1`, userID)
	return err
}

// ListExpired returns every (user_id, product_id) whose reserved_at is
// older than cutoffSeconds ago, for the periodic release sweep.
func (r *BasketRepository) ListExpired(ctx context.Context, cutoffSeconds int64) ([]struct {
	UserID    int64
	ProductID int64
}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, product_id FROM basket_entries
		WHERE reserved_at < NOW() - ($1 || ' seconds')::interval`, cutoffSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []struct {
		UserID    int64
		ProductID int64
	}
	for rows.Next() {
		var row struct {
			UserID    int64
			ProductID int64
		}
		if err := rows.Scan(&row.UserID, &row.ProductID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
