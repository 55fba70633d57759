package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropbot/backend/internal/domain"
)

// PurchaseRepository handles the append-only record of delivered items.
type PurchaseRepository struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepository creates a new PurchaseRepository.
func NewPurchaseRepository(pool *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{pool: pool}
}

// Insert records a delivered purchase, enlisted in tx alongside
// ProductRepository.Deduct and PendingDepositRepository.Delete so the
// finalize transaction either commits whole or not at all.
func (r *PurchaseRepository) Insert(ctx context.Context, tx pgx.Tx, p *domain.Purchase) error {
	return tx.QueryRow(ctx, `
		INSERT INTO purchases (user_id, bot_id, name, product_type, size, city, district, price_paid, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, purchased_at`,
		p.UserID, p.BotID, p.Name, p.ProductType, p.Size, p.City, p.District, p.PricePaid,
	).Scan(&p.ID, &p.PurchasedAt)
}

// ListByUser returns userID's purchase history, most recent first.
func (r *PurchaseRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Purchase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, bot_id, name, product_type, size, city, district, price_paid, purchased_at
		FROM purchases WHERE user_id = $1 ORDER BY purchased_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.BotID, &p.Name, &p.ProductType, &p.Size,
			&p.City, &p.District, &p.PricePaid, &p.PurchasedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountSince returns how many purchases have been recorded since cutoff,
// for the admin dashboard's rolling sales figure.
func (r *PurchaseRepository) CountSince(ctx context.Context, cutoffSeconds int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM purchases WHERE purchased_at > NOW() - ($1 || ' seconds')::interval`, cutoffSeconds).Scan(&count)
	return count, err
}
