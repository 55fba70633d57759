package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/pkg/errors"
)

// DiscountRepository handles general discount codes, their per-user usage
// audit trail, and reseller percentage rules.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository creates a new DiscountRepository.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

const discountCodeColumns = `code, kind, value, active, total_cap, per_user_cap, uses_count, expires_at, allowed_cities, allowed_product_types, allowed_sizes`

func scanDiscountCode(row pgx.Row) (*domain.DiscountCode, error) {
	var c domain.DiscountCode
	err := row.Scan(&c.Code, &c.Kind, &c.Value, &c.Active, &c.TotalCap, &c.PerUserCap, &c.UsesCount,
		&c.ExpiresAt, &c.AllowedCities, &c.AllowedProductTypes, &c.AllowedSizes)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCode retrieves a discount code by its code string, locking the row
// FOR UPDATE inside tx so ConsumeCode can check-then-increment atomically.
func (r *DiscountRepository) GetCode(ctx context.Context, tx pgx.Tx, code string) (*domain.DiscountCode, error) {
	query := `SELECT ` + discountCodeColumns + ` FROM discount_codes WHERE code = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	c, err := scanDiscountCode(queryable(r.pool, tx).QueryRow(ctx, query, code))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrCodeNotFound
		}
		return nil, err
	}
	return c, nil
}

// CountUsesByUser returns how many times userID has already applied code,
// for the per-user cap check.
func (r *DiscountRepository) CountUsesByUser(ctx context.Context, tx pgx.Tx, userID int64, code string) (int, error) {
	var count int
	err := queryable(r.pool, tx).QueryRow(ctx,
		`SELECT COUNT(*) FROM discount_usages WHERE user_id = $1 AND code = $2`, userID, code).Scan(&count)
	return count, err
}

// ConsumeCode increments code's uses_count by 1 and records a usage row in
// the same statement set, conditioned on the row not already being at
// total_cap — the WHERE clause is the entire concurrency control, so two
// simultaneous redemptions of the last remaining use can never both
// succeed. Must run inside tx.
func (r *DiscountRepository) ConsumeCode(ctx context.Context, tx pgx.Tx, userID int64, code string, discountAmount decimal.Decimal) error {
	res, err := tx.Exec(ctx, `
		UPDATE discount_codes SET uses_count = uses_count + 1
		WHERE code = $1 AND active = true AND (total_cap IS NULL OR uses_count < total_cap)`, code)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrCodeLimitReached
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO discount_usages (user_id, code, applied_at, discount_amount)
		VALUES ($1, $2, NOW(), $3)`, userID, code, discountAmount)
	return err
}

// CreateCode inserts a new discount code (admin action).
func (r *DiscountRepository) CreateCode(ctx context.Context, c *domain.DiscountCode) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO discount_codes (`+discountCodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10)`,
		c.Code, c.Kind, c.Value, c.Active, c.TotalCap, c.PerUserCap, c.ExpiresAt,
		c.AllowedCities, c.AllowedProductTypes, c.AllowedSizes)
	return err
}

// SetCodeActive toggles whether a code may still be applied (admin action).
func (r *DiscountRepository) SetCodeActive(ctx context.Context, code string, active bool) error {
	res, err := r.pool.Exec(ctx, `UPDATE discount_codes SET active = $2 WHERE code = $1`, code, active)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrCodeNotFound
	}
	return nil
}

// ListCodes lists all discount codes, for the admin dashboard.
func (r *DiscountRepository) ListCodes(ctx context.Context) ([]domain.DiscountCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+discountCodeColumns+` FROM discount_codes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DiscountCode
	for rows.Next() {
		c, err := scanDiscountCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetResellerRule retrieves the percentage-off rule for
// (resellerUserID, productType). Returns errors.ErrNotFound if no rule is
// configured — callers should treat that as 0% off, not as a failure.
func (r *DiscountRepository) GetResellerRule(ctx context.Context, resellerUserID int64, productType string) (*domain.ResellerRule, error) {
	var rule domain.ResellerRule
	err := r.pool.QueryRow(ctx, `
		SELECT reseller_user_id, product_type, percent_off FROM reseller_rules
		WHERE reseller_user_id = $1 AND product_type = $2`, resellerUserID, productType,
	).Scan(&rule.ResellerUserID, &rule.ProductType, &rule.PercentOff)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// UpsertResellerRule sets (or replaces) the percentage-off rule for a
// reseller/product-type pair (admin action).
func (r *DiscountRepository) UpsertResellerRule(ctx context.Context, rule domain.ResellerRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reseller_rules (reseller_user_id, product_type, percent_off)
		VALUES ($1, $2, $3)
		ON CONFLICT (reseller_user_id, product_type) DO UPDATE SET percent_off = EXCLUDED.percent_off`,
		rule.ResellerUserID, rule.ProductType, rule.PercentOff)
	return err
}

// ListResellerRules lists every rule configured for resellerUserID.
func (r *DiscountRepository) ListResellerRules(ctx context.Context, resellerUserID int64) ([]domain.ResellerRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT reseller_user_id, product_type, percent_off FROM reseller_rules
		WHERE reseller_user_id = $1 ORDER BY product_type`, resellerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ResellerRule
	for rows.Next() {
		var rule domain.ResellerRule
		if err := rows.Scan(&rule.ResellerUserID, &rule.ProductType, &rule.PercentOff); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ExpireOldCodes deactivates every code whose expires_at has passed,
// called from the periodic scheduler.
func (r *DiscountRepository) ExpireOldCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE discount_codes SET active = false
		WHERE active = true AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}
