package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/pkg/errors"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, balance, total_purchases, language_code, is_reseller, banned, last_seen, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Balance, &u.TotalPurchases, &u.LanguageCode, &u.IsReseller, &u.Banned, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID retrieves a user by their Telegram ID, which doubles as the
// primary key — there is no separate surrogate identity.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// GetOrCreate returns the user row for id, inserting a fresh one with a
// zero balance and the given language code if this is their first contact.
// The upsert is atomic so two concurrent first-contacts (e.g. a /start
// racing a webhook reply) can't create duplicate rows or lose the insert.
func (r *UserRepository) GetOrCreate(ctx context.Context, id int64, languageCode string) (*domain.User, error) {
	query := `
		INSERT INTO users (id, balance, total_purchases, language_code, is_reseller, banned, last_seen, created_at)
		VALUES ($1, 0, 0, $2, false, false, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET last_seen = NOW()
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, id, languageCode))
}

// TouchLastSeen updates the user's last-seen timestamp.
func (r *UserRepository) TouchLastSeen(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_seen = NOW() WHERE id = $1`, id)
	return err
}

// LockForUpdate retrieves a user row with FOR UPDATE inside tx, used before
// any balance mutation to serialize concurrent spends against one user.
func (r *UserRepository) LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.User, error) {
	u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// AdjustBalance atomically adds delta (may be negative) to a user's
// balance, enlisted in tx so it commits alongside whatever spent or
// credited it. Returns errors.ErrUserNotFound when no row matches id. It
// does not reject a would-be-negative balance — callers that need that
// should LockForUpdate and compare first.
func (r *UserRepository) AdjustBalance(ctx context.Context, tx pgx.Tx, id int64, delta decimal.Decimal) error {
	res, err := tx.Exec(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, id, delta)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}

// IncrementPurchases bumps total_purchases by 1, enlisted in tx.
func (r *UserRepository) IncrementPurchases(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `UPDATE users SET total_purchases = total_purchases + 1 WHERE id = $1`, id)
	return err
}

// SetReseller marks or unmarks id as a reseller (admin action).
func (r *UserRepository) SetReseller(ctx context.Context, id int64, isReseller bool) error {
	res, err := r.pool.Exec(ctx, `UPDATE users SET is_reseller = $2 WHERE id = $1`, id, isReseller)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}

// SetBanned bans or unbans id (admin action).
func (r *UserRepository) SetBanned(ctx context.Context, id int64, banned bool) error {
	res, err := r.pool.Exec(ctx, `UPDATE users SET banned = $2 WHERE id = $1`, id, banned)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}

// CountAll returns the total number of known users, for admin broadcast
// sizing and dashboard stats.
func (r *UserRepository) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// ListAllIDs returns every non-banned user ID, for broadcast fan-out. Broadcasts
// are rare and admin-triggered, so one full scan is acceptable.
func (r *UserRepository) ListAllIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE banned = false ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
