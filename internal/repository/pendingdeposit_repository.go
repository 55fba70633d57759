package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/pkg/errors"
)

// PendingDepositRepository handles in-flight payment intents keyed by the
// gateway's own payment ID.
type PendingDepositRepository struct {
	pool *pgxpool.Pool
}

// NewPendingDepositRepository creates a new PendingDepositRepository.
func NewPendingDepositRepository(pool *pgxpool.Pool) *PendingDepositRepository {
	return &PendingDepositRepository{pool: pool}
}

const pendingDepositColumns = `payment_id, user_id, currency, target_eur_amount, expected_crypto_amount, kind, basket_snapshot, discount_code_used, discount_amount, bot_id, created_at`

func scanPendingDeposit(row pgx.Row) (*domain.PendingDeposit, error) {
	var d domain.PendingDeposit
	var snapshot []byte
	err := row.Scan(&d.PaymentID, &d.UserID, &d.Currency, &d.TargetEURAmount, &d.ExpectedCryptoAmount,
		&d.Kind, &snapshot, &d.DiscountCodeUsed, &d.DiscountAmount, &d.BotID, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &d.BasketSnapshot); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

// Create inserts a new pending deposit row. The payment ID comes from the
// gateway's CreatePayment response, so a collision here means the gateway
// reused an ID — an infrastructure anomaly, not a business condition.
func (r *PendingDepositRepository) Create(ctx context.Context, d *domain.PendingDeposit) error {
	snapshot, err := json.Marshal(d.BasketSnapshot)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO pending_deposits (`+pendingDepositColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.PaymentID, d.UserID, d.Currency, d.TargetEURAmount, d.ExpectedCryptoAmount,
		d.Kind, snapshot, d.DiscountCodeUsed, d.DiscountAmount, d.BotID, d.CreatedAt)
	return err
}

// GetByID retrieves a pending deposit, locking it FOR UPDATE inside tx when
// tx is non-nil. The finalizer always passes a tx it holds open through its
// own eventual Delete of the same row, so the lock is held continuously
// from lookup to delete — a concurrent IPN retry for the same payment ID
// blocks on the lock rather than racing the decision.
func (r *PendingDepositRepository) GetByID(ctx context.Context, tx pgx.Tx, paymentID string) (*domain.PendingDeposit, error) {
	query := `SELECT ` + pendingDepositColumns + ` FROM pending_deposits WHERE payment_id = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	d, err := scanPendingDeposit(queryable(r.pool, tx).QueryRow(ctx, query, paymentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrDepositNotFound
		}
		return nil, err
	}
	return d, nil
}

// Delete removes a pending deposit once it has been finalized (or
// abandoned), enlisted in tx.
func (r *PendingDepositRepository) Delete(ctx context.Context, tx pgx.Tx, paymentID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM pending_deposits WHERE payment_id = $1`, paymentID)
	return err
}

// ListByUser returns every open pending deposit for userID, most recent
// first, for the "check my deposit" recovery flow.
func (r *PendingDepositRepository) ListByUser(ctx context.Context, userID int64) ([]domain.PendingDeposit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pendingDepositColumns+` FROM pending_deposits
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingDeposit
	for rows.Next() {
		d, err := scanPendingDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListStale returns every pending deposit older than cutoffSeconds, for the
// periodic admin recovery report and auto-expiry sweep (kind=refill only;
// kind=purchase deposits are held indefinitely — the freeze extends
// indefinitely while a gateway "confirming" state is outstanding, so the
// scheduler filters by kind itself before acting on this list).
func (r *PendingDepositRepository) ListStale(ctx context.Context, cutoffSeconds int64) ([]domain.PendingDeposit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+pendingDepositColumns+` FROM pending_deposits
		WHERE created_at < NOW() - ($1 || ' seconds')::interval
		ORDER BY created_at`, cutoffSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingDeposit
	for rows.Next() {
		d, err := scanPendingDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
