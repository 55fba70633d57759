// Package reservation implements the inventory reservation engine: adding
// a product to a user's basket atomically claims one unit of stock, and
// that claim is released either explicitly, by a basket-wide timeout
// sweep, or by a purchase finalizing (which converts the reservation into
// a permanent deduction instead of releasing it).
package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/internal/repository"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/logger"
)

// Engine is the reservation engine. One unit of a product is "reserved"
// for at most one basket entry at a time; Available - Reserved is the
// count still offerable to other users.
type Engine struct {
	pool      *pgxpool.Pool
	products  *repository.ProductRepository
	baskets   *repository.BasketRepository
	deposits  *repository.PendingDepositRepository
	adminLogs *repository.AdminLogRepository
	logger    *logger.Logger
	basketTTL time.Duration
}

// New constructs a reservation Engine. basketTTL is how long an
// unconfirmed basket entry holds its reservation before the periodic
// sweep releases it back to the pool.
func New(pool *pgxpool.Pool, products *repository.ProductRepository, baskets *repository.BasketRepository, deposits *repository.PendingDepositRepository, adminLogs *repository.AdminLogRepository, log *logger.Logger, basketTTL time.Duration) *Engine {
	return &Engine{pool: pool, products: products, baskets: baskets, deposits: deposits, adminLogs: adminLogs, logger: log, basketTTL: basketTTL}
}

// releaseAndAudit releases one unit of productID's reservation inside tx
// and, if the MAX(0, reserved-1) floor actually triggered (a release with
// no matching claim left to consume), records it to the admin audit trail
// so a reservation that drifted out of sync with its basket entry is
// observable rather than silently absorbed.
func (e *Engine) releaseAndAudit(ctx context.Context, tx pgx.Tx, userID, productID int64) error {
	clamped, err := e.products.Release(ctx, tx, productID)
	if err != nil {
		return err
	}
	if !clamped || e.adminLogs == nil {
		return nil
	}
	return e.adminLogs.Insert(ctx, tx, domain.AdminLog{
		ActorID: userID,
		Kind:    "reservation_clamp",
		Detail:  fmt.Sprintf("product_id=%d reserved was already 0 on release", productID),
	})
}

// AddToBasket attempts to reserve one unit of productID for userID. The
// reservation increment and the basket-entry insert happen in the same
// transaction, guarded by a conditional UPDATE inside
// ProductRepository.TryReserve — if two users race for the last unit, the
// database's row lock resolves the race and exactly one call here
// succeeds; the loser gets errors.ErrOutOfStock, never a corrupted
// oversell.
func (e *Engine) AddToBasket(ctx context.Context, userID, productID int64) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	product, err := e.products.GetByID(ctx, tx, productID)
	if err != nil {
		return err
	}

	reserved, err := e.products.TryReserve(ctx, tx, productID)
	if err != nil {
		return err
	}
	if !reserved {
		return errors.ErrOutOfStock
	}

	entry := domain.BasketEntry{
		ProductID:           productID,
		ReservedAt:          time.Now(),
		SnapshotPrice:       product.Price,
		SnapshotProductType: product.ProductType,
	}
	if err := e.baskets.Insert(ctx, tx, userID, entry); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RemoveFromBasket releases userID's reservation on productID, if held.
func (e *Engine) RemoveFromBasket(ctx context.Context, userID, productID int64) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := e.baskets.Delete(ctx, tx, userID, productID); err != nil {
		return err
	}
	if err := e.releaseAndAudit(ctx, tx, userID, productID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListBasket returns userID's current basket entries.
func (e *Engine) ListBasket(ctx context.Context, userID int64) ([]domain.BasketEntry, error) {
	return e.baskets.ListByUser(ctx, userID)
}

// FreezeBasket clears userID's basket entries without releasing the
// underlying reservations — called when a checkout PendingDeposit is
// issued, so the reservation outlives the basket-timeout sweep while
// payment is outstanding. The reservation is only released later, by
// ReleaseSnapshot (payment abandoned/failed) or converted into a
// permanent deduction by the finalizer (payment succeeded).
func (e *Engine) FreezeBasket(ctx context.Context, tx pgx.Tx, userID int64) error {
	return e.baskets.DeleteAllByUser(ctx, tx, userID)
}

// FreezeBasketStandalone is FreezeBasket for callers that don't already
// hold a transaction, such as the checkout command handler committing the
// freeze on its own right after creating the PendingDeposit row.
func (e *Engine) FreezeBasketStandalone(ctx context.Context, userID int64) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := e.FreezeBasket(ctx, tx, userID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReleaseSnapshot releases the reservation for every product ID in items,
// used when a checkout deposit is abandoned or fails outright after the
// basket was already frozen into a PendingDeposit snapshot. userID is the
// deposit's owner, attributed on any reservation_clamp audit entry this
// triggers.
func (e *Engine) ReleaseSnapshot(ctx context.Context, userID int64, productIDs []int64) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, id := range productIDs {
		if err := e.releaseAndAudit(ctx, tx, userID, id); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ReleaseExpired runs the periodic sweep: every basket entry older than
// the configured TTL is released back to the shared pool and removed from
// its owner's basket. Deposits with Kind=Purchase already moved their
// entries out of basket_entries at checkout time (see FreezeBasket), so
// this sweep can never race a payment in flight.
func (e *Engine) ReleaseExpired(ctx context.Context) (int, error) {
	expired, err := e.baskets.ListExpired(ctx, int64(e.basketTTL.Seconds()))
	if err != nil {
		return 0, err
	}

	released := 0
	for _, item := range expired {
		tx, err := e.pool.Begin(ctx)
		if err != nil {
			return released, err
		}

		if err := e.baskets.Delete(ctx, tx, item.UserID, item.ProductID); err != nil {
			tx.Rollback(ctx)
			return released, err
		}
		if err := e.releaseAndAudit(ctx, tx, item.UserID, item.ProductID); err != nil {
			tx.Rollback(ctx)
			return released, err
		}
		if err := tx.Commit(ctx); err != nil {
			return released, err
		}
		released++
	}

	if released > 0 && e.logger != nil {
		e.logger.Info("released expired basket reservations", "count", released)
	}
	return released, nil
}
