// Package finalize implements PurchaseFinalizer: the only place a
// payment event turns into a balance credit, a delivered purchase, or a
// released reservation. Every decision assigned to this
// component — tolerance, refill-vs-purchase branching, retry scheduling,
// critical-invariant alerting — lives here; payment.Gateway and
// priceoracle.Oracle only supply normalized inputs.
package finalize

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/internal/discount"
	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/internal/payment"
	"github.com/dropbot/backend/internal/priceoracle"
	"github.com/dropbot/backend/internal/repository"
	"github.com/dropbot/backend/internal/reservation"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/logger"
	"github.com/dropbot/backend/pkg/money"
)

// toleranceRatio and toleranceGapEUR implement the acceptance rule
// for a Purchase-kind deposit: accept if the paid ratio clears the ratio
// floor OR the absolute EUR shortfall is small enough to eat silently.
var (
	toleranceRatio  = decimal.NewFromFloat(0.98)
	toleranceGapEUR = decimal.NewFromFloat(0.50)
)

// retrySchedule is the finalize-failure backoff: 5s, 15s, 45s, then give
// up and raise a critical admin alert.
var retrySchedule = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}

// Notifier is the subset of BotFleet the finalizer needs to reach a
// customer or an admin. Declared locally so finalize doesn't import the
// whole botfleet package just to send two kinds of message.
type Notifier interface {
	NotifyUser(ctx context.Context, botID string, userID int64, text string)
	NotifyAdmins(ctx context.Context, text string)
	DeliverPurchase(ctx context.Context, botID string, userID int64, items []domain.BasketSnapshotItem) error
}

// Finalizer implements PurchaseFinalizer.
type Finalizer struct {
	pool      *pgxpool.Pool
	deposits  *repository.PendingDepositRepository
	users     *repository.UserRepository
	products  *repository.ProductRepository
	purchases *repository.PurchaseRepository
	adminLogs *repository.AdminLogRepository
	resEngine *reservation.Engine
	discounts *discount.Resolver
	oracle    *priceoracle.Oracle
	notifier  Notifier
	logger    *logger.Logger

	retryQueue chan retryJob
}

type retryJob struct {
	paymentID string
	attempt   int
}

// New constructs a Finalizer. It does not start the retry-queue worker: the
// caller runs Run in its own goroutine, matching the shape used elsewhere in
// this service (one goroutine per component, cancelled via the caller's
// context).
func New(pool *pgxpool.Pool, deposits *repository.PendingDepositRepository, users *repository.UserRepository,
	products *repository.ProductRepository, purchases *repository.PurchaseRepository, adminLogs *repository.AdminLogRepository,
	resEngine *reservation.Engine, discounts *discount.Resolver, oracle *priceoracle.Oracle, notifier Notifier, log *logger.Logger) *Finalizer {
	f := &Finalizer{
		pool: pool, deposits: deposits, users: users, products: products, purchases: purchases,
		adminLogs: adminLogs, resEngine: resEngine, discounts: discounts, oracle: oracle,
		notifier: notifier, logger: log,
		retryQueue: make(chan retryJob, 256),
	}
	return f
}

// Run drains the retry queue until ctx is cancelled.
func (f *Finalizer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-f.retryQueue:
			f.runRetry(ctx, job)
		}
	}
}

func (f *Finalizer) scheduleRetry(paymentID string, attempt int) {
	if attempt >= len(retrySchedule) {
		if f.logger != nil {
			f.logger.Error("purchase finalize retries exhausted", "payment_id", paymentID)
		}
		if f.notifier != nil {
			f.notifier.NotifyAdmins(context.Background(),
				fmt.Sprintf("finalize exhausted for payment %s — needs manual recovery", paymentID))
		}
		return
	}
	delay := retrySchedule[attempt]
	time.AfterFunc(delay, func() {
		select {
		case f.retryQueue <- retryJob{paymentID: paymentID, attempt: attempt}:
		default:
			if f.logger != nil {
				f.logger.Warn("finalize retry queue full, dropping retry", "payment_id", paymentID)
			}
		}
	})
}

// beginAndLock opens a transaction and fetches the deposit FOR UPDATE
// inside it, so the lookup and whatever the caller does next (finalize,
// delete, refund) hold the row lock continuously until commit. A second
// concurrent call for the same payment ID blocks on the lock rather than
// also passing a "deposit still exists" check — that's what makes the
// eventual delete an atomic lookup-and-delete instead of a read that can
// race its own write.
func (f *Finalizer) beginAndLock(ctx context.Context, paymentID string) (pgx.Tx, *domain.PendingDeposit, error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	deposit, err := f.deposits.GetByID(ctx, tx, paymentID)
	if err != nil {
		tx.Rollback(ctx)
		return nil, nil, err
	}
	return tx, deposit, nil
}

func (f *Finalizer) releaseSnapshotReservations(ctx context.Context, deposit *domain.PendingDeposit) {
	productIDs := make([]int64, 0, len(deposit.BasketSnapshot))
	for _, item := range deposit.BasketSnapshot {
		productIDs = append(productIDs, item.ProductID)
	}
	if err := f.resEngine.ReleaseSnapshot(ctx, deposit.UserID, productIDs); err != nil && f.logger != nil {
		f.logger.Error("failed to release reservations after deposit resolution", "payment_id", deposit.PaymentID, "error", err)
	}
}

func (f *Finalizer) runRetry(ctx context.Context, job retryJob) {
	tx, deposit, err := f.beginAndLock(ctx, job.paymentID)
	if err != nil {
		return
	}
	defer tx.Rollback(ctx)
	if err := f.finalizePurchase(ctx, tx, deposit); err != nil {
		f.scheduleRetry(job.paymentID, job.attempt+1)
	}
}

// OnPaymentEvent implements the 6-step Finished/Confirmed/PartiallyPaid
// algorithm plus the Expired/Failed/Refunded branch.
func (f *Finalizer) OnPaymentEvent(ctx context.Context, event payment.Event) error {
	if event.IsChildSplit() {
		return nil
	}

	switch event.Kind {
	case payment.EventExpired, payment.EventFailed, payment.EventRefunded:
		return f.onTerminalNonPayment(ctx, event)
	case payment.EventFinished, payment.EventConfirmed, payment.EventPartiallyPaid:
		return f.onPaid(ctx, event)
	default:
		// Waiting/Confirming: no state transition yet.
		return nil
	}
}

func (f *Finalizer) onTerminalNonPayment(ctx context.Context, event payment.Event) error {
	tx, deposit, err := f.beginAndLock(ctx, event.PaymentID)
	if err != nil {
		if err == errors.ErrDepositNotFound {
			return nil
		}
		return err
	}
	defer tx.Rollback(ctx)

	if err := f.deposits.Delete(ctx, tx, deposit.PaymentID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	f.releaseSnapshotReservations(ctx, deposit)

	if f.notifier != nil {
		f.notifier.NotifyUser(ctx, deposit.BotID, deposit.UserID, "Your payment was not completed in time and has been cancelled.")
	}
	return nil
}

func (f *Finalizer) onPaid(ctx context.Context, event payment.Event) error {
	if event.ActuallyPaid.Sign() <= 0 {
		return nil
	}

	tx, deposit, err := f.beginAndLock(ctx, event.PaymentID)
	if err != nil {
		if err == errors.ErrDepositNotFound {
			return nil // already processed
		}
		return err
	}
	defer tx.Rollback(ctx)

	if deposit.Currency != "" && event.PayCurrency != "" && deposit.Currency != event.PayCurrency {
		if err := f.deposits.Delete(ctx, tx, deposit.PaymentID); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		f.releaseSnapshotReservations(ctx, deposit)
		return errors.ErrCurrencyMismatch
	}

	paidEUR := f.resolvePaidEUR(ctx, event, deposit)

	if deposit.Kind == domain.DepositKindRefill {
		return f.creditRefill(ctx, tx, deposit, paidEUR)
	}
	return f.handlePurchaseEvent(ctx, tx, deposit, paidEUR)
}

// resolvePaidEUR implements step 5: prefer the event's own EUR outcome,
// else PriceOracle, else proportional computation from expected amount.
func (f *Finalizer) resolvePaidEUR(ctx context.Context, event payment.Event, deposit *domain.PendingDeposit) decimal.Decimal {
	if event.OutcomeAmount.Sign() > 0 {
		return money.RoundDownCents(event.OutcomeAmount)
	}

	if f.oracle != nil {
		price, source := f.oracle.PriceEUR(ctx, event.PayCurrency)
		if source != priceoracle.SourceUnavailable {
			return money.RoundDownCents(event.ActuallyPaid.Mul(price))
		}
	}

	if deposit.ExpectedCryptoAmount.Sign() > 0 {
		ratio := event.ActuallyPaid.Div(deposit.ExpectedCryptoAmount)
		return money.RoundDownCents(deposit.TargetEURAmount.Mul(ratio))
	}

	return decimal.Zero
}

func (f *Finalizer) creditRefill(ctx context.Context, tx pgx.Tx, deposit *domain.PendingDeposit, paidEUR decimal.Decimal) error {
	if _, err := f.users.LockForUpdate(ctx, tx, deposit.UserID); err != nil {
		return err
	}
	if err := f.users.AdjustBalance(ctx, tx, deposit.UserID, paidEUR); err != nil {
		return err
	}
	if err := f.deposits.Delete(ctx, tx, deposit.PaymentID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if f.notifier != nil {
		f.notifier.NotifyUser(ctx, deposit.BotID, deposit.UserID,
			fmt.Sprintf("Your balance has been credited %s EUR.", money.FormatCents(paidEUR)))
	}
	return nil
}

func (f *Finalizer) handlePurchaseEvent(ctx context.Context, tx pgx.Tx, deposit *domain.PendingDeposit, paidEUR decimal.Decimal) error {
	if !meetsTolerance(deposit, paidEUR) {
		return f.refundUnderpayment(ctx, tx, deposit, paidEUR)
	}

	if err := f.finalizePurchase(ctx, tx, deposit); err != nil {
		f.scheduleRetry(deposit.PaymentID, 0)
		return err
	}

	if paidEUR.GreaterThan(deposit.TargetEURAmount) {
		surplus := money.RoundDownCents(paidEUR.Sub(deposit.TargetEURAmount))
		if surplus.Sign() > 0 {
			f.creditSurplus(ctx, deposit.UserID, surplus)
		}
	}
	return nil
}

func meetsTolerance(deposit *domain.PendingDeposit, paidEUR decimal.Decimal) bool {
	if deposit.TargetEURAmount.Sign() <= 0 {
		return true
	}
	ratio := paidEUR.Div(deposit.TargetEURAmount)
	if ratio.GreaterThanOrEqual(toleranceRatio) {
		return true
	}
	gap := deposit.TargetEURAmount.Sub(paidEUR)
	return gap.LessThanOrEqual(toleranceGapEUR)
}

func (f *Finalizer) refundUnderpayment(ctx context.Context, tx pgx.Tx, deposit *domain.PendingDeposit, paidEUR decimal.Decimal) error {
	if _, err := f.users.LockForUpdate(ctx, tx, deposit.UserID); err != nil {
		return err
	}
	if err := f.users.AdjustBalance(ctx, tx, deposit.UserID, paidEUR); err != nil {
		return err
	}
	if err := f.adminLogs.Insert(ctx, tx, domain.AdminLog{
		ActorID: deposit.UserID,
		Kind:    "underpayment_refund",
		Detail:  fmt.Sprintf("payment_id=%s credited=%s", deposit.PaymentID, money.FormatCents(paidEUR)),
	}); err != nil {
		return err
	}
	if err := f.deposits.Delete(ctx, tx, deposit.PaymentID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	f.releaseSnapshotReservations(ctx, deposit)

	if f.notifier != nil {
		f.notifier.NotifyUser(ctx, deposit.BotID, deposit.UserID,
			fmt.Sprintf("Your payment was underpaid. %s EUR has been credited to your balance.", money.FormatCents(paidEUR)))
	}
	return nil
}

func (f *Finalizer) creditSurplus(ctx context.Context, userID int64, surplus decimal.Decimal) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return
	}
	defer tx.Rollback(ctx)
	if _, err := f.users.LockForUpdate(ctx, tx, userID); err != nil {
		return
	}
	if err := f.users.AdjustBalance(ctx, tx, userID, surplus); err != nil {
		return
	}
	_ = tx.Commit(ctx)
}

// finalizePurchase implements the atomic finalize step: deduct stock per
// item (best-effort — an item that's gone still lets the rest of the
// basket deliver), insert Purchase rows, bump total_purchases, delete the
// deposit and commit, then dispatch delivery outside the transaction. tx
// must already hold the deposit's row lock (see beginAndLock) so this
// commit is the one atomic point a concurrent retry for the same payment
// ID can't also reach.
func (f *Finalizer) finalizePurchase(ctx context.Context, tx pgx.Tx, deposit *domain.PendingDeposit) error {
	var delivered []domain.BasketSnapshotItem
	for _, item := range deposit.BasketSnapshot {
		if err := f.products.Deduct(ctx, tx, item.ProductID); err != nil {
			if f.adminLogs != nil {
				_ = f.adminLogs.Insert(ctx, tx, domain.AdminLog{
					ActorID: deposit.UserID,
					Kind:    "delivery_item_unavailable",
					Detail:  fmt.Sprintf("payment_id=%s product_id=%d", deposit.PaymentID, item.ProductID),
				})
			}
			continue
		}
		if err := f.purchases.Insert(ctx, tx, &domain.Purchase{
			UserID: deposit.UserID, BotID: deposit.BotID, Name: item.Name,
			ProductType: item.ProductType, Size: item.Size, City: item.City,
			District: item.District, PricePaid: item.PricePaid,
		}); err != nil {
			return err
		}
		delivered = append(delivered, item)
	}

	if deposit.DiscountCodeUsed != "" {
		scope := discount.BasketScope{}
		for _, item := range delivered {
			scope.Cities = append(scope.Cities, item.City)
			scope.ProductTypes = append(scope.ProductTypes, item.ProductType)
			scope.Sizes = append(scope.Sizes, item.Size)
		}
		if err := f.discounts.ValidateAndConsume(ctx, tx, deposit.UserID, deposit.DiscountCodeUsed, deposit.DiscountAmount, scope); err != nil {
			// Code already consumed by a prior attempt, no longer valid, or
			// the delivered basket no longer matches its scope: the purchase
			// itself still completes, the discount simply isn't re-applied.
			if f.logger != nil {
				f.logger.Warn("discount code consume skipped during finalize", "payment_id", deposit.PaymentID, "error", err)
			}
		}
	}

	for range delivered {
		if err := f.users.IncrementPurchases(ctx, tx, deposit.UserID); err != nil {
			return err
		}
	}
	if err := f.deposits.Delete(ctx, tx, deposit.PaymentID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if f.notifier != nil && len(delivered) > 0 {
		if err := f.notifier.DeliverPurchase(ctx, deposit.BotID, deposit.UserID, delivered); err != nil {
			if f.logger != nil {
				f.logger.Error("purchase delivery dispatch failed", "payment_id", deposit.PaymentID, "error", err)
			}
			f.notifier.NotifyAdmins(ctx, fmt.Sprintf("delivery dispatch failed for payment %s, purchase is committed — redeliver manually", deposit.PaymentID))
		}
	}
	return nil
}

// abandon locks and deletes the deposit identified by paymentID in one
// transaction, returning the locked row so the caller can use its fields
// (BotID, UserID, BasketSnapshot) for post-commit notification and
// reservation release.
func (f *Finalizer) abandon(ctx context.Context, paymentID string) (*domain.PendingDeposit, error) {
	tx, deposit, err := f.beginAndLock(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	if err := f.deposits.Delete(ctx, tx, deposit.PaymentID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return deposit, nil
}

// ExpireStaleDeposit discards a refill-kind deposit that aged out with no
// terminal gateway event — no payment ever arrived, so there is nothing to
// credit and (refills hold no stock reservation) nothing to release; this
// is JobScheduler's pending-deposit-expiry action, distinct from
// ManualRecover which assumes a payment really was made. The scheduler's
// sweep reads deposit unlocked, so the payment ID is re-locked and
// re-fetched here rather than trusting it's still the row being deleted.
func (f *Finalizer) ExpireStaleDeposit(ctx context.Context, deposit *domain.PendingDeposit) error {
	locked, err := f.abandon(ctx, deposit.PaymentID)
	if err != nil {
		if err == errors.ErrDepositNotFound {
			return nil
		}
		return err
	}
	if f.notifier != nil {
		f.notifier.NotifyUser(ctx, locked.BotID, locked.UserID,
			"Your deposit request expired before payment was received and has been cancelled.")
	}
	return nil
}

// ManualRecover re-drives OnPaymentEvent's finalize path for a deposit an
// admin has decided to force through, bypassing the retry queue's
// scheduling delay.
func (f *Finalizer) ManualRecover(ctx context.Context, paymentID string) error {
	tx, deposit, err := f.beginAndLock(ctx, paymentID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if deposit.Kind == domain.DepositKindRefill {
		return f.creditRefill(ctx, tx, deposit, deposit.TargetEURAmount)
	}
	return f.finalizePurchase(ctx, tx, deposit)
}
