// Package scheduler runs JobScheduler: the fixed set of periodic
// maintenance jobs every long-running instance of this service performs —
// basket expiry, deposit expiry, reservation reconciliation, price
// refresh and, in direct-chain mode, a deposit poller. Bot health checks
// are not one of these jobs: botfleet.Fleet.Start runs its own 60s loop.
// Every job is idempotent and safe to run concurrently with itself or any
// other job.
//
// One goroutine per job, each with its own ticker, "run once at startup then
// tick" shape, and shutdown via a shared cancellable context rather than a
// per-job done channel (simpler, since every job here already takes a
// ctx).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dropbot/backend/internal/catalog"
	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/internal/finalize"
	"github.com/dropbot/backend/internal/priceoracle"
	"github.com/dropbot/backend/internal/repository"
	"github.com/dropbot/backend/internal/reservation"
	"github.com/dropbot/backend/pkg/logger"
)

const (
	basketSweepInterval      = 1 * time.Minute
	depositExpiryInterval    = 5 * time.Minute
	reservationSweepInterval = 10 * time.Minute
	priceRefreshInterval     = 4 * time.Minute
	depositPollInterval      = 30 * time.Second

	// depositLifetime is how old a refill-kind pending deposit must be,
	// with no terminal gateway event, before the sweep treats it as
	// Expired. Purchase-kind deposits are never aged out here — by design
	// their freeze extends indefinitely while the gateway reports
	// Confirming, so only an explicit terminal IPN or admin action
	// resolves them.
	depositLifetime = 2 * time.Hour
)

// DepositPoller is the optional direct-chain reconciliation source: when
// configured, the scheduler asks it to scan a watched wallet for inbound
// transactions matching open deposits. Read-only by design — it reports
// findings, it never finalizes anything itself.
type DepositPoller interface {
	PollOnce(ctx context.Context) error
}

// Scheduler owns the goroutines behind every periodic job in §4.8.
type Scheduler struct {
	reservations *reservation.Engine
	deposits     *repository.PendingDepositRepository
	discounts    *repository.DiscountRepository
	products     *repository.ProductRepository
	oracle       *priceoracle.Oracle
	finalizer    *finalize.Finalizer
	cat          *catalog.Catalog
	poller       DepositPoller // nil unless direct-chain mode is configured
	logger       *logger.Logger

	wg sync.WaitGroup
}

// New constructs a Scheduler. poller may be nil.
func New(
	reservations *reservation.Engine,
	deposits *repository.PendingDepositRepository,
	discounts *repository.DiscountRepository,
	products *repository.ProductRepository,
	oracle *priceoracle.Oracle,
	finalizer *finalize.Finalizer,
	cat *catalog.Catalog,
	poller DepositPoller,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		reservations: reservations,
		deposits:     deposits,
		discounts:    discounts,
		products:     products,
		oracle:       oracle,
		finalizer:    finalizer,
		cat:          cat,
		poller:       poller,
		logger:       log,
	}
}

// Start launches every job's goroutine. Jobs stop when ctx is cancelled;
// call Wait afterwards to block until they have all returned.
func (s *Scheduler) Start(ctx context.Context) {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"basket_expiry_sweep", basketSweepInterval, s.runBasketSweep},
		{"pending_deposit_expiry", depositExpiryInterval, s.runDepositExpiry},
		{"abandoned_reservation_sweep", reservationSweepInterval, s.runReservationSweep},
		{"price_refresh", priceRefreshInterval, s.runPriceRefresh},
	}
	if s.poller != nil {
		jobs = append(jobs, struct {
			name     string
			interval time.Duration
			run      func(context.Context)
		}{"deposit_poller", depositPollInterval, s.runDepositPoll})
	}

	for _, job := range jobs {
		s.wg.Add(1)
		go s.runTicked(ctx, job.name, job.interval, job.run)
	}
}

// Wait blocks until every job goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// runTicked is the shared ticker-per-job loop: run once immediately, then
// on every tick, until ctx is cancelled.
func (s *Scheduler) runTicked(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	defer s.wg.Done()

	s.runSafely(ctx, name, job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSafely(ctx, name, job)
		}
	}
}

// runSafely recovers a job panic so one misbehaving job can never take the
// whole scheduler down; the rest keep ticking.
func (s *Scheduler) runSafely(ctx context.Context, name string, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("scheduler job panicked", "job", name, "panic", r)
		}
	}()
	job(ctx)
}

func (s *Scheduler) runBasketSweep(ctx context.Context) {
	released, err := s.reservations.ReleaseExpired(ctx)
	if err != nil && s.logger != nil {
		s.logger.Error("basket expiry sweep failed", "error", err)
		return
	}
	if released > 0 && s.logger != nil {
		s.logger.Info("basket expiry sweep completed", "released", released)
	}
}

func (s *Scheduler) runDepositExpiry(ctx context.Context) {
	stale, err := s.deposits.ListStale(ctx, int64(depositLifetime.Seconds()))
	if err != nil {
		if s.logger != nil {
			s.logger.Error("pending deposit expiry scan failed", "error", err)
		}
		return
	}

	for _, deposit := range stale {
		if deposit.Kind != domain.DepositKindRefill {
			continue
		}
		d := deposit
		if err := s.finalizer.ExpireStaleDeposit(ctx, &d); err != nil && s.logger != nil {
			s.logger.Error("failed to expire stale deposit", "payment_id", d.PaymentID, "error", err)
		}
	}

	expiredCodes, err := s.discounts.ExpireOldCodes(ctx, time.Now())
	if err != nil && s.logger != nil {
		s.logger.Error("discount code expiry failed", "error", err)
		return
	}
	if expiredCodes > 0 && s.logger != nil {
		s.logger.Info("expired discount codes deactivated", "count", expiredCodes)
	}
}

func (s *Scheduler) runReservationSweep(ctx context.Context) {
	adjusted, err := s.products.ReconcileReserved(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("abandoned reservation sweep failed", "error", err)
		}
		return
	}
	if adjusted > 0 && s.logger != nil {
		s.logger.Warn("reconciled orphaned product reservations", "products_adjusted", adjusted)
	}
}

func (s *Scheduler) runPriceRefresh(ctx context.Context) {
	s.oracle.RefreshAll(ctx, priceoracle.SupportedCryptos)
	if s.cat != nil {
		if err := s.cat.Refresh(ctx); err != nil && s.logger != nil {
			s.logger.Error("catalog refresh failed", "error", err)
		}
	}
}

func (s *Scheduler) runDepositPoll(ctx context.Context) {
	if err := s.poller.PollOnce(ctx); err != nil && s.logger != nil {
		s.logger.Warn("deposit poller run failed", "error", err)
	}
}
