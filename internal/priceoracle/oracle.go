// Package priceoracle resolves the EUR spot price of a supported crypto
// currency, for display and for reconciliation fallback when a payment
// event carries no EUR outcome of its own. It is never load-bearing for
// money actually owed — only a cache-and-rotate convenience layer over
// providers that may be down or slow.
package priceoracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/pkg/logger"
)

// Source identifies where a price value came from, returned alongside the
// value so callers can decide how much to trust it.
type Source string

const (
	SourceInProcessCache Source = "in_process_cache"
	SourceDurableCache   Source = "durable_cache"
	SourceLive           Source = "live"
	SourceStale          Source = "stale"
	SourceUnavailable    Source = "unavailable"
)

const (
	inProcessTTL  = 5 * time.Minute
	durableTTL    = 10 * time.Minute
	staleCeiling  = time.Hour
	refreshPeriod = 4 * time.Minute
	providerTimeout = 3 * time.Second
)

// Provider fetches a live EUR price for a crypto currency code (e.g.
// "btc", "eth", "sol", "usdt", "ltc").
type Provider interface {
	Name() string
	FetchEUR(ctx context.Context, crypto string) (decimal.Decimal, error)
}

type cacheEntry struct {
	value     decimal.Decimal
	fetchedAt time.Time
}

// Oracle caches and rotates across Provider implementations. Providers are
// tried in round-robin order starting from the last successful one, so a
// degraded provider doesn't get hit first on every call.
type Oracle struct {
	redis     *redis.Client
	logger    *logger.Logger
	providers []Provider

	mu      sync.RWMutex
	inMem   map[string]cacheEntry
	nextIdx int
}

// New constructs an Oracle over providers, tried in the given order.
func New(redisClient *redis.Client, log *logger.Logger, providers ...Provider) *Oracle {
	return &Oracle{
		redis:     redisClient,
		logger:    log,
		providers: providers,
		inMem:     make(map[string]cacheEntry),
	}
}

// PriceEUR never returns an error from the caller's perspective for a
// transient failure: on total provider exhaustion it returns
// (decimal.Zero, SourceUnavailable), and callers are responsible for
// falling back to an alternative EUR source (gateway outcome, proportional
// computation) rather than treating the zero value as a real price.
func (o *Oracle) PriceEUR(ctx context.Context, crypto string) (decimal.Decimal, Source) {
	crypto = normalizeCrypto(crypto)

	if v, ok := o.freshInMemory(crypto); ok {
		return v, SourceInProcessCache
	}

	if v, ok := o.fromDurableCache(ctx, crypto); ok {
		o.setInMemory(crypto, v)
		return v, SourceDurableCache
	}

	if v, ok := o.fetchLive(ctx, crypto); ok {
		o.setInMemory(crypto, v)
		o.writeDurableCache(ctx, crypto, v)
		return v, SourceLive
	}

	if v, ok := o.staleInMemory(crypto); ok {
		return v, SourceStale
	}

	return decimal.Zero, SourceUnavailable
}

func (o *Oracle) freshInMemory(crypto string) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.inMem[crypto]
	if !ok || time.Since(e.fetchedAt) > inProcessTTL {
		return decimal.Zero, false
	}
	return e.value, true
}

func (o *Oracle) staleInMemory(crypto string) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.inMem[crypto]
	if !ok || time.Since(e.fetchedAt) > staleCeiling {
		return decimal.Zero, false
	}
	return e.value, true
}

func (o *Oracle) setInMemory(crypto string, v decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inMem[crypto] = cacheEntry{value: v, fetchedAt: time.Now()}
}

func (o *Oracle) durableKey(crypto string) string {
	return "price:eur:" + crypto
}

func (o *Oracle) fromDurableCache(ctx context.Context, crypto string) (decimal.Decimal, bool) {
	if o.redis == nil {
		return decimal.Zero, false
	}
	s, err := o.redis.Get(ctx, o.durableKey(crypto)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func (o *Oracle) writeDurableCache(ctx context.Context, crypto string, v decimal.Decimal) {
	if o.redis == nil {
		return
	}
	if err := o.redis.Set(ctx, o.durableKey(crypto), v.String(), durableTTL).Err(); err != nil && o.logger != nil {
		o.logger.Warn("price oracle durable cache write failed", "error", err, "crypto", crypto)
	}
}

// fetchLive round-robins across providers, starting from the provider
// after the last successful one, giving each up to providerTimeout.
func (o *Oracle) fetchLive(ctx context.Context, crypto string) (decimal.Decimal, bool) {
	o.mu.RLock()
	start := o.nextIdx
	o.mu.RUnlock()

	n := len(o.providers)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		provider := o.providers[idx]

		pctx, cancel := context.WithTimeout(ctx, providerTimeout)
		v, err := provider.FetchEUR(pctx, crypto)
		cancel()
		if err == nil && v.Sign() > 0 {
			o.mu.Lock()
			o.nextIdx = (idx + 1) % n
			o.mu.Unlock()
			return v, true
		}
		if o.logger != nil {
			o.logger.Warn("price provider failed", "provider", provider.Name(), "crypto", crypto, "error", err)
		}
	}
	return decimal.Zero, false
}

// RefreshAll force-refetches every crypto in cryptos and stores each fresh
// value in both cache tiers, called by the scheduler's 4-minute
// price-refresh job. Each symbol gets its own bounded backoff retry instead
// of one shared deadline, so one stuck provider can't starve the rest of
// the refresh.
func (o *Oracle) RefreshAll(ctx context.Context, cryptos []string) {
	for _, crypto := range cryptos {
		crypto := normalizeCrypto(crypto)
		b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
		b = backoff.WithContext(b, ctx)
		_ = backoff.Retry(func() error {
			v, ok := o.fetchLive(ctx, crypto)
			if !ok {
				return fmt.Errorf("price refresh failed for %s", crypto)
			}
			o.setInMemory(crypto, v)
			o.writeDurableCache(ctx, crypto, v)
			return nil
		}, b)
	}
}

// Invalidate drops the in-process cache entry for crypto, forcing the next
// PriceEUR call past the in-process tier.
func (o *Oracle) Invalidate(crypto string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inMem, normalizeCrypto(crypto))
}

func normalizeCrypto(crypto string) string {
	out := make([]byte, 0, len(crypto))
	for i := 0; i < len(crypto); i++ {
		c := crypto[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
