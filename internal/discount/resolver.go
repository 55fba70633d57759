// Package discount resolves the price a user actually pays at checkout.
// Pricing runs as a two-layer pipeline: a reseller's standing
// percentage-off rule for the product type applies first, then an
// optional general discount code the user entered applies to what's left.
// Both layers round down to the cent at every step, so the total can
// never come out a cent higher than what the pipeline actually computed.
package discount

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/internal/repository"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/money"
)

// Resolver applies reseller rules and general discount codes to a basket.
type Resolver struct {
	repo *repository.DiscountRepository
}

// New constructs a Resolver.
func New(repo *repository.DiscountRepository) *Resolver {
	return &Resolver{repo: repo}
}

// LineItem is one product entering the pricing pipeline.
type LineItem struct {
	ProductID   int64
	ProductType string
	City        string
	Size        string
	BasePrice   decimal.Decimal
}

// PricedLineItem is a LineItem after both discount layers have applied.
type PricedLineItem struct {
	LineItem
	ResellerDiscount decimal.Decimal
	CodeDiscount     decimal.Decimal
	FinalPrice       decimal.Decimal
}

// Quote is the result of pricing a basket: per-item breakdown plus the
// basket total, before any code has been consumed.
type Quote struct {
	Items      []PricedLineItem
	Subtotal   decimal.Decimal
	Total      decimal.Decimal
	CodeApplied string
}

// Price applies the reseller layer (if buyerID has one) and then, if code
// is non-empty, the general-code layer, to every item. It performs no
// writes — ValidateAndConsume does that once the user confirms checkout,
// so a quote can be shown speculatively without burning a code's cap.
func (r *Resolver) Price(ctx context.Context, buyerID int64, isReseller bool, items []LineItem, code string) (*Quote, error) {
	priced := make([]PricedLineItem, 0, len(items))
	subtotal := decimal.Zero

	var dc *domain.DiscountCode
	if code != "" {
		var err error
		dc, err = r.repo.GetCode(ctx, nil, normalizeCode(code))
		if err != nil {
			return nil, err
		}
		if err := validateCodeUsable(dc); err != nil {
			return nil, err
		}
	}

	for _, item := range items {
		line := PricedLineItem{LineItem: item}
		running := money.RoundDownCents(item.BasePrice)

		if isReseller {
			rule, err := r.repo.GetResellerRule(ctx, buyerID, item.ProductType)
			if err != nil && err != errors.ErrNotFound {
				return nil, err
			}
			if rule != nil && rule.PercentOff.Sign() > 0 {
				discounted := money.ApplyPercentDiscount(running, rule.PercentOff)
				line.ResellerDiscount = running.Sub(discounted)
				running = discounted
			}
		}

		if dc != nil && codeAppliesTo(dc, item) {
			before := running
			running = applyCode(running, dc)
			line.CodeDiscount = before.Sub(running)
		}

		line.FinalPrice = money.ClampNonNegative(running)
		subtotal = subtotal.Add(money.RoundDownCents(item.BasePrice))
		priced = append(priced, line)
	}

	total := decimal.Zero
	for _, p := range priced {
		total = total.Add(p.FinalPrice)
	}

	quote := &Quote{Items: priced, Subtotal: subtotal, Total: total}
	if dc != nil {
		quote.CodeApplied = dc.Code
	}
	return quote, nil
}

// BasketScope describes the cities, product types and sizes present in a
// basket at the moment it's being confirmed, so ValidateAndConsume can
// re-check a code's allowed_* scope against what's actually being bought
// rather than trusting the scope match a prior speculative Price quoted.
type BasketScope struct {
	Cities       []string
	ProductTypes []string
	Sizes        []string
}

// ValidateAndConsume re-validates code against buyerID's usage history and
// basket, then atomically increments its usage counters, enlisted in the
// caller's checkout transaction. Re-running GetCode/validateCodeUsable/scope
// matching here (rather than trusting the earlier Price call) closes the
// gap between quoting and confirming: a code that expired, hit its cap, or
// no longer applies to the confirmed basket must not be silently honored.
func (r *Resolver) ValidateAndConsume(ctx context.Context, tx pgx.Tx, buyerID int64, code string, discountAmount decimal.Decimal, scope BasketScope) error {
	code = normalizeCode(code)
	dc, err := r.repo.GetCode(ctx, tx, code)
	if err != nil {
		return err
	}
	if err := validateCodeUsable(dc); err != nil {
		return err
	}
	if !scopeMatches(dc, scope) {
		return errors.ErrCodeScopeMismatch
	}
	if dc.PerUserCap != nil {
		uses, err := r.repo.CountUsesByUser(ctx, tx, buyerID, code)
		if err != nil {
			return err
		}
		if uses >= *dc.PerUserCap {
			return errors.ErrCodeLimitReached
		}
	}
	return r.repo.ConsumeCode(ctx, tx, buyerID, code, discountAmount)
}

func validateCodeUsable(dc *domain.DiscountCode) error {
	if !dc.Active {
		return errors.ErrCodeInactive
	}
	if dc.ExpiresAt != nil && dc.ExpiresAt.Before(time.Now()) {
		return errors.ErrCodeExpired
	}
	if dc.TotalCap != nil && dc.UsesCount >= *dc.TotalCap {
		return errors.ErrCodeLimitReached
	}
	return nil
}

// scopeMatches reports whether dc's allowed_* restrictions still permit at
// least one item of the confirmed basket. It's the re-validation
// counterpart of codeAppliesTo: that function filters a single quoted line
// item during Price, this one checks the basket as a whole at consume
// time, after it may have changed since the quote.
func scopeMatches(dc *domain.DiscountCode, scope BasketScope) bool {
	if len(dc.AllowedCities) > 0 && !anyContainsFold(dc.AllowedCities, scope.Cities) {
		return false
	}
	if len(dc.AllowedProductTypes) > 0 && !anyContainsFold(dc.AllowedProductTypes, scope.ProductTypes) {
		return false
	}
	if len(dc.AllowedSizes) > 0 && !anyContainsFold(dc.AllowedSizes, scope.Sizes) {
		return false
	}
	return true
}

func anyContainsFold(allowed, present []string) bool {
	for _, p := range present {
		if containsFold(allowed, p) {
			return true
		}
	}
	return false
}

func codeAppliesTo(dc *domain.DiscountCode, item LineItem) bool {
	if len(dc.AllowedCities) > 0 && !containsFold(dc.AllowedCities, item.City) {
		return false
	}
	if len(dc.AllowedProductTypes) > 0 && !containsFold(dc.AllowedProductTypes, item.ProductType) {
		return false
	}
	if len(dc.AllowedSizes) > 0 && !containsFold(dc.AllowedSizes, item.Size) {
		return false
	}
	return true
}

func applyCode(amount decimal.Decimal, dc *domain.DiscountCode) decimal.Decimal {
	switch dc.Kind {
	case domain.DiscountKindPercentage:
		return money.ApplyPercentDiscount(amount, dc.Value)
	case domain.DiscountKindFixed:
		return money.ClampNonNegative(money.RoundDownCents(amount.Sub(dc.Value)))
	default:
		return amount
	}
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
