package discount

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dropbot/backend/internal/domain"
	"github.com/dropbot/backend/pkg/errors"
)

func TestApplyCode_Percentage(t *testing.T) {
	dc := &domain.DiscountCode{Kind: domain.DiscountKindPercentage, Value: decimal.NewFromInt(10)}
	got := applyCode(decimal.NewFromFloat(19.99), dc)
	assert.Equal(t, "17.99", got.StringFixed(2))
}

func TestApplyCode_Fixed(t *testing.T) {
	dc := &domain.DiscountCode{Kind: domain.DiscountKindFixed, Value: decimal.NewFromInt(5)}
	got := applyCode(decimal.NewFromFloat(19.99), dc)
	assert.Equal(t, "14.99", got.StringFixed(2))
}

func TestApplyCode_FixedNeverGoesNegative(t *testing.T) {
	dc := &domain.DiscountCode{Kind: domain.DiscountKindFixed, Value: decimal.NewFromInt(50)}
	got := applyCode(decimal.NewFromFloat(19.99), dc)
	assert.True(t, got.IsZero(), "a fixed discount larger than the amount clamps to zero")
}

func TestCodeAppliesTo_ScopeFiltersMatch(t *testing.T) {
	dc := &domain.DiscountCode{
		AllowedCities:       []string{"Berlin"},
		AllowedProductTypes: []string{"widget"},
	}
	item := LineItem{City: "berlin", ProductType: "Widget", Size: "M"}
	assert.True(t, codeAppliesTo(dc, item), "scope match must be case-insensitive")
}

func TestCodeAppliesTo_ScopeFiltersReject(t *testing.T) {
	dc := &domain.DiscountCode{AllowedCities: []string{"Hamburg"}}
	item := LineItem{City: "Berlin"}
	assert.False(t, codeAppliesTo(dc, item))
}

func TestCodeAppliesTo_NoScopeMeansUnrestricted(t *testing.T) {
	dc := &domain.DiscountCode{}
	item := LineItem{City: "anywhere", ProductType: "anything", Size: "any"}
	assert.True(t, codeAppliesTo(dc, item))
}

func TestValidateCodeUsable_Inactive(t *testing.T) {
	dc := &domain.DiscountCode{Active: false}
	assert.ErrorIs(t, validateCodeUsable(dc), errors.ErrCodeInactive)
}

func TestValidateCodeUsable_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	dc := &domain.DiscountCode{Active: true, ExpiresAt: &past}
	assert.ErrorIs(t, validateCodeUsable(dc), errors.ErrCodeExpired)
}

func TestValidateCodeUsable_TotalCapReached(t *testing.T) {
	cap := 5
	dc := &domain.DiscountCode{Active: true, TotalCap: &cap, UsesCount: 5}
	assert.Error(t, validateCodeUsable(dc))
}

func TestValidateCodeUsable_OK(t *testing.T) {
	future := time.Now().Add(time.Hour)
	dc := &domain.DiscountCode{Active: true, ExpiresAt: &future}
	assert.NoError(t, validateCodeUsable(dc))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", normalizeCode("  save10 "))
}

func TestScopeMatches_NoRestrictionsAlwaysMatches(t *testing.T) {
	dc := &domain.DiscountCode{}
	assert.True(t, scopeMatches(dc, BasketScope{}))
}

func TestScopeMatches_CityPresentInBasket(t *testing.T) {
	dc := &domain.DiscountCode{AllowedCities: []string{"Berlin"}}
	scope := BasketScope{Cities: []string{"Hamburg", "berlin"}}
	assert.True(t, scopeMatches(dc, scope), "match must be case-insensitive")
}

func TestScopeMatches_BasketNoLongerContainsAllowedCity(t *testing.T) {
	dc := &domain.DiscountCode{AllowedCities: []string{"Berlin"}}
	scope := BasketScope{Cities: []string{"Hamburg"}}
	assert.False(t, scopeMatches(dc, scope), "basket changed since quote, code no longer applies")
}

func TestScopeMatches_ProductTypeAndSizeBothChecked(t *testing.T) {
	dc := &domain.DiscountCode{AllowedProductTypes: []string{"widget"}, AllowedSizes: []string{"L"}}
	matching := BasketScope{ProductTypes: []string{"widget"}, Sizes: []string{"L"}}
	assert.True(t, scopeMatches(dc, matching))

	wrongSize := BasketScope{ProductTypes: []string{"widget"}, Sizes: []string{"M"}}
	assert.False(t, scopeMatches(dc, wrongSize))
}
