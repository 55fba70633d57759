package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoundDownCents_TruncatesTowardZero(t *testing.T) {
	got := RoundDownCents(decimal.NewFromFloat(19.999))
	assert.Equal(t, "19.99", got.StringFixed(2))
}

func TestRoundDownCrypto_TruncatesToEightDigits(t *testing.T) {
	got := RoundDownCrypto(decimal.RequireFromString("0.123456789"))
	assert.Equal(t, "0.12345678", got.String())
}

func TestParseCents_RejectsExtraFractionalDigits(t *testing.T) {
	_, err := ParseCents("19.999")
	assert.Error(t, err)
}

func TestParseCents_AcceptsWholeAndTwoDecimal(t *testing.T) {
	d, err := ParseCents("19.9")
	assert.NoError(t, err)
	assert.Equal(t, "19.90", FormatCents(d))

	d, err = ParseCents("20")
	assert.NoError(t, err)
	assert.Equal(t, "20.00", FormatCents(d))
}

func TestApplyPercentDiscount(t *testing.T) {
	got := ApplyPercentDiscount(decimal.NewFromFloat(19.99), decimal.NewFromInt(10))
	assert.Equal(t, "17.99", got.StringFixed(2))
}

func TestApplyPercentDiscount_NonPositivePctReturnsAmount(t *testing.T) {
	got := ApplyPercentDiscount(decimal.NewFromFloat(19.99), decimal.Zero)
	assert.Equal(t, "19.99", got.StringFixed(2))
}

func TestClampNonNegative(t *testing.T) {
	assert.True(t, ClampNonNegative(decimal.NewFromInt(-5)).IsZero())
	assert.Equal(t, "5", ClampNonNegative(decimal.NewFromInt(5)).String())
}
