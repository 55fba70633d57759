// Package money centralizes the decimal arithmetic rules this service
// requires: monetary amounts round DOWN to the cent everywhere in the
// pricing pipeline, and every amount crossing a wire boundary
// is a decimal string with a fixed number of fractional digits.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RoundDownCents truncates a decimal to 2 fractional digits, always toward
// zero. This is the rounding rule used at every step of the discount
// pipeline and at purchase finalization; it must never be swapped for
// banker's rounding or round-half-up, which would let the pipeline produce
// a total a cent higher than what was actually charged.
func RoundDownCents(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}

// RoundDownCrypto truncates a decimal to 8 fractional digits, the precision
// NOWPayments and most crypto rails use for sub-unit amounts.
func RoundDownCrypto(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(8)
}

// ParseCents parses a 2-decimal monetary string, the fixed format every
// monetary amount uses at a wire boundary. Returns an error if the string
// carries more than 2 fractional digits or is not a valid decimal.
func ParseCents(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse monetary amount %q: %w", s, err)
	}
	if d.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("monetary amount %q has more than 2 fractional digits", s)
	}
	return d, nil
}

// FormatCents renders a decimal as a fixed 2-fractional-digit string, the
// wire format every monetary value uses at the boundary.
func FormatCents(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ApplyPercentDiscount returns amount after subtracting pct% of it, rounded
// down to the cent. pct is expressed 0-100.
func ApplyPercentDiscount(amount, pct decimal.Decimal) decimal.Decimal {
	if pct.Sign() <= 0 {
		return RoundDownCents(amount)
	}
	factor := decimal.NewFromInt(1).Sub(pct.Div(decimal.NewFromInt(100)))
	return RoundDownCents(amount.Mul(factor))
}

// ClampNonNegative returns zero if d is negative, otherwise d unchanged.
func ClampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}
