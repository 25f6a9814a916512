package utils

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the fixed scale of balances and amounts
const MoneyPlaces = 2

// maxAmount is the exclusive upper bound of a NUMERIC(12,2) column
var maxAmount = decimal.New(1, 10)

// Quantize rounds half-up to two decimal places.
// decimal.Round rounds half away from zero, which is half-up for positive amounts.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// IsQuantized reports whether d has no more than two significant fractional digits
func IsQuantized(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyPlaces))
}

// IsValidAmount checks a mutation amount: positive, quantized, and storable
func IsValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && IsQuantized(d) && d.LessThan(maxAmount)
}

// IsStorableBalance reports whether d fits the balance column
func IsStorableBalance(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThan(maxAmount)
}

// FormatMoney renders an amount with exactly two decimals, e.g. "150.00"
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}
