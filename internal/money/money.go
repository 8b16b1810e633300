// Package money converts credit counts to currency amounts for display
// and audit output. Credits are integral; currency math uses decimals so
// fractional denominations never accumulate float error.
package money

import (
	"github.com/shopspring/decimal"
)

// centsPerUnit is the scale of a denomination value (denoms are quoted in
// cents per credit).
var centsPerUnit = decimal.NewFromInt(100)

// FromCredits converts a credit count at the given denomination (cents
// per credit) to a currency amount.
func FromCredits(credits, denomCents uint64) decimal.Decimal {
	c := decimal.NewFromUint64(credits)
	d := decimal.NewFromUint64(denomCents)
	return c.Mul(d).Div(centsPerUnit)
}

// Format renders a currency amount with two decimal places and a leading
// currency symbol.
func Format(amount decimal.Decimal, symbol string) string {
	return symbol + amount.StringFixed(2)
}

// FormatCredits is shorthand for Format(FromCredits(...), symbol).
func FormatCredits(credits, denomCents uint64, symbol string) string {
	return Format(FromCredits(credits, denomCents), symbol)
}
