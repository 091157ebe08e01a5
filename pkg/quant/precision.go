package quant

import (
	"github.com/shopspring/decimal"
)

// MaxDecimals bounds precision accepted from venue metadata.
const MaxDecimals = 12

// DecimalPlaces counts the digits after the decimal point of s, trailing zeros
// included ("1.2300" has four). ok is false when s is not a decimal.
func DecimalPlaces(s string) (int, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	if exp := d.Exponent(); exp < 0 {
		return int(-exp), true
	}
	return 0, true
}

// TickFromDecimals returns 10^-n for n in [0, MaxDecimals].
func TickFromDecimals(n int) (float64, bool) {
	if n < 0 || n > MaxDecimals {
		return 0, false
	}
	return decimal.New(1, int32(-n)).InexactFloat64(), true
}

// TickFromText detects a tick size from the precision of a price string.
func TickFromText(s string) (float64, bool) {
	n, ok := DecimalPlaces(s)
	if !ok {
		return 0, false
	}
	return TickFromDecimals(n)
}
