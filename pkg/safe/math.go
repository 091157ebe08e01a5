package safe

import (
	"math"
)

// Add returns a+b and false when the sum overflows int64.
func Add(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// Sub returns a-b and false when the difference overflows int64.
func Sub(a, b int64) (int64, bool) {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		return 0, false
	}
	return a - b, true
}

// Mul returns a*b and false when the product overflows int64.
func Mul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > 0 {
		if b > 0 {
			if a > math.MaxInt64/b {
				return 0, false
			}
		} else if b < math.MinInt64/a {
			return 0, false
		}
	} else {
		if b > 0 {
			if a < math.MinInt64/b {
				return 0, false
			}
		} else if a < math.MaxInt64/b {
			return 0, false
		}
	}
	return a * b, true
}

// SatAdd adds with saturation at the int64 bounds.
func SatAdd(a, b int64) int64 {
	if v, ok := Add(a, b); ok {
		return v
	}
	if b > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

// SatSub subtracts with saturation at the int64 bounds.
func SatSub(a, b int64) int64 {
	if v, ok := Sub(a, b); ok {
		return v
	}
	if b > 0 {
		return math.MinInt64
	}
	return math.MaxInt64
}

// Abs returns |a|, saturating MinInt64 to MaxInt64.
func Abs(a int64) int64 {
	if a == math.MinInt64 {
		return math.MaxInt64
	}
	if a < 0 {
		return -a
	}
	return a
}
