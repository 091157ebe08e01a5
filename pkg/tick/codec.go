// Package tick converts between floating prices and integer ticks on a
// decimal price grid.
//
// The tick size is searched for a decimal scale 10^0..10^12 at which it is an
// integer. When one exists, prices are scaled to that integer grid and divided
// with round-half-up, so encoding is exact for any price written with at most
// twelve decimals. When no scale exists (a tick size such as 1/3), or the
// scaled price does not fit in int64, FromPrice falls back to
// round(price/tickSize). That fallback is the only path on which float error
// can leak into the tick index.
package tick

import (
	"math"

	"github.com/qlandys/Plasma-sub002/pkg/safe"
)

const (
	// MaxScaleDecimals is the largest decimal exponent searched for an integral tick size.
	MaxScaleDecimals = 12

	integralTolerance = 1e-9

	// scaled prices beyond this magnitude do not round-trip through float64
	maxExactScaled = 1 << 53
)

var pow10 = func() [MaxScaleDecimals + 1]float64 {
	var p [MaxScaleDecimals + 1]float64
	p[0] = 1
	for i := 1; i <= MaxScaleDecimals; i++ {
		p[i] = p[i-1] * 10
	}
	return p
}()

// Codec quantizes prices for one tick size. The zero value is invalid.
type Codec struct {
	tickSize float64
	scale    float64 // 10^decimals
	units    int64   // tickSize * scale, exact
	decimals int
	exact    bool
}

// NewCodec prepares a codec for tickSize. It returns false for non-positive
// or non-finite tick sizes.
func NewCodec(tickSize float64) (Codec, bool) {
	if !(tickSize > 0) || math.IsInf(tickSize, 0) {
		return Codec{}, false
	}
	c := Codec{tickSize: tickSize}
	for d := 0; d <= MaxScaleDecimals; d++ {
		scaled := tickSize * pow10[d]
		if scaled > maxExactScaled {
			break
		}
		units := math.Round(scaled)
		if units <= 0 {
			continue
		}
		if math.Abs(scaled-units) > integralTolerance {
			continue
		}
		c.scale = pow10[d]
		c.units = int64(units)
		c.decimals = d
		c.exact = true
		break
	}
	return c, true
}

// TickSize returns the tick size the codec was built for.
func (c Codec) TickSize() float64 { return c.tickSize }

// Exact reports whether an integral decimal scale was found.
func (c Codec) Exact() bool { return c.exact }

// Decimals returns the decimal exponent of the integral scale, or -1 when
// the codec runs on the fallback path.
func (c Codec) Decimals() int {
	if !c.exact {
		return -1
	}
	return c.decimals
}

// FromPrice returns the tick nearest to price and the price snapped onto the
// grid. ok is false for an invalid codec or a non-finite price.
func (c Codec) FromPrice(price float64) (t int64, snapped float64, ok bool) {
	if !(c.tickSize > 0) || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, 0, false
	}
	if c.exact {
		scaled := math.Round(price * c.scale)
		if math.Abs(scaled) < maxExactScaled {
			ps := int64(scaled)
			half := c.units / 2
			if ps >= 0 {
				t = (ps + half) / c.units
			} else {
				t = -((-ps + half) / c.units)
			}
			return t, c.Price(t), true
		}
	}
	q := math.Round(price / c.tickSize)
	if q >= math.MaxInt64 || q <= math.MinInt64 {
		return 0, 0, false
	}
	t = int64(q)
	return t, c.Price(t), true
}

// Price converts a tick back to its price on the grid.
func (c Codec) Price(t int64) float64 {
	if !(c.tickSize > 0) {
		return 0
	}
	if c.exact {
		if units, ok := safe.Mul(t, c.units); ok {
			return float64(units) / c.scale
		}
	}
	return float64(t) * c.tickSize
}

// FromPrice is a convenience wrapper around NewCodec(tickSize).FromPrice(price).
func FromPrice(price, tickSize float64) (int64, float64, bool) {
	c, ok := NewCodec(tickSize)
	if !ok {
		return 0, 0, false
	}
	return c.FromPrice(price)
}

// ToPrice is a convenience wrapper around NewCodec(tickSize).Price(t).
func ToPrice(t int64, tickSize float64) float64 {
	c, ok := NewCodec(tickSize)
	if !ok {
		return 0
	}
	return c.Price(t)
}
