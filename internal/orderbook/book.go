// Package orderbook keeps a tick-indexed level-2 book with a bounded cache
// window around a drift-resistant center.
package orderbook

import (
	"math"

	"github.com/qlandys/Plasma-sub002/pkg/safe"
	"github.com/qlandys/Plasma-sub002/pkg/tick"
)

const (
	// MaxLevelsPerSide caps stored ticks per side regardless of configuration.
	MaxLevelsPerSide = 40000

	// DefaultCacheLevelsPerSide is also the smallest accepted cache span.
	DefaultCacheLevelsPerSide = 5000
)

// Level is one rendered ladder row. It is computed on demand and never stored.
type Level struct {
	Tick   int64
	Price  float64
	BidQty float64
	AskQty float64
}

// Book is a bid/ask ladder keyed by integer ticks.
//
// The auto center follows the mid tick with hysteresis: it moves only once
// the mid drifts more than the recenter band away from it. After every
// mutation no stored tick lies outside [center-span, center+span], and each
// side holds at most MaxLevelsPerSide ticks.
//
// Book is not safe for concurrent use; callers serialize access.
type Book struct {
	codec    tick.Codec
	tickSize float64

	bids side
	asks side

	cacheLevels  int64
	recenterBand int64
	viewLevels   int64

	center    int64
	hasCenter bool

	manual    int64
	hasManual bool
}

// New creates an empty book retaining cacheLevelsPerSide ticks around the center.
func New(cacheLevelsPerSide int) *Book {
	b := &Book{}
	b.SetCacheLevels(cacheLevelsPerSide)
	return b
}

// SetCacheLevels sets the retained span, clamped to
// [DefaultCacheLevelsPerSide, MaxLevelsPerSide].
func (b *Book) SetCacheLevels(n int) {
	b.cacheLevels = clampSpan(int64(n))
}

// CacheLevels returns the retained span per side.
func (b *Book) CacheLevels() int { return int(b.cacheLevels) }

// SetRecenterBand fixes the hysteresis band in ticks. Zero derives it from
// the last ladder size (a quarter of levelsPerSide) or, before any ladder
// was built, from the cache span.
func (b *Book) SetRecenterBand(ticks int) {
	if ticks < 0 {
		ticks = 0
	}
	b.recenterBand = int64(ticks)
}

// SetTickSize installs a new tick size and clears the book.
func (b *Book) SetTickSize(x float64) {
	codec, ok := tick.NewCodec(x)
	if !ok {
		b.codec = tick.Codec{}
		b.tickSize = 0
	} else {
		b.codec = codec
		b.tickSize = x
	}
	b.Clear()
}

// TickSize returns the current tick size, 0 when unset.
func (b *Book) TickSize() float64 { return b.tickSize }

// Codec returns the codec for the current tick size.
func (b *Book) Codec() tick.Codec { return b.codec }

// Clear drops both sides and the center state.
func (b *Book) Clear() {
	b.bids.reset()
	b.asks.reset()
	b.center = 0
	b.hasCenter = false
	b.manual = 0
	b.hasManual = false
}

// LoadSnapshot replaces both sides. Non-positive or non-finite quantities
// are dropped.
func (b *Book) LoadSnapshot(bids, asks []Entry) {
	b.bids.load(bids)
	b.asks.load(asks)
	b.recenter(true)
	b.prune(b.cacheLevels)
}

// ApplyDelta merges changed levels: a positive quantity sets the tick, any
// other finite quantity erases it. cacheLevelsHint may widen the retained
// span for this call. Applying the same delta twice leaves the book as
// applying it once.
func (b *Book) ApplyDelta(bids, asks []Entry, cacheLevelsHint int) {
	apply(&b.bids, bids)
	apply(&b.asks, asks)
	b.recenter(false)

	span := b.cacheLevels
	if hint := int64(cacheLevelsHint); hint > span {
		span = clampSpan(hint)
	}
	b.prune(span)
}

func apply(s *side, entries []Entry) {
	for _, e := range entries {
		if !validQty(e.Qty) {
			continue
		}
		if e.Qty > 0 {
			s.set(e.Tick, e.Qty)
		} else {
			s.remove(e.Tick)
		}
	}
}

// BestBidTick returns the highest bid tick.
func (b *Book) BestBidTick() (int64, bool) { return b.bids.max() }

// BestAskTick returns the lowest ask tick.
func (b *Book) BestAskTick() (int64, bool) { return b.asks.min() }

// BestBid returns the best bid price, or 0 when the side is empty or no tick
// size is set.
func (b *Book) BestBid() float64 {
	t, ok := b.bids.max()
	if !ok || b.tickSize <= 0 {
		return 0
	}
	return b.codec.Price(t)
}

// BestAsk returns the best ask price, or 0 when the side is empty or no tick
// size is set.
func (b *Book) BestAsk() float64 {
	t, ok := b.asks.min()
	if !ok || b.tickSize <= 0 {
		return 0
	}
	return b.codec.Price(t)
}

// BidQty returns the resting bid quantity at t.
func (b *Book) BidQty(t int64) float64 { return b.bids.get(t) }

// AskQty returns the resting ask quantity at t.
func (b *Book) AskQty(t int64) float64 { return b.asks.get(t) }

// Depth returns the number of stored ticks per side.
func (b *Book) Depth() (bids, asks int) { return b.bids.len(), b.asks.len() }

// Bounds returns the lowest and highest stored tick across both sides.
func (b *Book) Bounds() (lo, hi int64, ok bool) {
	lo, hi = math.MaxInt64, math.MinInt64
	for _, s := range []*side{&b.bids, &b.asks} {
		if t, has := s.min(); has && t < lo {
			lo = t
		}
		if t, has := s.max(); has && t > hi {
			hi = t
		}
	}
	return lo, hi, lo <= hi
}

// CenterTick returns the last auto center.
func (b *Book) CenterTick() int64 { return b.center }

// ManualCenter returns the manual override, if any.
func (b *Book) ManualCenter() (int64, bool) { return b.manual, b.hasManual }

// Ladder builds rows for every tick from center+levelsPerSide down to
// center-levelsPerSide. It returns no rows when no tick size is set or no
// center is known yet.
func (b *Book) Ladder(levelsPerSide int) (rows []Level, minTick, maxTick, center int64) {
	if b.tickSize <= 0 || levelsPerSide <= 0 {
		return nil, 0, 0, 0
	}
	b.viewLevels = int64(levelsPerSide)

	center, ok := b.resolveCenter()
	if !ok {
		return nil, 0, 0, 0
	}
	minTick = safe.SatSub(center, int64(levelsPerSide))
	maxTick = safe.SatAdd(center, int64(levelsPerSide))

	rows = make([]Level, 0, 2*levelsPerSide+1)
	for t := maxTick; ; t-- {
		rows = append(rows, Level{
			Tick:   t,
			Price:  b.codec.Price(t),
			BidQty: b.bids.get(t),
			AskQty: b.asks.get(t),
		})
		if t == minTick {
			break
		}
	}
	return rows, minTick, maxTick, center
}

// ShiftManualCenterTicks pans the ladder by delta ticks. The first shift
// starts from the current auto center.
func (b *Book) ShiftManualCenterTicks(delta int64) {
	if delta == 0 {
		return
	}
	if !b.hasManual {
		b.recenter(false)
		b.manual = b.center
		b.hasManual = true
	}
	b.manual = safe.SatAdd(b.manual, delta)
}

// ClearManualCenter resumes auto centering.
func (b *Book) ClearManualCenter() {
	b.manual = 0
	b.hasManual = false
}

func (b *Book) resolveCenter() (int64, bool) {
	if b.hasManual {
		return b.manual, true
	}
	b.recenter(false)
	return b.center, b.hasCenter
}

func (b *Book) midTick() (int64, bool) {
	bid, okBid := b.bids.max()
	ask, okAsk := b.asks.min()
	switch {
	case okBid && okAsk:
		return bid + (ask-bid)/2, true
	case okBid:
		return bid, true
	case okAsk:
		return ask, true
	}
	return 0, false
}

func (b *Book) recenter(force bool) {
	mid, ok := b.midTick()
	if !ok {
		return
	}
	if force || !b.hasCenter || safe.Abs(safe.SatSub(mid, b.center)) > b.band() {
		b.center = mid
		b.hasCenter = true
	}
}

func (b *Book) band() int64 {
	if b.recenterBand > 0 {
		return b.recenterBand
	}
	if b.viewLevels > 0 {
		return max(1, b.viewLevels/4)
	}
	return max(1, b.cacheLevels/16)
}

func (b *Book) prune(span int64) {
	if !b.hasCenter {
		return
	}
	lo := safe.SatSub(b.center, span)
	hi := safe.SatAdd(b.center, span)
	b.bids.retain(lo, hi)
	b.asks.retain(lo, hi)
	b.bids.capAround(b.center, MaxLevelsPerSide)
	b.asks.capAround(b.center, MaxLevelsPerSide)
}

func clampSpan(n int64) int64 {
	if n < DefaultCacheLevelsPerSide {
		return DefaultCacheLevelsPerSide
	}
	if n > MaxLevelsPerSide {
		return MaxLevelsPerSide
	}
	return n
}

func validQty(q float64) bool {
	return !math.IsNaN(q) && !math.IsInf(q, 0)
}
