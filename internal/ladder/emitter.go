// Package ladder turns order book windows into full or incremental ladder
// messages.
package ladder

import (
	"math"

	"github.com/qlandys/Plasma-sub002/internal/orderbook"
)

// qtyEpsilon is the smallest quantity change reported in a delta.
const qtyEpsilon = 1e-9

// Kind tells what an Emit call produced.
type Kind int

const (
	KindNone Kind = iota
	KindFull
	KindDelta
)

func (k Kind) String() string {
	switch k {
	case KindFull:
		return TypeLadder
	case KindDelta:
		return TypeLadderDelta
	default:
		return "none"
	}
}

// Frame is the book state read under the session lock for one emission.
type Frame struct {
	Rows       []orderbook.Level
	MinTick    int64
	MaxTick    int64
	CenterTick int64
	BestBid    float64
	BestAsk    float64
	TickSize   float64
	Timestamp  int64
}

// Emitter remembers the last window it sent and diffs the next one against
// it by tick identity. It is not safe for concurrent use.
type Emitter struct {
	symbol string
	sink   Sink

	prev     map[int64]Row
	prevMin  int64
	prevMax  int64
	hasPrev  bool
	needFull bool
}

// NewEmitter creates an emitter whose first emission is a full ladder.
func NewEmitter(symbol string, sink Sink) *Emitter {
	return &Emitter{
		symbol:   symbol,
		sink:     sink,
		prev:     make(map[int64]Row),
		needFull: true,
	}
}

// ForceFull makes the next emission a full ladder.
func (e *Emitter) ForceFull() { e.needFull = true }

// Reset forgets the last window and forces a full ladder.
func (e *Emitter) Reset() {
	clear(e.prev)
	e.hasPrev = false
	e.needFull = true
}

// Emit sends a full ladder or the delta against the previous window.
// Nothing is sent when the window is empty or nothing changed.
func (e *Emitter) Emit(f Frame) (Kind, error) {
	if len(f.Rows) == 0 {
		return KindNone, nil
	}
	header := Header{
		Symbol:        e.symbol,
		Timestamp:     f.Timestamp,
		BestBid:       f.BestBid,
		BestAsk:       f.BestAsk,
		TickSize:      f.TickSize,
		WindowMinTick: f.MinTick,
		WindowMaxTick: f.MaxTick,
		CenterTick:    f.CenterTick,
	}

	disjoint := e.hasPrev && (f.MinTick > e.prevMax || f.MaxTick < e.prevMin)
	if !e.hasPrev || e.needFull || disjoint {
		msg := FullMessage{Type: TypeLadder, Rows: make([]Row, 0, len(f.Rows)), Header: header}
		for _, l := range f.Rows {
			msg.Rows = append(msg.Rows, toRow(l))
		}
		if err := e.sink.Send(msg); err != nil {
			return KindNone, err
		}
		e.remember(f)
		e.needFull = false
		return KindFull, nil
	}

	msg := DeltaMessage{Type: TypeLadderDelta, Updates: []Row{}, Removals: []int64{}, Header: header}
	for _, l := range f.Rows {
		old, ok := e.prev[l.Tick]
		if !ok || math.Abs(old.Bid-l.BidQty) > qtyEpsilon || math.Abs(old.Ask-l.AskQty) > qtyEpsilon {
			msg.Updates = append(msg.Updates, toRow(l))
		}
	}
	boundsChanged := f.MinTick != e.prevMin || f.MaxTick != e.prevMax
	if boundsChanged {
		for t := e.prevMax; t >= e.prevMin; t-- {
			if t < f.MinTick || t > f.MaxTick {
				msg.Removals = append(msg.Removals, t)
			}
			if t == e.prevMin {
				break
			}
		}
	}
	if len(msg.Updates) == 0 && len(msg.Removals) == 0 && !boundsChanged {
		return KindNone, nil
	}
	if err := e.sink.Send(msg); err != nil {
		return KindNone, err
	}
	e.remember(f)
	return KindDelta, nil
}

func (e *Emitter) remember(f Frame) {
	clear(e.prev)
	for _, l := range f.Rows {
		e.prev[l.Tick] = toRow(l)
	}
	e.prevMin = f.MinTick
	e.prevMax = f.MaxTick
	e.hasPrev = true
}

// Trade builds a trade message. The tick is attached only when known.
func (e *Emitter) Trade(t int64, hasTick bool, price, qty float64, side string, ts int64) TradeMessage {
	msg := TradeMessage{
		Type:      TypeTrade,
		Symbol:    e.symbol,
		Price:     price,
		Qty:       qty,
		Side:      side,
		Timestamp: ts,
	}
	if hasTick {
		msg.Tick = &t
	}
	return msg
}

func toRow(l orderbook.Level) Row {
	return Row{Tick: l.Tick, Bid: l.BidQty, Ask: l.AskQty}
}
