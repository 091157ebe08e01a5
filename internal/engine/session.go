package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/internal/ladder"
	"github.com/qlandys/Plasma-sub002/internal/orderbook"
)

var (
	ErrUnknownCommand = errors.New("unknown control command")
	ErrInvalidCommand = errors.New("invalid control command")
)

// SessionConfig holds the per-connection ladder settings.
type SessionConfig struct {
	Symbol        string
	LevelsPerSide int
	Throttle      time.Duration
	CacheLevels   int
	RecenterBand  int
}

// Session owns one book and its emitter. Every mutation and every
// emission runs under mu, so the stream loop, resyncs and control
// commands never observe a torn book.
type Session struct {
	ID string

	mu           sync.Mutex
	book         *orderbook.Book
	emitter      *ladder.Emitter
	sink         ladder.Sink
	levels       int
	throttle     time.Duration
	lastEmit     time.Time
	contractSize float64
	ready        bool

	now func() time.Time
}

// NewSession creates a session writing to sink.
func NewSession(cfg SessionConfig, sink ladder.Sink) *Session {
	book := orderbook.New(cfg.CacheLevels)
	book.SetRecenterBand(cfg.RecenterBand)
	if cfg.LevelsPerSide <= 0 {
		cfg.LevelsPerSide = 120
	}
	return &Session{
		ID:           uuid.NewString(),
		book:         book,
		emitter:      ladder.NewEmitter(cfg.Symbol, sink),
		sink:         sink,
		levels:       cfg.LevelsPerSide,
		throttle:     cfg.Throttle,
		contractSize: 1,
		now:          time.Now,
	}
}

// SetInstrument installs the tick and contract size. A changed tick size
// clears the book.
func (s *Session) SetInstrument(tickSize, contractSize float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTickSizeLocked(tickSize)
	if contractSize > 0 && !math.IsInf(contractSize, 0) {
		s.contractSize = contractSize
	} else {
		s.contractSize = 1
	}
}

func (s *Session) setTickSizeLocked(tickSize float64) {
	if tickSize == s.book.TickSize() {
		return
	}
	s.book.SetTickSize(tickSize)
	s.emitter.Reset()
	s.ready = false
	slog.Info("Tick size set", slog.String("session", s.ID), slog.Float64("tick_size", s.book.TickSize()))
}

// TickSize returns the installed tick size.
func (s *Session) TickSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.TickSize()
}

// LoadSnapshot replaces the book and forces a full ladder once tick size,
// best bid and best ask are all known.
func (s *Session) LoadSnapshot(bids, asks []event.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSnapshotLocked(bids, asks)
}

func (s *Session) loadSnapshotLocked(bids, asks []event.Level) error {
	s.book.LoadSnapshot(s.entries(bids), s.entries(asks))
	s.emitter.ForceFull()
	s.ready = s.book.TickSize() > 0 && s.book.BestBid() > 0 && s.book.BestAsk() > 0
	s.observeDepth()
	if !s.ready {
		return nil
	}
	return s.emitLocked()
}

// ApplyDepth merges one decoded depth event and emits when the throttle
// interval has passed since the last emission.
func (s *Session) ApplyDepth(u event.DepthUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.TickSize > 0 {
		s.setTickSizeLocked(u.TickSize)
	}
	if u.Snapshot && !s.ready {
		return s.loadSnapshotLocked(u.Bids, u.Asks)
	}
	if s.book.TickSize() <= 0 {
		return nil
	}
	// Streamed snapshots after the first go through the throttle like deltas.
	if u.Snapshot {
		s.book.LoadSnapshot(s.entries(u.Bids), s.entries(u.Asks))
	} else {
		s.book.ApplyDelta(s.entries(u.Bids), s.entries(u.Asks), 0)
	}
	s.observeDepth()
	if !s.ready {
		s.ready = s.book.BestBid() > 0 && s.book.BestAsk() > 0
		if !s.ready {
			return nil
		}
	}
	if s.throttle > 0 && !s.lastEmit.IsZero() && s.now().Sub(s.lastEmit) < s.throttle {
		return nil
	}
	return s.emitLocked()
}

// Trade writes one trade print. The price is snapped to the grid when a
// tick size is known and quantity is scaled by the contract size.
func (s *Session) Trade(t event.Trade) error {
	if !finitePositive(t.Price) || !finitePositive(t.Qty) {
		return nil
	}
	s.mu.Lock()
	qty := t.Qty * s.contractSize
	price := t.Price
	var tk int64
	hasTick := false
	if s.book.TickSize() > 0 {
		var snapped float64
		if tk, snapped, hasTick = s.book.Codec().FromPrice(t.Price); hasTick {
			price = snapped
		}
	}
	ts := t.TimeMs
	if ts <= 0 {
		ts = s.now().UnixMilli()
	}
	side := t.Side
	if side != event.SideSell {
		side = event.SideBuy
	}
	msg := s.emitter.Trade(tk, hasTick, price, qty, string(side), ts)
	s.mu.Unlock()

	return s.sink.Send(msg)
}

// Shift pans the manual center and re-emits.
func (s *Session) Shift(ticks int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || ticks == 0 {
		return nil
	}
	s.book.ShiftManualCenterTicks(ticks)
	return s.emitLocked()
}

// CenterAuto drops the manual center and re-emits a full ladder.
func (s *Session) CenterAuto() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil
	}
	s.book.ClearManualCenter()
	s.emitter.Reset()
	return s.emitLocked()
}

// Emit forces an immediate emission, ignoring the throttle.
func (s *Session) Emit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil
	}
	return s.emitLocked()
}

type command struct {
	Cmd   string   `json:"cmd"`
	Ticks *float64 `json:"ticks"`
}

// HandleCommand applies one control line: {"cmd":"shift","ticks":n} or
// {"cmd":"center_auto"}.
func (s *Session) HandleCommand(line []byte) error {
	var c command
	if err := json.Unmarshal(line, &c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	switch c.Cmd {
	case "shift":
		if c.Ticks == nil || math.IsNaN(*c.Ticks) || math.Abs(*c.Ticks) > math.MaxInt32 {
			return fmt.Errorf("%w: shift needs a finite ticks value", ErrInvalidCommand)
		}
		return s.Shift(int64(math.Round(*c.Ticks)))
	case "center_auto":
		return s.CenterAuto()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Cmd)
	}
}

// emitLocked must be called with mu held.
func (s *Session) emitLocked() error {
	rows, lo, hi, center := s.book.Ladder(s.levels)
	now := s.now()
	kind, err := s.emitter.Emit(ladder.Frame{
		Rows:       rows,
		MinTick:    lo,
		MaxTick:    hi,
		CenterTick: center,
		BestBid:    s.book.BestBid(),
		BestAsk:    s.book.BestAsk(),
		TickSize:   s.book.TickSize(),
		Timestamp:  now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	if kind != ladder.KindNone {
		s.lastEmit = now
		infra.EmitsTotal.WithLabelValues(kind.String()).Inc()
	}
	return nil
}

// entries quantizes venue levels, dropping non-finite or non-positive
// prices and non-finite quantities. Quantities are scaled to base units.
func (s *Session) entries(levels []event.Level) []orderbook.Entry {
	if len(levels) == 0 || s.book.TickSize() <= 0 {
		return nil
	}
	codec := s.book.Codec()
	out := make([]orderbook.Entry, 0, len(levels))
	for _, l := range levels {
		if !finitePositive(l.Price) || math.IsNaN(l.Qty) || math.IsInf(l.Qty, 0) {
			continue
		}
		t, _, ok := codec.FromPrice(l.Price)
		if !ok {
			continue
		}
		out = append(out, orderbook.Entry{Tick: t, Qty: l.Qty * s.contractSize})
	}
	return out
}

func (s *Session) observeDepth() {
	bids, asks := s.book.Depth()
	infra.BookLevels.WithLabelValues("bid").Set(float64(bids))
	infra.BookLevels.WithLabelValues("ask").Set(float64(asks))
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
