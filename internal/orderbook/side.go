package orderbook

import (
	"sort"

	"github.com/qlandys/Plasma-sub002/pkg/safe"
)

// Entry is a (tick, quantity) pair fed into the book.
type Entry struct {
	Tick int64
	Qty  float64
}

// side stores resting levels sorted by ascending tick. Zero quantities are
// never stored.
type side struct {
	levels []Entry
}

func (s *side) search(t int64) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool { return s.levels[i].Tick >= t })
	return i, i < len(s.levels) && s.levels[i].Tick == t
}

func (s *side) set(t int64, qty float64) {
	i, found := s.search(t)
	if found {
		s.levels[i].Qty = qty
		return
	}
	s.levels = append(s.levels, Entry{})
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = Entry{Tick: t, Qty: qty}
}

// load replaces the side with the positive, finite entries. A later entry
// for the same tick wins.
func (s *side) load(entries []Entry) {
	s.levels = s.levels[:0]
	for _, e := range entries {
		if validQty(e.Qty) && e.Qty > 0 {
			s.levels = append(s.levels, e)
		}
	}
	sort.SliceStable(s.levels, func(i, j int) bool { return s.levels[i].Tick < s.levels[j].Tick })

	out := s.levels[:0]
	for i, e := range s.levels {
		if i+1 < len(s.levels) && s.levels[i+1].Tick == e.Tick {
			continue
		}
		out = append(out, e)
	}
	s.levels = out
}

func (s *side) remove(t int64) {
	i, found := s.search(t)
	if !found {
		return
	}
	s.levels = append(s.levels[:i], s.levels[i+1:]...)
}

func (s *side) get(t int64) float64 {
	if i, found := s.search(t); found {
		return s.levels[i].Qty
	}
	return 0
}

func (s *side) min() (int64, bool) {
	if len(s.levels) == 0 {
		return 0, false
	}
	return s.levels[0].Tick, true
}

func (s *side) max() (int64, bool) {
	if len(s.levels) == 0 {
		return 0, false
	}
	return s.levels[len(s.levels)-1].Tick, true
}

func (s *side) len() int { return len(s.levels) }

func (s *side) reset() { s.levels = s.levels[:0] }

// retain drops every level outside [lo, hi].
func (s *side) retain(lo, hi int64) {
	start := sort.Search(len(s.levels), func(i int) bool { return s.levels[i].Tick >= lo })
	end := sort.Search(len(s.levels), func(i int) bool { return s.levels[i].Tick > hi })
	if start == 0 && end == len(s.levels) {
		return
	}
	n := copy(s.levels, s.levels[start:end])
	s.levels = s.levels[:n]
}

// capAround keeps at most limit levels, dropping those farthest from center.
func (s *side) capAround(center int64, limit int) {
	excess := len(s.levels) - limit
	if excess <= 0 {
		return
	}
	lo, hi := 0, len(s.levels)
	for ; excess > 0; excess-- {
		if safe.Abs(safe.SatSub(s.levels[lo].Tick, center)) >= safe.Abs(safe.SatSub(s.levels[hi-1].Tick, center)) {
			lo++
		} else {
			hi--
		}
	}
	n := copy(s.levels, s.levels[lo:hi])
	s.levels = s.levels[:n]
}
