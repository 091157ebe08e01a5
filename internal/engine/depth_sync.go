package engine

// Verdict is DepthSync's decision for one depth event.
type Verdict int

const (
	VerdictApply  Verdict = iota // apply and advance
	VerdictDrop                  // stale, already covered by the snapshot
	VerdictResync                // gap: refetch the snapshot
)

func (v Verdict) String() string {
	switch v {
	case VerdictApply:
		return "apply"
	case VerdictDrop:
		return "drop"
	default:
		return "resync"
	}
}

// DepthSync chains [U, u] update-id ranges onto a REST snapshot.
//
// Events with u <= last are stale. The first event after a snapshot must
// straddle last+1. Once synced, spot events must start at last+1 and
// futures events must carry pu == last.
type DepthSync struct {
	mode   Sequencing
	last   int64
	synced bool
}

// NewDepthSync creates a tracker for the given sequencing mode.
func NewDepthSync(mode Sequencing) *DepthSync {
	return &DepthSync{mode: mode}
}

// Reset records the lastUpdateId of a freshly loaded snapshot.
func (s *DepthSync) Reset(lastUpdateID int64) {
	s.last = lastUpdateID
	s.synced = false
}

// Synced reports whether an event has chained onto the snapshot.
func (s *DepthSync) Synced() bool { return s.synced }

// LastUpdateID returns the last applied final update id.
func (s *DepthSync) LastUpdateID() int64 { return s.last }

// Check classifies one event. VerdictApply advances last to final.
func (s *DepthSync) Check(first, final, prevFinal int64) Verdict {
	if s.mode == SequencingNone {
		return VerdictApply
	}
	if final <= s.last {
		return VerdictDrop
	}

	next := s.last + 1
	if !s.synced {
		if first > next || next > final {
			return VerdictResync
		}
		s.synced = true
		s.last = final
		return VerdictApply
	}

	chained := first == next
	if s.mode == SequencingFutures {
		chained = prevFinal == s.last
	}
	if !chained {
		s.synced = false
		return VerdictResync
	}
	s.last = final
	return VerdictApply
}
