package engine

import (
	"context"
	"time"

	"github.com/qlandys/Plasma-sub002/internal/event"
)

// Sequencing selects how DepthSync chains venue update ids.
type Sequencing int

const (
	SequencingNone    Sequencing = iota // deltas applied as received
	SequencingSpot                      // U must equal last+1
	SequencingFutures                   // pu must equal last
)

func (s Sequencing) String() string {
	switch s {
	case SequencingSpot:
		return "spot"
	case SequencingFutures:
		return "futures"
	default:
		return "none"
	}
}

// Meta is the instrument metadata resolved before streaming.
type Meta struct {
	TickSize         float64
	ContractSize     float64 // base units per contract; 1 for spot
	Sequencing       Sequencing
	MaxSnapshotDepth int
}

// Snapshot is a full REST depth query.
type Snapshot struct {
	Bids         []event.Level
	Asks         []event.Level
	LastUpdateID int64
}

// StreamOptions tune the websocket worker for one venue.
type StreamOptions struct {
	MaxFrameBytes     int64
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
}

// Adapter is everything venue specific: endpoints, metadata, subscription
// frames and frame decoding. Feed drives any Adapter the same way.
type Adapter interface {
	ID() string
	Symbol() string
	StreamURL() string
	StreamOptions() StreamOptions

	FetchMeta(ctx context.Context) (Meta, error)
	// FetchSnapshot returns nil when the venue delivers snapshots on the stream.
	FetchSnapshot(ctx context.Context, limit int) (*Snapshot, error)

	// Subscribe returns the frames written right after connecting.
	Subscribe() ([][]byte, error)
	// Ping returns the keep-alive payload, nil when none is needed.
	Ping() []byte

	Decode(msgType int, frame []byte) ([]event.Event, error)
}
