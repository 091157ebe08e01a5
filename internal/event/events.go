package event

// Type defines the type of event.
type Type uint16

const (
	EvDepth Type = iota + 1
	EvTrade
	EvReply
	EvReset
)

func (t Type) String() string {
	switch t {
	case EvDepth:
		return "depth"
	case EvTrade:
		return "trade"
	case EvReply:
		return "reply"
	case EvReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is anything a venue adapter decodes from one stream frame.
type Event interface {
	GetType() Type
}

// Level is a venue price level before quantization. Qty is in venue units
// (contracts for futures venues).
type Level struct {
	Price float64
	Qty   float64
}

// DepthUpdate carries changed levels, or the whole book when Snapshot is set.
//
// FirstID, FinalID and PrevFinalID are the venue update ids ([U, u] and pu)
// and stay zero for venues without sequencing. TickSize is set when the
// adapter detected the instrument precision from this payload.
type DepthUpdate struct {
	Bids     []Level
	Asks     []Level
	Snapshot bool

	FirstID     int64
	FinalID     int64
	PrevFinalID int64

	TickSize float64
	TimeMs   int64
}

func (DepthUpdate) GetType() Type { return EvDepth }

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is one public trade print.
type Trade struct {
	Price  float64
	Qty    float64
	Side   Side
	TimeMs int64
}

func (Trade) GetType() Type { return EvTrade }

// Reply is a text frame to write back on the stream (pong, late subscribe).
type Reply struct {
	Payload []byte
}

func (Reply) GetType() Type { return EvReply }

// Reset asks the driver to drop the connection and reconnect.
type Reset struct {
	Reason string
}

func (Reset) GetType() Type { return EvReset }
