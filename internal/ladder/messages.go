package ladder

const (
	TypeLadder      = "ladder"
	TypeLadderDelta = "ladder_delta"
	TypeTrade       = "trade"
)

// Row is one ladder level on the wire.
type Row struct {
	Tick int64   `json:"tick"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
}

// Header is carried by every ladder message so a consumer can rebuild
// prices from tick-only rows.
type Header struct {
	Symbol        string  `json:"symbol"`
	Timestamp     int64   `json:"timestamp"`
	BestBid       float64 `json:"bestBid"`
	BestAsk       float64 `json:"bestAsk"`
	TickSize      float64 `json:"tickSize"`
	WindowMinTick int64   `json:"windowMinTick"`
	WindowMaxTick int64   `json:"windowMaxTick"`
	CenterTick    int64   `json:"centerTick"`
}

// FullMessage replaces the consumer's ladder.
type FullMessage struct {
	Type string `json:"type"`
	Rows []Row  `json:"rows"`
	Header
}

// DeltaMessage patches the previously sent ladder.
type DeltaMessage struct {
	Type     string  `json:"type"`
	Updates  []Row   `json:"updates"`
	Removals []int64 `json:"removals"`
	Header
}

// TradeMessage is one trade print. Tick is omitted while no tick size is known.
type TradeMessage struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Tick      *int64  `json:"tick,omitempty"`
	Price     float64 `json:"price"`
	Qty       float64 `json:"qty"`
	Side      string  `json:"side"`
	Timestamp int64   `json:"timestamp"`
}
