// Package lighter streams the Lighter order book.
package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/pkg/quant"
)

const (
	RestURL = "https://mainnet.zklighter.elliot.ai/api/v1"
	WSURL   = "wss://mainnet.zklighter.elliot.ai/stream"
)

var (
	quoteSuffixes = []string{"USDT", "USDC", "USDQ", "USDR", "USD", "EURQ", "EURR"}
	pong          = []byte(`{"type":"pong"}`)
)

// Adapter implements engine.Adapter. The symbol is either a numeric
// market id or a market name such as "ETH" or "ETH/USDC".
type Adapter struct {
	symbol  string
	restURL string
	wsURL   string
	rest    *infra.RESTClient

	marketID    atomic.Int64
	lastTradeID atomic.Int64
}

func New(symbol string, rest *infra.RESTClient, ep infra.Endpoint) *Adapter {
	a := &Adapter{
		symbol:  strings.ToUpper(strings.TrimSpace(symbol)),
		restURL: RestURL,
		wsURL:   WSURL,
		rest:    rest,
	}
	a.marketID.Store(-1)
	if ep.RestURL != "" {
		a.restURL = strings.TrimRight(ep.RestURL, "/")
	}
	if ep.WSURL != "" {
		a.wsURL = ep.WSURL
	}
	return a
}

func (a *Adapter) ID() string        { return "LIGHTER" }
func (a *Adapter) Symbol() string    { return a.symbol }
func (a *Adapter) StreamURL() string { return a.wsURL }
func (a *Adapter) Ping() []byte      { return nil }

// MarketID is the resolved market, -1 before FetchMeta succeeds.
func (a *Adapter) MarketID() int64 { return a.marketID.Load() }

func (a *Adapter) StreamOptions() engine.StreamOptions {
	return engine.StreamOptions{
		MaxFrameBytes:     4 << 20,
		ReconnectDelay:    350 * time.Millisecond,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
	}
}

type marketDetail struct {
	Symbol        string `json:"symbol"`
	MarketID      *int64 `json:"market_id"`
	PriceDecimals *int   `json:"price_decimals"`
}

type orderBookDetails struct {
	Perp []marketDetail `json:"order_book_details"`
	Spot []marketDetail `json:"spot_order_book_details"`
}

// FetchMeta resolves the market id and the tick size (10^-price_decimals).
func (a *Adapter) FetchMeta(ctx context.Context) (engine.Meta, error) {
	var details orderBookDetails
	id, err := strconv.ParseInt(a.symbol, 10, 64)
	numeric := err == nil && id >= 0

	u := a.restURL + "/orderBookDetails?filter=all"
	if numeric {
		u = fmt.Sprintf("%s/orderBookDetails?market_id=%d", a.restURL, id)
	}
	if err := a.rest.GetJSON(ctx, u, &details); err != nil {
		return engine.Meta{}, err
	}

	var (
		d  *marketDetail
		ok bool
	)
	if numeric {
		d, ok = firstValid(details.Perp)
		if !ok {
			d, ok = firstValid(details.Spot)
		}
		if ok && d.MarketID == nil {
			d.MarketID = &id
		}
	} else {
		want := SymbolKey(a.symbol)
		// Exact pair names win over a base-symbol match with the quote stripped.
		for _, key := range []string{want, StripQuoteSuffix(want)} {
			if d, ok = findByKey(details.Perp, key); ok {
				break
			}
			if d, ok = findByKey(details.Spot, key); ok {
				break
			}
		}
	}
	if !ok {
		return engine.Meta{}, fmt.Errorf("lighter market %q not found (perps use base symbols like ETH, spot uses pairs like ETH/USDC)", a.symbol)
	}

	tickSize, _ := quant.TickFromDecimals(*d.PriceDecimals)
	a.marketID.Store(*d.MarketID)
	return engine.Meta{
		TickSize:     tickSize,
		ContractSize: 1,
		Sequencing:   engine.SequencingNone,
	}, nil
}

func validDecimals(d *marketDetail) bool {
	return d.PriceDecimals != nil && *d.PriceDecimals >= 0 && *d.PriceDecimals <= quant.MaxDecimals
}

func firstValid(list []marketDetail) (*marketDetail, bool) {
	if len(list) == 0 || !validDecimals(&list[0]) {
		return nil, false
	}
	return &list[0], true
}

func findByKey(list []marketDetail, want string) (*marketDetail, bool) {
	for i := range list {
		d := &list[i]
		if key := SymbolKey(d.Symbol); key == "" || key != want {
			continue
		}
		if !validDecimals(d) || d.MarketID == nil || *d.MarketID < 0 {
			continue
		}
		return d, true
	}
	return nil, false
}

// SymbolKey keeps ASCII letters and digits, upper-cased: "eth/usdc" -> "ETHUSDC".
func SymbolKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// StripQuoteSuffix removes one known quote currency suffix, keeping at
// least one character.
func StripQuoteSuffix(key string) string {
	for _, suf := range quoteSuffixes {
		if len(key) > len(suf) && strings.HasSuffix(key, suf) {
			return key[:len(key)-len(suf)]
		}
	}
	return key
}

// FetchSnapshot returns nil: the book arrives as subscribed/order_book.
func (a *Adapter) FetchSnapshot(context.Context, int) (*engine.Snapshot, error) {
	return nil, nil
}

// Subscribe returns nothing; channels are requested once the server
// sends its connected greeting.
func (a *Adapter) Subscribe() ([][]byte, error) {
	return nil, nil
}

type subscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func (a *Adapter) subscriptions() ([]event.Event, error) {
	id := a.marketID.Load()
	if id < 0 {
		return nil, fmt.Errorf("market id not resolved")
	}
	out := make([]event.Event, 0, 2)
	for _, ch := range []string{"order_book", "trade"} {
		b, err := json.Marshal(subscribeRequest{Type: "subscribe", Channel: fmt.Sprintf("%s/%d", ch, id)})
		if err != nil {
			return nil, err
		}
		out = append(out, event.Reply{Payload: b})
	}
	return out, nil
}

type level struct {
	Price quant.Number `json:"price"`
	Size  quant.Number `json:"size"`
}

type trade struct {
	TradeID    quant.Number `json:"trade_id"`
	Price      quant.Number `json:"price"`
	Size       quant.Number `json:"size"`
	IsMakerAsk bool         `json:"is_maker_ask"`
	Timestamp  quant.Number `json:"timestamp"`
}

type message struct {
	Type      string `json:"type"`
	OrderBook *struct {
		Bids []level `json:"bids"`
		Asks []level `json:"asks"`
	} `json:"order_book"`
	Trades []trade `json:"trades"`
}

// Decode handles one JSON frame.
func (a *Adapter) Decode(_ int, frame []byte) ([]event.Event, error) {
	var m message
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, err
	}

	switch m.Type {
	case "ping":
		return []event.Event{event.Reply{Payload: pong}}, nil
	case "connected":
		return a.subscriptions()
	case "subscribed/order_book", "update/order_book":
		if m.OrderBook == nil {
			return nil, nil
		}
		return []event.Event{event.DepthUpdate{
			Bids:     levels(m.OrderBook.Bids),
			Asks:     levels(m.OrderBook.Asks),
			Snapshot: m.Type == "subscribed/order_book",
		}}, nil
	case "subscribed/trade":
		// History: advance the watermark without printing.
		for _, t := range m.Trades {
			a.seen(int64(t.TradeID.Value))
		}
		return nil, nil
	case "update/trade":
		return a.trades(m.Trades), nil
	}
	return nil, nil
}

func levels(in []level) []event.Level {
	out := make([]event.Level, 0, len(in))
	for _, l := range in {
		if l.Price.Text == "" || !l.Price.Finite() || !l.Size.Finite() {
			continue
		}
		out = append(out, event.Level{Price: l.Price.Value, Qty: l.Size.Value})
	}
	return out
}

func (a *Adapter) trades(in []trade) []event.Event {
	out := make([]event.Event, 0, len(in))
	for _, t := range in {
		id := int64(t.TradeID.Value)
		if id > 0 && id <= a.lastTradeID.Load() {
			continue
		}
		if !(t.Price.Value > 0) || !(t.Size.Value > 0) || !t.Price.Finite() || !t.Size.Finite() {
			continue
		}
		// A maker on the ask means the taker bought.
		side := event.SideSell
		if t.IsMakerAsk {
			side = event.SideBuy
		}
		out = append(out, event.Trade{
			Price:  t.Price.Value,
			Qty:    t.Size.Value,
			Side:   side,
			TimeMs: int64(t.Timestamp.Value),
		})
		a.seen(id)
	}
	return out
}

func (a *Adapter) seen(id int64) {
	for {
		cur := a.lastTradeID.Load()
		if id <= cur || a.lastTradeID.CompareAndSwap(cur, id) {
			return
		}
	}
}
