// Package binance streams Binance spot and USDT-M futures depth.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/pkg/quant"
)

const (
	SpotRestURL    = "https://api.binance.com/api/v3"
	SpotWSURL      = "wss://stream.binance.com:9443/ws"
	FuturesRestURL = "https://fapi.binance.com/fapi/v1"
	FuturesWSURL   = "wss://fstream.binance.com/ws"

	// MaxSnapshotDepth is the largest limit accepted by the depth endpoint.
	MaxSnapshotDepth = 1000
)

// Market selects the spot or futures API.
type Market int

const (
	Spot Market = iota
	Futures
)

// Adapter implements engine.Adapter for one Binance symbol.
type Adapter struct {
	market  Market
	symbol  string
	restURL string
	wsURL   string
	rest    *infra.RESTClient
}

// New creates an adapter. Empty endpoint fields fall back to the public hosts.
func New(market Market, symbol string, rest *infra.RESTClient, ep infra.Endpoint) *Adapter {
	a := &Adapter{
		market:  market,
		symbol:  NormalizeSymbol(symbol),
		restURL: SpotRestURL,
		wsURL:   SpotWSURL,
		rest:    rest,
	}
	if market == Futures {
		a.restURL = FuturesRestURL
		a.wsURL = FuturesWSURL
	}
	if ep.RestURL != "" {
		a.restURL = strings.TrimRight(ep.RestURL, "/")
	}
	if ep.WSURL != "" {
		a.wsURL = ep.WSURL
	}
	return a
}

// NormalizeSymbol drops '_' and '-' and upper-cases: "btc_usdt" -> "BTCUSDT".
func NormalizeSymbol(s string) string {
	s = strings.NewReplacer("_", "", "-", "").Replace(strings.TrimSpace(s))
	return strings.ToUpper(s)
}

func (a *Adapter) ID() string {
	if a.market == Futures {
		return "BINANCE_FUTURES"
	}
	return "BINANCE"
}

func (a *Adapter) Symbol() string    { return a.symbol }
func (a *Adapter) StreamURL() string { return a.wsURL }
func (a *Adapter) Ping() []byte      { return nil } // server pings; the worker answers with pong frames

func (a *Adapter) StreamOptions() engine.StreamOptions {
	return engine.StreamOptions{
		MaxFrameBytes:  1 << 20,
		ReconnectDelay: 250 * time.Millisecond,
		ReadTimeout:    60 * time.Second,
	}
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string       `json:"filterType"`
			TickSize   quant.Number `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// FetchMeta reads PRICE_FILTER.tickSize from exchangeInfo. Futures may
// ignore the symbol parameter and return every contract, so the entry is
// matched by name.
func (a *Adapter) FetchMeta(ctx context.Context) (engine.Meta, error) {
	var info exchangeInfo
	u := fmt.Sprintf("%s/exchangeInfo?symbol=%s", a.restURL, url.QueryEscape(a.symbol))
	if err := a.rest.GetJSON(ctx, u, &info); err != nil {
		return engine.Meta{}, err
	}
	if len(info.Symbols) == 0 {
		return engine.Meta{}, errors.New("exchangeInfo: no symbols")
	}

	sym := &info.Symbols[0]
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == a.symbol {
			sym = &info.Symbols[i]
			break
		}
	}
	var tickSize float64
	for _, f := range sym.Filters {
		if f.FilterType == "PRICE_FILTER" && f.TickSize.Value > 0 {
			tickSize = f.TickSize.Value
			break
		}
	}
	if tickSize <= 0 {
		return engine.Meta{}, fmt.Errorf("exchangeInfo: no PRICE_FILTER tickSize for %s", a.symbol)
	}

	seq := engine.SequencingSpot
	if a.market == Futures {
		seq = engine.SequencingFutures
	}
	return engine.Meta{
		TickSize:         tickSize,
		ContractSize:     1,
		Sequencing:       seq,
		MaxSnapshotDepth: MaxSnapshotDepth,
	}, nil
}

type depthSnapshot struct {
	LastUpdateID int64            `json:"lastUpdateId"`
	Bids         [][]quant.Number `json:"bids"`
	Asks         [][]quant.Number `json:"asks"`
}

// FetchSnapshot queries the REST depth endpoint.
func (a *Adapter) FetchSnapshot(ctx context.Context, limit int) (*engine.Snapshot, error) {
	var snap depthSnapshot
	u := fmt.Sprintf("%s/depth?symbol=%s&limit=%d", a.restURL, url.QueryEscape(a.symbol), limit)
	if err := a.rest.GetJSON(ctx, u, &snap); err != nil {
		return nil, err
	}
	if snap.LastUpdateID <= 0 {
		return nil, errors.New("depth snapshot without lastUpdateId")
	}
	return &engine.Snapshot{
		Bids:         event.LevelsFromRows(snap.Bids),
		Asks:         event.LevelsFromRows(snap.Asks),
		LastUpdateID: snap.LastUpdateID,
	}, nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Subscribe requests the 100ms diff depth stream and aggregated trades.
func (a *Adapter) Subscribe() ([][]byte, error) {
	sym := strings.ToLower(a.symbol)
	b, err := json.Marshal(subscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{sym + "@depth@100ms", sym + "@aggTrade"},
		ID:     1,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

type streamHeader struct {
	Event  string          `json:"e"`
	Time   int64           `json:"E"`
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// encoding/json falls back to case-insensitive key matching, so every key the
// stream sends needs its own exact field: "a" is asks in a depthUpdate but the
// aggregate id in an aggTrade, and "M" must not land in "m".
type depthUpdate struct {
	Event     string           `json:"e"`
	Time      int64            `json:"E"`
	Symbol    string           `json:"s"`
	TxTime    int64            `json:"T"`
	FirstID   int64            `json:"U"`
	FinalID   int64            `json:"u"`
	PrevFinal int64            `json:"pu"`
	Bids      [][]quant.Number `json:"b"`
	Asks      [][]quant.Number `json:"a"`
}

type aggTrade struct {
	Event        string       `json:"e"`
	Time         int64        `json:"E"`
	Symbol       string       `json:"s"`
	AggID        int64        `json:"a"`
	Price        quant.Number `json:"p"`
	Qty          quant.Number `json:"q"`
	FirstTradeID int64        `json:"f"`
	LastTradeID  int64        `json:"l"`
	TradeTime    int64        `json:"T"`
	BuyerIsMaker bool         `json:"m"`
	Ignore       bool         `json:"M"`
}

// Decode classifies one stream frame.
func (a *Adapter) Decode(msgType int, frame []byte) ([]event.Event, error) {
	var h streamHeader
	if err := json.Unmarshal(frame, &h); err != nil {
		return nil, err
	}
	if h.Error != nil {
		return nil, fmt.Errorf("stream error %d: %s", h.Error.Code, h.Error.Msg)
	}
	if h.ID != nil {
		return nil, nil // subscribe ack
	}

	switch h.Event {
	case "depthUpdate":
		var m depthUpdate
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, err
		}
		if m.FirstID <= 0 || m.FinalID <= 0 {
			return nil, errors.New("depthUpdate without update ids")
		}
		return []event.Event{event.DepthUpdate{
			Bids:        event.LevelsFromRows(m.Bids),
			Asks:        event.LevelsFromRows(m.Asks),
			FirstID:     m.FirstID,
			FinalID:     m.FinalID,
			PrevFinalID: m.PrevFinal,
			TimeMs:      m.Time,
		}}, nil
	case "aggTrade":
		var m aggTrade
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, err
		}
		side := event.SideBuy
		if m.BuyerIsMaker {
			side = event.SideSell
		}
		ts := m.TradeTime
		if ts == 0 {
			ts = m.Time
		}
		return []event.Event{event.Trade{
			Price:  m.Price.Value,
			Qty:    m.Qty.Value,
			Side:   side,
			TimeMs: ts,
		}}, nil
	}
	return nil, fmt.Errorf("unrecognized event %s", strconv.Quote(h.Event))
}
