// Package uzx streams UZX spot and swap order books. Every push carries
// the whole book and no precision metadata is published, so the tick
// size is detected from the price text.
package uzx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/pkg/quant"
)

const (
	RestURL = "https://api-v2.uzx.com"
	WSURL   = "wss://stream.uzx.com/notification/ws"

	// FallbackTickSize applies when no price carries decimals.
	FallbackTickSize = 0.0001
)

// Market selects the spot or swap book.
type Market string

const (
	Spot Market = "spot"
	Swap Market = "swap"
)

type Adapter struct {
	market  Market
	symbol  string
	restURL string
	wsURL   string
	rest    *infra.RESTClient

	tickBits atomic.Uint64

	mu     sync.Mutex
	cached *engine.Snapshot
}

func New(market Market, symbol string, rest *infra.RESTClient, ep infra.Endpoint) *Adapter {
	a := &Adapter{
		market:  market,
		symbol:  strings.ToUpper(strings.TrimSpace(symbol)),
		restURL: RestURL,
		wsURL:   WSURL,
		rest:    rest,
	}
	if ep.RestURL != "" {
		a.restURL = strings.TrimRight(ep.RestURL, "/")
	}
	if ep.WSURL != "" {
		a.wsURL = ep.WSURL
	}
	return a
}

func (a *Adapter) ID() string        { return "UZX_" + strings.ToUpper(string(a.market)) }
func (a *Adapter) Symbol() string    { return a.symbol }
func (a *Adapter) StreamURL() string { return a.wsURL }
func (a *Adapter) Ping() []byte      { return nil }

func (a *Adapter) StreamOptions() engine.StreamOptions {
	return engine.StreamOptions{
		MaxFrameBytes:  4 << 20,
		ReconnectDelay: time.Second,
		ReadTimeout:    60 * time.Second,
	}
}

func (a *Adapter) tickSize() float64 { return math.Float64frombits(a.tickBits.Load()) }

// DetectTickSize returns 10^-n for the decimal places of the first price
// text with a fractional part, scanning bids then asks. Integer prices are
// skipped.
func DetectTickSize(bids, asks [][]quant.Number) float64 {
	for _, side := range [][][]quant.Number{bids, asks} {
		for _, row := range side {
			if len(row) == 0 || row[0].Text == "" {
				continue
			}
			n, ok := quant.DecimalPlaces(row[0].Text)
			if !ok || n == 0 {
				continue
			}
			if tick, ok := quant.TickFromDecimals(n); ok {
				return tick
			}
		}
	}
	return FallbackTickSize
}

type book struct {
	Bids [][]quant.Number `json:"bids"`
	Asks [][]quant.Number `json:"asks"`
}

func (a *Adapter) fetchBook(ctx context.Context) (*book, error) {
	var resp struct {
		Data *book `json:"data"`
	}
	u := fmt.Sprintf("%s/notification/%s/%s/orderbook", a.restURL, a.market, url.PathEscape(a.symbol))
	if err := a.rest.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("orderbook: missing data")
	}
	return resp.Data, nil
}

// FetchMeta detects the tick size from the REST book and keeps that book
// for FetchSnapshot. When the REST call fails the tick size is left for
// the first stream push to detect.
func (a *Adapter) FetchMeta(ctx context.Context) (engine.Meta, error) {
	meta := engine.Meta{ContractSize: 1, Sequencing: engine.SequencingNone}

	b, err := a.fetchBook(ctx)
	if err != nil {
		slog.Warn("UZX snapshot failed, detecting tick size from stream",
			slog.String("symbol", a.symbol),
			slog.Any("error", err))
		meta.TickSize = a.tickSize()
		return meta, nil
	}
	meta.TickSize = DetectTickSize(b.Bids, b.Asks)
	a.tickBits.Store(math.Float64bits(meta.TickSize))

	a.mu.Lock()
	a.cached = &engine.Snapshot{Bids: event.LevelsFromRows(b.Bids), Asks: event.LevelsFromRows(b.Asks)}
	a.mu.Unlock()
	return meta, nil
}

// FetchSnapshot returns the book read by FetchMeta, or nil when it failed.
func (a *Adapter) FetchSnapshot(context.Context, int) (*engine.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := a.cached
	a.cached = nil
	return snap, nil
}

type subParams struct {
	Biz      string `json:"biz"`
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

type subRequest struct {
	Event  string    `json:"event"`
	Params subParams `json:"params"`
	Zip    bool      `json:"zip"`
}

func (a *Adapter) Subscribe() ([][]byte, error) {
	b, err := json.Marshal(subRequest{
		Event: "sub",
		Params: subParams{
			Biz:      string(a.market),
			Type:     string(a.market) + ".orderBook",
			Symbol:   a.symbol,
			Interval: "0",
		},
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

type push struct {
	Ping json.RawMessage `json:"ping"`
	Data json.RawMessage `json:"data"`
}

// Decode answers pings and turns every data push into a book snapshot.
func (a *Adapter) Decode(_ int, frame []byte) ([]event.Event, error) {
	var p push
	if err := json.Unmarshal(frame, &p); err != nil {
		return nil, err
	}
	if len(p.Ping) > 0 {
		b, err := json.Marshal(map[string]json.RawMessage{"pong": p.Ping})
		if err != nil {
			return nil, err
		}
		return []event.Event{event.Reply{Payload: b}}, nil
	}
	if len(p.Data) == 0 || p.Data[0] != '{' {
		return nil, nil // sub acks carry no book
	}

	var b book
	if err := json.Unmarshal(p.Data, &b); err != nil {
		return nil, fmt.Errorf("orderbook push: %w", err)
	}
	u := event.DepthUpdate{
		Bids:     event.LevelsFromRows(b.Bids),
		Asks:     event.LevelsFromRows(b.Asks),
		Snapshot: true,
	}
	if a.tickSize() <= 0 {
		u.TickSize = DetectTickSize(b.Bids, b.Asks)
		a.tickBits.Store(math.Float64bits(u.TickSize))
	}
	return []event.Event{u}, nil
}
