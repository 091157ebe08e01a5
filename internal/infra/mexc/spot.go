// Package mexc streams MEXC spot (protobuf push) and contract (JSON) depth.
package mexc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/internal/pbframe"
	"github.com/qlandys/Plasma-sub002/pkg/quant"
)

const (
	SpotRestURL = "https://api.mexc.com"
	SpotWSURL   = "wss://wbs-api.mexc.com/ws"

	spotMaxSnapshotDepth = 5000
	spotPingInterval     = 20 * time.Second
)

var (
	spotPing  = []byte(`{"method":"PING"}`)
	pongUpper = []byte(`{"method":"PONG"}`)
)

// SpotAdapter implements engine.Adapter for the spot push stream.
type SpotAdapter struct {
	symbol  string
	restURL string
	wsURL   string
	rest    *infra.RESTClient
}

// NewSpot creates a spot adapter; empty endpoint fields use the public hosts.
func NewSpot(symbol string, rest *infra.RESTClient, ep infra.Endpoint) *SpotAdapter {
	a := &SpotAdapter{
		symbol:  strings.ToUpper(strings.TrimSpace(symbol)),
		restURL: SpotRestURL,
		wsURL:   SpotWSURL,
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

func (a *SpotAdapter) ID() string        { return "MEXC" }
func (a *SpotAdapter) Symbol() string    { return a.symbol }
func (a *SpotAdapter) StreamURL() string { return a.wsURL }
func (a *SpotAdapter) Ping() []byte      { return spotPing }

func (a *SpotAdapter) StreamOptions() engine.StreamOptions {
	return engine.StreamOptions{
		MaxFrameBytes:  1 << 20,
		ReconnectDelay: time.Second,
		PingInterval:   spotPingInterval,
		ReadTimeout:    60 * time.Second,
	}
}

type spotExchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string       `json:"filterType"`
			TickSize   quant.Number `json:"tickSize"`
		} `json:"filters"`
		TickSize            quant.Number `json:"tickSize"`
		QuotePrecision      *int         `json:"quotePrecision"`
		QuoteAssetPrecision *int         `json:"quoteAssetPrecision"`
	} `json:"symbols"`
}

// FetchMeta resolves the tick size from exchangeInfo. PRICE_FILTER wins,
// then a top-level tickSize, then the quote precision.
func (a *SpotAdapter) FetchMeta(ctx context.Context) (engine.Meta, error) {
	var info spotExchangeInfo
	u := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s", a.restURL, url.QueryEscape(a.symbol))
	if err := a.rest.GetJSON(ctx, u, &info); err != nil {
		return engine.Meta{}, err
	}
	if len(info.Symbols) == 0 {
		return engine.Meta{}, errors.New("exchangeInfo: no symbols")
	}
	sym := info.Symbols[0]

	var tickSize float64
	for _, f := range sym.Filters {
		if f.FilterType == "PRICE_FILTER" && f.TickSize.Value > 0 {
			tickSize = f.TickSize.Value
			break
		}
	}
	if tickSize <= 0 && sym.TickSize.Value > 0 {
		tickSize = sym.TickSize.Value
	}
	if tickSize <= 0 {
		prec := sym.QuotePrecision
		if prec == nil || *prec <= 0 {
			prec = sym.QuoteAssetPrecision
		}
		if prec != nil && *prec > 0 {
			tickSize, _ = quant.TickFromDecimals(*prec)
		}
	}
	if tickSize <= 0 {
		return engine.Meta{}, fmt.Errorf("exchangeInfo: no tick size for %s", a.symbol)
	}
	return engine.Meta{
		TickSize:         tickSize,
		ContractSize:     1,
		Sequencing:       engine.SequencingNone,
		MaxSnapshotDepth: spotMaxSnapshotDepth,
	}, nil
}

type spotDepth struct {
	Bids [][]quant.Number `json:"bids"`
	Asks [][]quant.Number `json:"asks"`
}

func (a *SpotAdapter) FetchSnapshot(ctx context.Context, limit int) (*engine.Snapshot, error) {
	var d spotDepth
	u := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", a.restURL, url.QueryEscape(a.symbol), limit)
	if err := a.rest.GetJSON(ctx, u, &d); err != nil {
		return nil, err
	}
	return &engine.Snapshot{
		Bids: event.LevelsFromRows(d.Bids),
		Asks: event.LevelsFromRows(d.Asks),
	}, nil
}

type subscription struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// Subscribe asks for aggregated depth and deals; the deals channel needs
// the interval suffix or the server answers "Blocked".
func (a *SpotAdapter) Subscribe() ([][]byte, error) {
	b, err := json.Marshal(subscription{
		Method: "SUBSCRIPTION",
		Params: []string{
			"spot@public.aggre.depth.v3.api.pb@100ms@" + a.symbol,
			"spot@public.aggre.deals.v3.api.pb@100ms@" + a.symbol,
		},
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

type spotControl struct {
	Method string `json:"method"`
	Code   *int   `json:"code"`
	Msg    string `json:"msg"`
}

// Decode handles JSON control frames and binary push frames.
func (a *SpotAdapter) Decode(msgType int, frame []byte) ([]event.Event, error) {
	if msgType == websocket.TextMessage {
		var c spotControl
		if err := json.Unmarshal(frame, &c); err != nil {
			return nil, err
		}
		if c.Method == "PING" {
			return []event.Event{event.Reply{Payload: pongUpper}}, nil
		}
		if c.Code != nil && *c.Code != 0 {
			return nil, fmt.Errorf("control frame code %d: %s", *c.Code, c.Msg)
		}
		return nil, nil
	}

	env, err := pbframe.Decode(frame)
	if err != nil {
		return nil, err
	}
	if env.HasDeals {
		out := make([]event.Event, 0, len(env.Deals))
		for _, d := range env.Deals {
			price, ok1 := quant.ParseFloat(d.Price)
			qty, ok2 := quant.ParseFloat(d.Quantity)
			if !ok1 || !ok2 {
				continue
			}
			side := event.SideBuy
			if d.TradeType == pbframe.TradeTypeSell {
				side = event.SideSell
			}
			out = append(out, event.Trade{Price: price, Qty: qty, Side: side, TimeMs: d.TimeMs})
		}
		return out, nil
	}
	if env.Depth != nil {
		return []event.Event{event.DepthUpdate{
			Bids:   levelsFromEntries(env.Depth.Bids),
			Asks:   levelsFromEntries(env.Depth.Asks),
			TimeMs: env.SendTime,
		}}, nil
	}
	return nil, nil
}

func levelsFromEntries(entries []pbframe.Entry) []event.Level {
	out := make([]event.Level, 0, len(entries))
	for _, e := range entries {
		price, ok := quant.ParseFloat(e.Price)
		if !ok {
			continue
		}
		// an absent quantity is the zero value on the wire: delete
		var qty float64
		if e.Quantity != "" {
			if qty, ok = quant.ParseFloat(e.Quantity); !ok {
				continue
			}
		}
		out = append(out, event.Level{Price: price, Qty: qty})
	}
	return out
}
