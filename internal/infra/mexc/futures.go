package mexc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/pkg/quant"
)

const (
	FuturesRestURL = "https://contract.mexc.com"
	FuturesWSURL   = "wss://contract.mexc.com/edge"

	futuresPingInterval = 45 * time.Second
	defaultPriceUnit    = 0.0001
	minDepthSubLimit    = 50
	futuresMaxDepth     = 5000
)

var (
	futuresPing = []byte(`{"method":"ping"}`)
	pongLower   = []byte(`{"method":"pong"}`)
)

// FuturesAdapter implements engine.Adapter for perpetual contracts.
// Quantities are in contracts; the session scales them by ContractSize.
type FuturesAdapter struct {
	symbol  string
	levels  int
	restURL string
	wsURL   string
	rest    *infra.RESTClient
}

// NewFutures creates a contract adapter. levels sizes the stream depth
// subscription.
func NewFutures(symbol string, levels int, rest *infra.RESTClient, ep infra.Endpoint) *FuturesAdapter {
	a := &FuturesAdapter{
		symbol:  strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "-", "_")),
		levels:  levels,
		restURL: FuturesRestURL,
		wsURL:   FuturesWSURL,
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

func (a *FuturesAdapter) ID() string        { return "MEXC_FUTURES" }
func (a *FuturesAdapter) Symbol() string    { return a.symbol }
func (a *FuturesAdapter) StreamURL() string { return a.wsURL }
func (a *FuturesAdapter) Ping() []byte      { return futuresPing }

func (a *FuturesAdapter) StreamOptions() engine.StreamOptions {
	return engine.StreamOptions{
		MaxFrameBytes:  1 << 20,
		ReconnectDelay: 500 * time.Millisecond,
		PingInterval:   futuresPingInterval,
		ReadTimeout:    90 * time.Second,
	}
}

type contractDetail struct {
	ContractSize quant.Number `json:"contractSize"`
	PriceUnit    quant.Number `json:"priceUnit"`
	PriceScale   quant.Number `json:"priceScale"`
}

// FetchMeta reads contract/detail. data is an object for a single symbol
// and an array when the venue ignores the filter.
func (a *FuturesAdapter) FetchMeta(ctx context.Context) (engine.Meta, error) {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	u := fmt.Sprintf("%s/api/v1/contract/detail?symbol=%s", a.restURL, url.QueryEscape(a.symbol))
	if err := a.rest.GetJSON(ctx, u, &resp); err != nil {
		return engine.Meta{}, err
	}

	var d contractDetail
	raw := bytes.TrimSpace(resp.Data)
	switch {
	case len(raw) > 0 && raw[0] == '{':
		if err := json.Unmarshal(raw, &d); err != nil {
			return engine.Meta{}, fmt.Errorf("contract detail: %w", err)
		}
	case len(raw) > 0 && raw[0] == '[':
		var list []contractDetail
		if err := json.Unmarshal(raw, &list); err != nil {
			return engine.Meta{}, fmt.Errorf("contract detail: %w", err)
		}
		if len(list) == 0 {
			return engine.Meta{}, errors.New("contract detail: empty data")
		}
		d = list[0]
	default:
		return engine.Meta{}, errors.New("contract detail: missing data")
	}

	contractSize := d.ContractSize.Value
	if !d.ContractSize.Finite() || contractSize <= 0 {
		contractSize = 1
	}
	tickSize := d.PriceUnit.Value
	if tickSize <= 0 && d.PriceScale.Value > 0 {
		tickSize, _ = quant.TickFromDecimals(int(d.PriceScale.Value))
	}
	if tickSize <= 0 {
		tickSize = defaultPriceUnit
	}
	return engine.Meta{
		TickSize:         tickSize,
		ContractSize:     contractSize,
		Sequencing:       engine.SequencingNone,
		MaxSnapshotDepth: futuresMaxDepth,
	}, nil
}

type contractDepth struct {
	Bids [][]quant.Number `json:"bids"`
	Asks [][]quant.Number `json:"asks"`
}

// FetchSnapshot queries contract/depth. Rows are [price, vol, count].
func (a *FuturesAdapter) FetchSnapshot(ctx context.Context, limit int) (*engine.Snapshot, error) {
	var resp struct {
		Data *contractDepth `json:"data"`
	}
	u := fmt.Sprintf("%s/api/v1/contract/depth/%s?limit=%d", a.restURL, url.PathEscape(a.symbol), limit)
	if err := a.rest.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, errors.New("contract depth: missing data")
	}
	return &engine.Snapshot{
		Bids: event.LevelsFromRows(resp.Data.Bids),
		Asks: event.LevelsFromRows(resp.Data.Asks),
	}, nil
}

type contractSub struct {
	Method string         `json:"method"`
	Param  map[string]any `json:"param"`
}

func (a *FuturesAdapter) Subscribe() ([][]byte, error) {
	depth, err := json.Marshal(contractSub{
		Method: "sub.depth",
		Param:  map[string]any{"symbol": a.symbol, "limit": max(minDepthSubLimit, a.levels)},
	})
	if err != nil {
		return nil, err
	}
	deal, err := json.Marshal(contractSub{
		Method: "sub.deal",
		Param:  map[string]any{"symbol": a.symbol},
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{depth, deal}, nil
}

type contractMessage struct {
	Channel string          `json:"channel"`
	Method  string          `json:"method"`
	Data    json.RawMessage `json:"data"`
	TS      int64           `json:"ts"`
}

type contractDeal struct {
	Price quant.Number `json:"p"`
	Vol   quant.Number `json:"v"`
	Side  int          `json:"T"`
	Time  int64        `json:"t"`
}

// Decode handles one JSON frame from the contract stream.
func (a *FuturesAdapter) Decode(_ int, frame []byte) ([]event.Event, error) {
	var m contractMessage
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, err
	}

	switch m.Channel {
	case "":
		switch m.Method {
		case "PING":
			return []event.Event{event.Reply{Payload: pongUpper}}, nil
		case "ping":
			return []event.Event{event.Reply{Payload: pongLower}}, nil
		}
		return nil, nil
	case "pong", "rs.pong":
		return nil, nil
	case "rs.error":
		return []event.Event{event.Reset{Reason: "rs.error: " + string(m.Data)}}, nil
	case "push.depth":
		var d contractDepth
		if err := json.Unmarshal(m.Data, &d); err != nil {
			return nil, fmt.Errorf("push.depth: %w", err)
		}
		bids, asks := event.LevelsFromRows(d.Bids), event.LevelsFromRows(d.Asks)
		if len(bids) == 0 && len(asks) == 0 {
			return nil, nil
		}
		return []event.Event{event.DepthUpdate{Bids: bids, Asks: asks, TimeMs: m.TS}}, nil
	case "push.deal":
		deals, err := decodeDeals(m.Data)
		if err != nil {
			return nil, fmt.Errorf("push.deal: %w", err)
		}
		out := make([]event.Event, 0, len(deals))
		for _, d := range deals {
			side := event.SideBuy
			if d.Side == 2 {
				side = event.SideSell
			}
			out = append(out, event.Trade{Price: d.Price.Value, Qty: d.Vol.Value, Side: side, TimeMs: d.Time})
		}
		return out, nil
	}
	// rs.sub.* acks and channels we did not subscribe to.
	return nil, nil
}

func decodeDeals(raw json.RawMessage) ([]contractDeal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var d contractDeal
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return []contractDeal{d}, nil
	}
	var deals []contractDeal
	if err := json.Unmarshal(raw, &deals); err != nil {
		return nil, err
	}
	return deals, nil
}
