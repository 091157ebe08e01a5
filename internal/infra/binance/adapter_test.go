package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/infra"
)

func newTestAdapter(t *testing.T, market Market, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rest, err := infra.NewRESTClient(infra.DefaultConfig())
	require.NoError(t, err)
	return New(market, "btc_usdt", rest, infra.Endpoint{RestURL: srv.URL + "/", WSURL: "ws://local/ws"})
}

func TestNormalizeSymbol(t *testing.T) {
	for in, want := range map[string]string{
		"btc_usdt":  "BTCUSDT",
		"ETH-USDT":  "ETHUSDT",
		" solusdt ": "SOLUSDT",
	} {
		assert.Equal(t, want, NormalizeSymbol(in), in)
	}
}

func TestAdapter_Defaults(t *testing.T) {
	spot := New(Spot, "btcusdt", nil, infra.Endpoint{})
	assert.Equal(t, "BINANCE", spot.ID())
	assert.Equal(t, SpotWSURL, spot.StreamURL())
	assert.Nil(t, spot.Ping())
	assert.Equal(t, int64(1<<20), spot.StreamOptions().MaxFrameBytes)

	fut := New(Futures, "btcusdt", nil, infra.Endpoint{})
	assert.Equal(t, "BINANCE_FUTURES", fut.ID())
	assert.Equal(t, FuturesWSURL, fut.StreamURL())
}

func TestAdapter_FetchMeta(t *testing.T) {
	a := newTestAdapter(t, Futures, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{"symbols":[
			{"symbol":"ETHUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"}]},
			{"symbol":"BTCUSDT","filters":[{"filterType":"LOT_SIZE"},{"filterType":"PRICE_FILTER","tickSize":"0.10"}]}
		]}`))
	})

	meta, err := a.FetchMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.1, meta.TickSize)
	assert.Equal(t, engine.SequencingFutures, meta.Sequencing)
	assert.Equal(t, MaxSnapshotDepth, meta.MaxSnapshotDepth)
	assert.Equal(t, 1.0, meta.ContractSize)
}

func TestAdapter_FetchMetaMissingTick(t *testing.T) {
	a := newTestAdapter(t, Spot, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[]}]}`))
	})
	_, err := a.FetchMeta(context.Background())
	assert.Error(t, err)
}

func TestAdapter_FetchSnapshot(t *testing.T) {
	a := newTestAdapter(t, Spot, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "500", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`))
	})

	snap, err := a.FetchSnapshot(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1027024), snap.LastUpdateID)
	assert.Equal(t, []event.Level{{Price: 4, Qty: 431}}, snap.Bids)
	assert.Equal(t, []event.Level{{Price: 4.000002, Qty: 12}}, snap.Asks)
}

func TestAdapter_FetchSnapshotWithoutID(t *testing.T) {
	a := newTestAdapter(t, Spot, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bids":[],"asks":[]}`))
	})
	_, err := a.FetchSnapshot(context.Background(), 100)
	assert.Error(t, err)
}

func TestAdapter_Subscribe(t *testing.T) {
	frames, err := New(Spot, "BTC-USDT", nil, infra.Endpoint{}).Subscribe()
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var req subscribeRequest
	require.NoError(t, json.Unmarshal(frames[0], &req))
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.Equal(t, []string{"btcusdt@depth@100ms", "btcusdt@aggTrade"}, req.Params)
}

func TestAdapter_Decode(t *testing.T) {
	a := New(Futures, "btcusdt", nil, infra.Endpoint{})

	evs, err := a.Decode(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = a.Decode(websocket.TextMessage, []byte(`{"e":"depthUpdate","E":123456789,"T":123456788,"s":"BTCUSDT",
		"U":157,"u":160,"pu":149,"b":[["0.0024","10"]],"a":[["0.0026","100"],["0.0027","0"]]}`))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	du := evs[0].(event.DepthUpdate)
	assert.Equal(t, int64(157), du.FirstID)
	assert.Equal(t, int64(160), du.FinalID)
	assert.Equal(t, int64(149), du.PrevFinalID)
	assert.Equal(t, int64(123456789), du.TimeMs)
	assert.Len(t, du.Bids, 1)
	assert.Len(t, du.Asks, 2)
	assert.False(t, du.Snapshot)
}

func TestAdapter_DecodeSpotDepth(t *testing.T) {
	a := New(Spot, "bnbbtc", nil, infra.Endpoint{})
	evs, err := a.Decode(websocket.TextMessage, []byte(`{"e":"depthUpdate","E":1672515782136,"s":"BNBBTC",
		"U":157,"u":160,"b":[["0.0024","10"]],"a":[["0.0026","100"]]}`))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	du := evs[0].(event.DepthUpdate)
	assert.Equal(t, int64(157), du.FirstID)
	assert.Equal(t, int64(160), du.FinalID)
	assert.Zero(t, du.PrevFinalID)
	assert.Equal(t, []event.Level{{Price: 0.0024, Qty: 10}}, du.Bids)
	assert.Equal(t, []event.Level{{Price: 0.0026, Qty: 100}}, du.Asks)
}

func TestAdapter_DecodeAggTrade(t *testing.T) {
	tests := []struct {
		name   string
		market Market
		frame  string
		want   event.Trade
	}{
		{
			name:   "spot buyer maker",
			market: Spot,
			frame: `{"e":"aggTrade","E":1672515782136,"s":"BNBBTC","a":12345,"p":"0.001","q":"100",
				"f":100,"l":105,"T":1672515782130,"m":true,"M":true}`,
			want: event.Trade{Price: 0.001, Qty: 100, Side: event.SideSell, TimeMs: 1672515782130},
		},
		{
			name:   "spot taker buy",
			market: Spot,
			frame: `{"e":"aggTrade","E":1672515782136,"s":"BNBBTC","a":12346,"p":"0.002","q":"5",
				"f":106,"l":106,"T":1672515782131,"m":false,"M":true}`,
			want: event.Trade{Price: 0.002, Qty: 5, Side: event.SideBuy, TimeMs: 1672515782131},
		},
		{
			name:   "futures",
			market: Futures,
			frame: `{"e":"aggTrade","E":123456789,"s":"BTCUSDT","a":5933014,"p":"0.001","q":"100",
				"f":100,"l":105,"T":123456785,"m":true}`,
			want: event.Trade{Price: 0.001, Qty: 100, Side: event.SideSell, TimeMs: 123456785},
		},
		{
			name:   "event time when trade time missing",
			market: Futures,
			frame:  `{"e":"aggTrade","E":2,"s":"BTCUSDT","a":1,"p":"0.001","q":"100","m":false}`,
			want:   event.Trade{Price: 0.001, Qty: 100, Side: event.SideBuy, TimeMs: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.market, "btcusdt", nil, infra.Endpoint{})
			evs, err := a.Decode(websocket.TextMessage, []byte(tt.frame))
			require.NoError(t, err)
			require.Len(t, evs, 1)
			assert.Equal(t, tt.want, evs[0])
		})
	}
}

func TestAdapter_DecodeErrors(t *testing.T) {
	a := New(Spot, "btcusdt", nil, infra.Endpoint{})
	for _, frame := range []string{
		`not json`,
		`{"e":"depthUpdate","u":5,"b":[],"a":[]}`,
		`{"e":"kline"}`,
		`{"error":{"code":2,"msg":"Invalid request"}}`,
	} {
		_, err := a.Decode(websocket.TextMessage, []byte(frame))
		assert.Error(t, err, frame)
	}
}
