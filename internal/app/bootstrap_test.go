package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qlandys/Plasma-sub002/internal/infra"
)

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		exchange, symbol string
		id, wantSymbol   string
	}{
		{"mexc", "biousdt", "MEXC", "BIOUSDT"},
		{"mexc_futures", "btc_usdt", "MEXC_FUTURES", "BTC_USDT"},
		{"binance", "btc-usdt", "BINANCE", "BTCUSDT"},
		{"binance_futures", "ethusdt", "BINANCE_FUTURES", "ETHUSDT"},
		{"lighter", "eth", "LIGHTER", "ETH"},
		{"uzx", "btc-usdt", "UZX_SPOT", "BTC-USDT"},
		{"uzx_spot", "btc-usdt", "UZX_SPOT", "BTC-USDT"},
		{"uzx_swap", "btc-usdt", "UZX_SWAP", "BTC-USDT"},
	}
	for _, tt := range tests {
		t.Run(tt.exchange, func(t *testing.T) {
			cfg := infra.DefaultConfig()
			cfg.Feed.Exchange = tt.exchange
			cfg.Feed.Symbol = tt.symbol
			a, err := NewAdapter(cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.id, a.ID())
			assert.Equal(t, tt.wantSymbol, a.Symbol())
		})
	}

	cfg := infra.DefaultConfig()
	cfg.Feed.Exchange = "kraken"
	_, err := NewAdapter(cfg, nil)
	assert.Error(t, err)
}

func TestNewAdapter_EndpointOverride(t *testing.T) {
	cfg := infra.DefaultConfig()
	cfg.Feed.Exchange = "binance"
	cfg.Endpoints = map[string]infra.Endpoint{"binance": {WSURL: "ws://127.0.0.1:9/ws"}}
	a, err := NewAdapter(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9/ws", a.StreamURL())
}

func TestBootstrap_Initialize(t *testing.T) {
	cfg := infra.DefaultConfig()
	cfg.Feed.Exchange = "binance_futures"
	cfg.Feed.Symbol = "BTC_USDT"
	cfg.Network.Proxy = "127.0.0.1:8080"
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer
	b := NewBootstrap(cfg)
	b.Out = &out
	require.NoError(t, b.Initialize())

	assert.NotNil(t, b.Registry)
	assert.NotNil(t, b.Feed)
	assert.Equal(t, "BINANCE_FUTURES", b.Adapter.ID())
	assert.NotEmpty(t, b.Session.ID)
	assert.Zero(t, out.Len(), "nothing is written before the stream connects")
}
