package app

import (
	"fmt"
	"log/slog"

	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/internal/infra/binance"
	"github.com/qlandys/Plasma-sub002/internal/infra/lighter"
	"github.com/qlandys/Plasma-sub002/internal/infra/mexc"
	"github.com/qlandys/Plasma-sub002/internal/infra/uzx"
)

// NewAdapter returns the venue adapter selected by feed.exchange.
func NewAdapter(cfg *infra.Config, rest *infra.RESTClient) (engine.Adapter, error) {
	symbol := cfg.Feed.Symbol
	ep := cfg.Endpoint()
	if ep.RestURL != "" || ep.WSURL != "" {
		slog.Info("Using endpoint override",
			slog.String("exchange", cfg.Feed.Exchange),
			slog.String("rest", ep.RestURL),
			slog.String("ws", ep.WSURL))
	}

	switch cfg.Feed.Exchange {
	case "mexc":
		return mexc.NewSpot(symbol, rest, ep), nil
	case "mexc_futures":
		return mexc.NewFutures(symbol, cfg.Feed.LadderLevelsPerSide, rest, ep), nil
	case "binance":
		return binance.New(binance.Spot, symbol, rest, ep), nil
	case "binance_futures":
		return binance.New(binance.Futures, symbol, rest, ep), nil
	case "lighter":
		return lighter.New(symbol, rest, ep), nil
	case "uzx", "uzx_spot":
		return uzx.New(uzx.Spot, symbol, rest, ep), nil
	case "uzx_swap":
		return uzx.New(uzx.Swap, symbol, rest, ep), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", cfg.Feed.Exchange)
	}
}
