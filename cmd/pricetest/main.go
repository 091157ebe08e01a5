package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/qlandys/Plasma-sub002/internal/app"
	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/pkg/tick"
)

// pricetest resolves instrument metadata and one REST snapshot per venue
// and prints how the top of book lands on the tick grid.
func main() {
	exchanges := flag.String("exchange", "binance,binance_futures,mexc,mexc_futures", "comma separated venues")
	symbol := flag.String("symbol", "BTCUSDT", "instrument symbol")
	proxy := flag.String("proxy", "", "proxy address")
	flag.Parse()

	fmt.Println("=== Ladder Tick Grid Probe ===")
	fmt.Println()

	failed := false
	for _, ex := range strings.Split(*exchanges, ",") {
		cfg := infra.DefaultConfig()
		cfg.Feed.Exchange = strings.TrimSpace(ex)
		cfg.Feed.Symbol = *symbol
		cfg.Network.Proxy = *proxy
		if err := cfg.Validate(); err != nil {
			fmt.Printf("❌ %s: %v\n\n", ex, err)
			failed = true
			continue
		}
		if err := probe(cfg); err != nil {
			fmt.Printf("❌ %s: %v\n\n", cfg.Feed.Exchange, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("✅ Every top-of-book price maps onto an integer tick")
}

func probe(cfg *infra.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rest, err := infra.NewRESTClient(cfg)
	if err != nil {
		return err
	}
	adapter, err := app.NewAdapter(cfg, rest)
	if err != nil {
		return err
	}
	meta, err := adapter.FetchMeta(ctx)
	if err != nil {
		return fmt.Errorf("meta: %w", err)
	}
	codec, ok := tick.NewCodec(meta.TickSize)
	if !ok {
		return fmt.Errorf("unusable tick size %g", meta.TickSize)
	}

	fmt.Printf("📊 %s %s\n", adapter.ID(), adapter.Symbol())
	fmt.Printf("   tickSize:     %g (exact=%v, decimals=%d)\n", meta.TickSize, codec.Exact(), codec.Decimals())
	fmt.Printf("   contractSize: %g\n", meta.ContractSize)
	fmt.Printf("   sequencing:   %s\n", meta.Sequencing)

	snap, err := adapter.FetchSnapshot(ctx, cfg.SnapshotLimit(meta.MaxSnapshotDepth))
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if snap == nil {
		fmt.Println("   snapshot:     delivered on the stream")
		fmt.Println()
		return nil
	}

	bid, ask := topOfBook(snap)
	for _, side := range []struct {
		name  string
		price float64
	}{{"bestBid", bid}, {"bestAsk", ask}} {
		t, snapped, ok := codec.FromPrice(side.price)
		if !ok {
			return fmt.Errorf("%s %g does not quantize", side.name, side.price)
		}
		fmt.Printf("   %-13s %g -> tick %d -> %g\n", side.name+":", side.price, t, snapped)
	}
	fmt.Printf("   levels:       %d bids / %d asks (lastUpdateId=%d)\n", len(snap.Bids), len(snap.Asks), snap.LastUpdateID)
	fmt.Println()
	return nil
}

func topOfBook(snap *engine.Snapshot) (bid, ask float64) {
	for _, l := range snap.Bids {
		if l.Qty > 0 && l.Price > bid {
			bid = l.Price
		}
	}
	for _, l := range snap.Asks {
		if l.Qty > 0 && (ask == 0 || l.Price < ask) {
			ask = l.Price
		}
	}
	return bid, ask
}
