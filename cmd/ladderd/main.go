package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/qlandys/Plasma-sub002/internal/app"
	"github.com/qlandys/Plasma-sub002/internal/infra"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to config.yaml (default: auto-detect)")
		exchange      = flag.String("exchange", "", "venue: mexc, mexc_futures, binance, binance_futures, lighter, uzx_spot, uzx_swap")
		symbol        = flag.String("symbol", "", "instrument symbol")
		levels        = flag.Int("levels", 0, "ladder levels per side")
		throttleMS    = flag.Int("throttle-ms", 0, "minimum milliseconds between ladder emissions")
		snapshotDepth = flag.Int("snapshot-depth", 0, "REST snapshot depth")
		cacheLevels   = flag.Int("cache-levels", 0, "levels kept per side around the center")
		proxy         = flag.String("proxy", "", "proxy address (host:port, user:pass@host:port, ...)")
		proxyType     = flag.String("proxy-type", "", "proxy type: http or socks5")
		metricsAddr   = flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
		logLevel      = flag.String("log-level", "", "debug, info, warn or error")
	)
	flag.Parse()

	// 1. Config: file, environment, then flags
	path, required := *configPath, true
	if path == "" {
		path, required = infra.ResolveConfigPath(), false
	}
	cfg, err := infra.LoadConfig(path, required)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "exchange":
			cfg.Feed.Exchange = *exchange
		case "symbol":
			cfg.Feed.Symbol = *symbol
		case "levels":
			cfg.Feed.LadderLevelsPerSide = *levels
		case "throttle-ms":
			cfg.Feed.ThrottleMS = *throttleMS
		case "snapshot-depth":
			cfg.Feed.SnapshotDepth = *snapshotDepth
		case "cache-levels":
			cfg.Feed.CacheLevelsPerSide = *cacheLevels
		case "proxy":
			cfg.Network.Proxy = *proxy
		case "proxy-type":
			cfg.Network.ProxyType = *proxyType
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap(cfg)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Feed stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("👋 Shutting down gracefully...")
}
