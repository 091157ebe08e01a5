package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qlandys/Plasma-sub002/internal/engine"
	"github.com/qlandys/Plasma-sub002/internal/infra"
	"github.com/qlandys/Plasma-sub002/internal/ladder"
)

// Bootstrap orchestrates the startup sequence of one feed process.
type Bootstrap struct {
	Config   *infra.Config
	Registry *prometheus.Registry
	Adapter  engine.Adapter
	Session  *engine.Session
	Feed     *engine.Feed

	// Out receives the ladder stream, Control the command channel.
	Out     io.Writer
	Control io.Reader
}

// NewBootstrap creates a Bootstrap for an already validated config.
func NewBootstrap(cfg *infra.Config) *Bootstrap {
	return &Bootstrap{Config: cfg, Out: os.Stdout, Control: os.Stdin}
}

// Initialize wires logging, metrics, the REST client, the venue adapter,
// the session and the feed.
func (b *Bootstrap) Initialize() error {
	cfg := b.Config

	// 1. Logger
	slog.SetDefault(infra.NewLogger(cfg))
	infra.PrintBanner(os.Stderr, cfg)
	slog.Info("🚀 Bootstrapping ladder feed",
		slog.String("exchange", cfg.Feed.Exchange),
		slog.String("symbol", cfg.Feed.Symbol))

	// 2. Metrics
	b.Registry = infra.InitMetrics()

	// 3. Network
	if cfg.Network.UserAgent != "" {
		infra.SetUserAgent(cfg.Network.UserAgent)
	}
	rest, err := infra.NewRESTClient(cfg)
	if err != nil {
		return fmt.Errorf("rest client: %w", err)
	}
	proxy, err := cfg.ProxyURL()
	if err != nil {
		return err
	}
	if proxy != nil {
		slog.Info("🔒 Using proxy", slog.String("type", proxy.Scheme), slog.String("host", proxy.Host))
	}

	// 4. Venue
	adapter, err := NewAdapter(cfg, rest)
	if err != nil {
		return err
	}
	b.Adapter = adapter

	// 5. Session and feed
	b.Session = engine.NewSession(engine.SessionConfig{
		Symbol:        adapter.Symbol(),
		LevelsPerSide: cfg.Feed.LadderLevelsPerSide,
		Throttle:      time.Duration(cfg.Feed.ThrottleMS) * time.Millisecond,
		CacheLevels:   cfg.Feed.CacheLevelsPerSide,
		RecenterBand:  cfg.Feed.RecenterBandTicks,
	}, ladder.NewWriter(b.Out))
	b.Feed = engine.NewFeed(adapter, b.Session, engine.FeedConfig{
		SnapshotLimit: cfg.SnapshotLimit,
		Proxy:         proxy,
	})

	slog.Info("✅ Feed ready",
		slog.String("venue", adapter.ID()),
		slog.String("symbol", adapter.Symbol()),
		slog.String("session", b.Session.ID))
	return nil
}

// Run streams until ctx is done. The control reader and the metrics
// endpoint run alongside the feed; stdin EOF leaves the feed running.
func (b *Bootstrap) Run(ctx context.Context) error {
	go func() {
		if err := infra.ServeMetrics(ctx, b.Config.Metrics.Addr, b.Registry); err != nil {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	if b.Control != nil {
		go func() {
			if err := ReadControl(ctx, b.Control, b.Session); err != nil && ctx.Err() == nil {
				slog.Warn("Control channel closed", slog.Any("error", err))
			}
		}()
	}

	return b.Feed.Run(ctx)
}
