package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/infra"
)

// FeedConfig carries process settings the Feed needs per connection.
type FeedConfig struct {
	// SnapshotLimit maps the venue's maximum snapshot depth to the depth
	// requested from FetchSnapshot.
	SnapshotLimit func(venueMax int) int
	Proxy         *url.URL
	ResyncEvery   time.Duration
}

// Feed drives one Adapter over a BaseWSWorker: it loads metadata and the
// snapshot on every connect, sequences depth events, resyncs on gaps and
// hands everything else to the Session.
type Feed struct {
	adapter Adapter
	session *Session
	worker  *infra.BaseWSWorker
	cfg     FeedConfig

	sync        *DepthSync
	resyncGuard *infra.RateLimiter
	limit       int
}

// NewFeed wires adapter and session to a websocket worker tuned with the
// adapter's stream options.
func NewFeed(adapter Adapter, session *Session, cfg FeedConfig) *Feed {
	if cfg.ResyncEvery <= 0 {
		cfg.ResyncEvery = time.Second
	}
	f := &Feed{
		adapter:     adapter,
		session:     session,
		cfg:         cfg,
		sync:        NewDepthSync(SequencingNone),
		resyncGuard: infra.NewIntervalLimiter(cfg.ResyncEvery),
	}

	opts := adapter.StreamOptions()
	w := infra.NewBaseWSWorker(f)
	w.Proxy = cfg.Proxy
	if opts.MaxFrameBytes > 0 {
		w.MaxMessageBytes = opts.MaxFrameBytes
	}
	if opts.ReconnectDelay > 0 {
		w.Backoff = infra.Backoff{Base: opts.ReconnectDelay, Max: opts.MaxReconnectDelay}
	}
	w.PingInterval = opts.PingInterval
	if adapter.Ping() == nil {
		w.PingInterval = 0
	}
	if opts.ReadTimeout > 0 {
		w.ReadTimeout = opts.ReadTimeout
	}
	f.worker = w
	return f
}

// Run streams until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	slog.Info("🚀 Feed starting",
		slog.String("id", f.ID()),
		slog.String("symbol", f.adapter.Symbol()),
		slog.String("session", f.session.ID))
	f.worker.Start(ctx)
	<-ctx.Done()
	f.worker.Stop()
	slog.Info("Feed stopped", slog.String("id", f.ID()))
	return nil
}

// ID returns the venue id.
func (f *Feed) ID() string { return f.adapter.ID() }

// GetURL returns the venue stream URL.
func (f *Feed) GetURL() string { return f.adapter.StreamURL() }

// OnConnect resolves metadata, subscribes and loads the initial snapshot.
func (f *Feed) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	meta, err := f.adapter.FetchMeta(ctx)
	if err != nil {
		return fmt.Errorf("fetch meta: %w", err)
	}
	f.session.SetInstrument(meta.TickSize, meta.ContractSize)
	f.sync = NewDepthSync(meta.Sequencing)
	f.limit = meta.MaxSnapshotDepth
	if f.cfg.SnapshotLimit != nil {
		f.limit = f.cfg.SnapshotLimit(meta.MaxSnapshotDepth)
	}

	frames, err := f.adapter.Subscribe()
	if err != nil {
		return fmt.Errorf("build subscription: %w", err)
	}
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	if err := f.loadSnapshot(ctx); err != nil {
		return err
	}
	slog.Info("Stream ready",
		slog.String("id", f.ID()),
		slog.Float64("tick_size", meta.TickSize),
		slog.Float64("contract_size", meta.ContractSize),
		slog.String("sequencing", meta.Sequencing.String()),
		slog.Int("snapshot_limit", f.limit))
	return nil
}

// OnMessage decodes one frame and dispatches its events.
func (f *Feed) OnMessage(ctx context.Context, msgType int, frame []byte) {
	events, err := f.adapter.Decode(msgType, frame)
	if err != nil {
		infra.FrameDropsTotal.WithLabelValues(f.ID(), "decode").Inc()
		slog.Debug("Frame dropped", slog.String("id", f.ID()), slog.Any("error", err))
		return
	}

	for _, ev := range events {
		switch e := ev.(type) {
		case event.DepthUpdate:
			f.onDepth(ctx, e)
		case event.Trade:
			if err := f.session.Trade(e); err != nil {
				slog.Warn("Trade write failed", slog.String("id", f.ID()), slog.Any("error", err))
			}
		case event.Reply:
			if err := f.worker.Write(websocket.TextMessage, e.Payload); err != nil {
				slog.Warn("Reply write failed", slog.String("id", f.ID()), slog.Any("error", err))
			}
		case event.Reset:
			slog.Warn("Venue requested reconnect", slog.String("id", f.ID()), slog.String("reason", e.Reason))
			f.worker.Reconnect()
			return
		}
	}
}

// OnPing writes the adapter's keep-alive payload.
func (f *Feed) OnPing(ctx context.Context, conn *websocket.Conn) error {
	p := f.adapter.Ping()
	if p == nil {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, p)
}

func (f *Feed) onDepth(ctx context.Context, u event.DepthUpdate) {
	if !u.Snapshot {
		switch f.sync.Check(u.FirstID, u.FinalID, u.PrevFinalID) {
		case VerdictDrop:
			infra.FrameDropsTotal.WithLabelValues(f.ID(), "stale").Inc()
			return
		case VerdictResync:
			slog.Warn("Depth sequence gap",
				slog.String("id", f.ID()),
				slog.Int64("last", f.sync.LastUpdateID()),
				slog.Int64("first", u.FirstID),
				slog.Int64("final", u.FinalID),
				slog.Int64("prev_final", u.PrevFinalID))
			f.resync(ctx)
			return
		}
	}
	if err := f.session.ApplyDepth(u); err != nil {
		slog.Warn("Ladder write failed", slog.String("id", f.ID()), slog.Any("error", err))
	}
}

// resync refetches the snapshot at most once per ResyncEvery.
func (f *Feed) resync(ctx context.Context) {
	if !f.resyncGuard.TryAcquire() {
		infra.ResyncsTotal.WithLabelValues(f.ID(), "throttled").Inc()
		return
	}
	if err := f.loadSnapshot(ctx); err != nil {
		infra.ResyncsTotal.WithLabelValues(f.ID(), "error").Inc()
		slog.Warn("Resync failed", slog.String("id", f.ID()), slog.Any("error", err))
		return
	}
	infra.ResyncsTotal.WithLabelValues(f.ID(), "ok").Inc()
	slog.Info("Resynced", slog.String("id", f.ID()), slog.Int64("last_update_id", f.sync.LastUpdateID()))
}

func (f *Feed) loadSnapshot(ctx context.Context) error {
	snap, err := f.adapter.FetchSnapshot(ctx, f.limit)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}
	if err := f.session.LoadSnapshot(snap.Bids, snap.Asks); err != nil {
		return err
	}
	f.sync.Reset(snap.LastUpdateID)
	return nil
}
