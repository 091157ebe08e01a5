package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Write while no connection is open.
var ErrNotConnected = errors.New("ws not connected")

// WebSocketHandler defines venue-specific logic for the BaseWSWorker.
type WebSocketHandler interface {
	GetURL() string
	// OnConnect runs before the read loop starts. Writes to conn are safe here.
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msgType int, msg []byte)
	// OnPing runs on every PingInterval tick with the write lock held.
	OnPing(ctx context.Context, conn *websocket.Conn) error
	ID() string
}

// BaseWSWorker manages the lifecycle of a WebSocket connection.
// It handles reconnection with backoff, read timeouts, bounded frame reads,
// and thread-safe writes.
type BaseWSWorker struct {
	handler    WebSocketHandler
	mu         sync.RWMutex
	conn       *websocket.Conn
	connCancel context.CancelFunc
	writeMu    sync.Mutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64   // frames above this are dropped; 0 = unbounded
	Backoff         Backoff // Delay(0) is also the pause after a disconnect
	Proxy           *url.URL
}

// NewBaseWSWorker creates a new generic WebSocket worker.
func NewBaseWSWorker(handler WebSocketHandler) *BaseWSWorker {
	return &BaseWSWorker{
		handler:         handler,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageBytes: 1 << 20,
		Backoff:         DefaultBackoff,
	}
}

// Start initiates the connection loop.
func (w *BaseWSWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker.
func (w *BaseWSWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

// Reconnect drops the current connection; the run loop dials again after
// the reconnect delay.
func (w *BaseWSWorker) Reconnect() {
	w.close()
}

func (w *BaseWSWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := w.Backoff.Delay(retry)
			slog.Warn("WS Connection failed",
				slog.String("id", w.handler.ID()),
				slog.Any("error", err),
				slog.Int("retry", retry),
				slog.Duration("delay", delay))
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0 // Reset on successful connect
		w.process(ctx)

		if ctx.Err() != nil {
			return
		}
		WSReconnectsTotal.WithLabelValues(w.handler.ID()).Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Backoff.Delay(0)):
		}
	}
}

func (w *BaseWSWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if w.Proxy != nil {
		dialer.Proxy = http.ProxyURL(w.Proxy)
	}
	header := make(http.Header)
	header.Set("User-Agent", GetUserAgent())

	conn, _, err := dialer.DialContext(ctx, w.handler.GetURL(), header)
	if err != nil {
		return err
	}
	conn.SetPingHandler(func(data string) error {
		w.extendDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	connCtx, connCancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.conn = conn
	w.connCancel = connCancel
	w.mu.Unlock()

	if err := w.handler.OnConnect(connCtx, conn); err != nil {
		w.close()
		return fmt.Errorf("OnConnect failed: %w", err)
	}

	if w.PingInterval > 0 {
		go w.pingLoop(connCtx, conn)
	}

	slog.Info("WS Connected", slog.String("id", w.handler.ID()))
	return nil
}

func (w *BaseWSWorker) process(ctx context.Context) {
	id := w.handler.ID()
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		w.extendDeadline(c)
		msgType, r, err := c.NextReader()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WS Read error", slog.String("id", id), slog.Any("error", err))
			}
			w.closeConn(c)
			return
		}

		msg, oversized, err := w.readBounded(r)
		if err != nil {
			slog.Warn("WS Read error", slog.String("id", id), slog.Any("error", err))
			w.closeConn(c)
			return
		}
		if oversized {
			FrameDropsTotal.WithLabelValues(id, "oversize").Inc()
			slog.Warn("WS frame exceeds buffer limit, dropped",
				slog.String("id", id),
				slog.Int64("limit", w.MaxMessageBytes))
			continue
		}

		FramesTotal.WithLabelValues(id).Inc()
		w.handler.OnMessage(ctx, msgType, msg)
	}
}

// readBounded reassembles one message up to MaxMessageBytes. Anything larger
// is drained from the connection and reported as oversized.
func (w *BaseWSWorker) readBounded(r io.Reader) ([]byte, bool, error) {
	if w.MaxMessageBytes <= 0 {
		msg, err := io.ReadAll(r)
		return msg, false, err
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, w.MaxMessageBytes+1))
	if err != nil {
		return nil, false, err
	}
	if n > w.MaxMessageBytes {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, true, err
		}
		return nil, true, nil
	}
	return buf.Bytes(), false, nil
}

func (w *BaseWSWorker) extendDeadline(c *websocket.Conn) {
	if w.ReadTimeout > 0 {
		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}
}

func (w *BaseWSWorker) pingLoop(ctx context.Context, c *websocket.Conn) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.handler.OnPing(ctx, c)
			w.writeMu.Unlock()
			if err != nil {
				slog.Warn("WS Ping error", slog.String("id", w.handler.ID()), slog.Any("error", err))
				w.closeConn(c)
				return
			}
		}
	}
}

// Write sends one message on the current connection.
func (w *BaseWSWorker) Write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return ErrNotConnected
	}

	c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.WriteMessage(msgType, data)
}

func (w *BaseWSWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

// closeConn closes c only if it is still the active connection.
func (w *BaseWSWorker) closeConn(c *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == c {
		w.closeLocked()
	}
}

func (w *BaseWSWorker) closeLocked() {
	if w.connCancel != nil {
		w.connCancel()
		w.connCancel = nil
	}
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
