package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qlandys/Plasma-sub002/internal/event"
	"github.com/qlandys/Plasma-sub002/internal/ladder"
)

// fakeAdapter speaks a tiny JSON dialect:
//
//	{"e":"depth","U":1,"u":2,"pu":0,"b":[[price,qty]],"a":[[price,qty]]}
//	{"e":"trade","p":1,"q":2,"sell":true}
//	{"e":"ping"} / {"e":"reset"}
type fakeAdapter struct {
	url       string
	meta      Meta
	subscribe [][]byte

	mu            sync.Mutex
	snapshots     []*Snapshot
	snapshotCalls int
	lastLimit     int
}

type fakeFrame struct {
	E    string       `json:"e"`
	U    int64        `json:"U"`
	LU   int64        `json:"u"`
	PU   int64        `json:"pu"`
	B    [][2]float64 `json:"b"`
	A    [][2]float64 `json:"a"`
	P    float64      `json:"p"`
	Q    float64      `json:"q"`
	Sell bool         `json:"sell"`
}

func (f *fakeAdapter) ID() string     { return "FAKE" }
func (f *fakeAdapter) Symbol() string { return "TESTUSDT" }
func (f *fakeAdapter) StreamURL() string {
	return f.url
}
func (f *fakeAdapter) StreamOptions() StreamOptions {
	return StreamOptions{MaxFrameBytes: 1 << 16, ReconnectDelay: 20 * time.Millisecond, ReadTimeout: 2 * time.Second}
}
func (f *fakeAdapter) FetchMeta(ctx context.Context) (Meta, error) { return f.meta, nil }
func (f *fakeAdapter) Subscribe() ([][]byte, error)                { return f.subscribe, nil }
func (f *fakeAdapter) Ping() []byte                                { return nil }

func (f *fakeAdapter) FetchSnapshot(ctx context.Context, limit int) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	i := f.snapshotCalls
	f.snapshotCalls++
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	return f.snapshots[i], nil
}

func (f *fakeAdapter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotCalls
}

func levels(pairs [][2]float64) []event.Level {
	out := make([]event.Level, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, event.Level{Price: p[0], Qty: p[1]})
	}
	return out
}

func (f *fakeAdapter) Decode(msgType int, frame []byte) ([]event.Event, error) {
	var m fakeFrame
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, err
	}
	switch m.E {
	case "depth":
		return []event.Event{event.DepthUpdate{
			Bids: levels(m.B), Asks: levels(m.A),
			FirstID: m.U, FinalID: m.LU, PrevFinalID: m.PU,
		}}, nil
	case "trade":
		side := event.SideBuy
		if m.Sell {
			side = event.SideSell
		}
		return []event.Event{event.Trade{Price: m.P, Qty: m.Q, Side: side, TimeMs: 1}}, nil
	case "ping":
		return []event.Event{event.Reply{Payload: []byte(`{"e":"pong"}`)}}, nil
	case "reset":
		return []event.Event{event.Reset{Reason: "venue error"}}, nil
	}
	return nil, fmt.Errorf("unknown frame %q", m.E)
}

func depthFrame(first, final, prev int64, bids, asks [][2]float64) []byte {
	b, _ := json.Marshal(fakeFrame{E: "depth", U: first, LU: final, PU: prev, B: bids, A: asks})
	return b
}

func spotAdapter() *fakeAdapter {
	return &fakeAdapter{
		meta: Meta{TickSize: 1, ContractSize: 1, Sequencing: SequencingSpot, MaxSnapshotDepth: 1000},
		snapshots: []*Snapshot{
			{Bids: levels([][2]float64{{100, 5}}), Asks: levels([][2]float64{{101, 5}}), LastUpdateID: 100},
			{Bids: levels([][2]float64{{100, 6}}), Asks: levels([][2]float64{{101, 6}}), LastUpdateID: 200},
		},
	}
}

func newTestFeed(a *fakeAdapter) (*Feed, *Session, *recordSink) {
	sink := &recordSink{}
	s := NewSession(SessionConfig{Symbol: a.Symbol(), LevelsPerSide: 20}, sink)
	f := NewFeed(a, s, FeedConfig{SnapshotLimit: func(venueMax int) int { return min(venueMax, 500) }})
	return f, s, sink
}

func TestFeed_GapTriggersResync(t *testing.T) {
	a := spotAdapter()
	f, s, _ := newTestFeed(a)
	ctx := context.Background()

	require.NoError(t, f.OnConnect(ctx, nil))
	assert.Equal(t, 1, a.calls())
	assert.Equal(t, 500, a.lastLimit)

	// snapshot lastUpdateId=100, event [105,110] leaves a gap
	f.OnMessage(ctx, websocket.TextMessage, depthFrame(105, 110, 0, [][2]float64{{99, 7}}, nil))
	assert.Equal(t, 2, a.calls(), "gap must refetch the snapshot")
	assert.Zero(t, s.book.BidQty(99), "gap event must not reach the book")
	assert.Equal(t, 6.0, s.book.BidQty(100), "resync reloads the fresh snapshot")

	// stale against the new snapshot
	f.OnMessage(ctx, websocket.TextMessage, depthFrame(150, 160, 0, [][2]float64{{97, 1}}, nil))
	assert.Zero(t, s.book.BidQty(97))

	// chains onto lastUpdateId=200
	f.OnMessage(ctx, websocket.TextMessage, depthFrame(199, 205, 0, [][2]float64{{98, 3}}, nil))
	assert.Equal(t, 3.0, s.book.BidQty(98))

	// another gap within a second is not allowed to hammer the endpoint
	f.OnMessage(ctx, websocket.TextMessage, depthFrame(300, 310, 0, [][2]float64{{96, 1}}, nil))
	assert.Equal(t, 2, a.calls())
	assert.Zero(t, s.book.BidQty(96))
}

func TestFeed_FuturesChainOnPrevFinal(t *testing.T) {
	a := spotAdapter()
	a.meta.Sequencing = SequencingFutures
	f, s, _ := newTestFeed(a)
	ctx := context.Background()
	require.NoError(t, f.OnConnect(ctx, nil))

	f.OnMessage(ctx, websocket.TextMessage, depthFrame(95, 105, 90, [][2]float64{{99, 1}}, nil))
	f.OnMessage(ctx, websocket.TextMessage, depthFrame(110, 120, 105, [][2]float64{{98, 2}}, nil))
	assert.Equal(t, 1.0, s.book.BidQty(99))
	assert.Equal(t, 2.0, s.book.BidQty(98))
	assert.Equal(t, 1, a.calls())

	f.OnMessage(ctx, websocket.TextMessage, depthFrame(121, 130, 119, [][2]float64{{97, 2}}, nil))
	assert.Equal(t, 2, a.calls())
	assert.Zero(t, s.book.BidQty(97))
}

func TestFeed_UnsequencedVenueAppliesEverything(t *testing.T) {
	a := spotAdapter()
	a.meta.Sequencing = SequencingNone
	f, s, _ := newTestFeed(a)
	ctx := context.Background()
	require.NoError(t, f.OnConnect(ctx, nil))

	f.OnMessage(ctx, websocket.TextMessage, depthFrame(0, 0, 0, [][2]float64{{99, 1}}, nil))
	assert.Equal(t, 1.0, s.book.BidQty(99))
	assert.Equal(t, 1, a.calls())
}

func TestFeed_TradesAndBadFrames(t *testing.T) {
	a := spotAdapter()
	f, _, sink := newTestFeed(a)
	ctx := context.Background()
	require.NoError(t, f.OnConnect(ctx, nil))
	n := len(sink.all())

	f.OnMessage(ctx, websocket.TextMessage, []byte(`garbage`))
	f.OnMessage(ctx, websocket.TextMessage, []byte(`{"e":"trade","p":101,"q":0.5,"sell":true}`))

	msgs := sink.all()
	require.Len(t, msgs, n+1)
	tr := msgs[n].(ladder.TradeMessage)
	assert.Equal(t, "sell", tr.Side)
	require.NotNil(t, tr.Tick)
	assert.Equal(t, int64(101), *tr.Tick)
}

func createMockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func TestFeed_EndToEnd(t *testing.T) {
	subscribed := make(chan string, 1)
	pong := make(chan string, 1)
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case subscribed <- string(msg):
		default:
		}
		conn.WriteMessage(websocket.TextMessage, depthFrame(101, 103, 0, [][2]float64{{99, 2}}, nil))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"trade","p":100,"q":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"ping"}`))
		if _, reply, err := conn.ReadMessage(); err == nil {
			select {
			case pong <- string(reply):
			default:
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	a := spotAdapter()
	a.url = httpToWS(server.URL)
	a.subscribe = [][]byte{[]byte(`{"method":"SUBSCRIBE"}`)}
	f, s, sink := newTestFeed(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case msg := <-subscribed:
		assert.Equal(t, `{"method":"SUBSCRIBE"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never reached the server")
	}
	select {
	case msg := <-pong:
		assert.Equal(t, `{"e":"pong"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("reply never reached the server")
	}

	require.Eventually(t, func() bool {
		var full, trade bool
		for _, m := range sink.all() {
			switch m.(type) {
			case ladder.FullMessage:
				full = true
			case ladder.TradeMessage:
				trade = true
			}
		}
		return full && trade
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return s.TickSize() == 1 }, time.Second, 10*time.Millisecond)
	s.mu.Lock()
	assert.Equal(t, 2.0, s.book.BidQty(99))
	s.mu.Unlock()
}
