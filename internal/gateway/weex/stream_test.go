package weex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"weexagent/internal/market"
)

type fakeExchange struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu        sync.Mutex
	sessions  int
	subs      [][]string
	handshake []time.Time
	// script 按会话序号决定推送内容，返回后服务端关闭连接
	script func(n int, conn *websocket.Conn)
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ts := r.Header.Get("ACCESS-TIMESTAMP")
	if r.Header.Get("ACCESS-SIGN") != Sign("secret", ts+"/v2/ws/public") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	n := f.sessions
	f.sessions++
	f.handshake = append(f.handshake, time.Now())
	f.mu.Unlock()

	var channels []string
	for i := 0; i < 2; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		channels = append(channels, gjson.GetBytes(msg, "channel").String())
	}
	f.mu.Lock()
	f.subs = append(f.subs, channels)
	f.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribed","channel":"`+channels[0]+`"}`))
	f.script(n, conn)
}

func newStreamForTest(url string, onTick func(market.Tick)) *Stream {
	return NewStream(StreamConfig{
		URL:            url,
		RequestPath:    "/v2/ws/public",
		Creds:          testCreds,
		Symbol:         "cmt_btcusdt",
		Intervals:      []string{"MINUTE_1", "MINUTE_5"},
		ReconnectDelay: 50 * time.Millisecond,
		PingInterval:   time.Second,
	}, onTick, StreamHooks{})
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamReconnectsAndResubscribes(t *testing.T) {
	fx := &fakeExchange{t: t}
	fx.script = func(n int, conn *websocket.Conn) {
		switch n {
		case 0:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"kline.LAST_PRICE.cmt_btcusdt.MINUTE_1","data":[{"close":"100.5"}]}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"kline.LAST_PRICE.cmt_btcusdt.MINUTE_5","data":{"c":"101"}}`))
			// 主动断开
		default:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"kline.LAST_PRICE.cmt_btcusdt.MINUTE_1","data":{"close":102}}`))
			time.Sleep(500 * time.Millisecond)
		}
	}
	srv := httptest.NewServer(fx)
	defer srv.Close()

	var (
		mu    sync.Mutex
		ticks []market.Tick
	)
	got3 := make(chan struct{})
	stream := newStreamForTest(wsURL(srv), func(tk market.Tick) {
		mu.Lock()
		ticks = append(ticks, tk)
		if len(ticks) == 3 {
			close(got3)
		}
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	select {
	case <-got3:
	case <-time.After(3 * time.Second):
		t.Fatal("did not receive ticks across reconnect")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ticks, 3)
	assert.Equal(t, []float64{100.5, 101, 102}, []float64{ticks[0].Price, ticks[1].Price, ticks[2].Price})
	assert.Equal(t, "MINUTE_5", ticks[1].Interval)

	fx.mu.Lock()
	defer fx.mu.Unlock()
	require.GreaterOrEqual(t, len(fx.subs), 2)
	assert.Equal(t, fx.subs[0], fx.subs[1])
	assert.Equal(t, []string{"kline.LAST_PRICE.cmt_btcusdt.MINUTE_1", "kline.LAST_PRICE.cmt_btcusdt.MINUTE_5"}, fx.subs[0])
	gap := fx.handshake[1].Sub(fx.handshake[0])
	assert.Less(t, gap, 2*time.Second)

	stats := stream.Stats()
	assert.GreaterOrEqual(t, stats.Reconnects, 1)
	assert.Equal(t, int64(3), stats.Ticks)
}

func TestStreamAnswersPingsAndDropsMalformed(t *testing.T) {
	replies := make(chan string, 4)
	fx := &fakeExchange{t: t}
	fx.script = func(n int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping","time":"1693208170000"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`ping`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"kline.LAST_PRICE.cmt_btcusdt.MINUTE_1","data":{"volume":"3"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"kline.LAST_PRICE.cmt_btcusdt.MINUTE_1","data":{"close":"99"}}`))
		for i := 0; i < 2; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			replies <- string(msg)
		}
		time.Sleep(time.Second)
	}
	srv := httptest.NewServer(fx)
	defer srv.Close()

	tickC := make(chan market.Tick, 4)
	var malformed int
	var mmu sync.Mutex
	stream := newStreamForTest(wsURL(srv), func(tk market.Tick) { tickC <- tk })
	stream.hooks.OnMalformed = func(error) {
		mmu.Lock()
		malformed++
		mmu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stream.Run(ctx) }()

	select {
	case tk := <-tickC:
		assert.Equal(t, 99.0, tk.Price)
	case <-time.After(3 * time.Second):
		t.Fatal("no tick")
	}

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case r := <-replies:
			got = append(got, r)
		case <-time.After(3 * time.Second):
			t.Fatal("missing pong")
		}
	}
	assert.JSONEq(t, `{"event":"pong","time":"1693208170000"}`, got[0])
	assert.Equal(t, "pong", got[1])

	mmu.Lock()
	assert.Equal(t, 2, malformed)
	mmu.Unlock()
}
