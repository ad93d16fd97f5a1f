package weex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"weexagent/internal/logger"
	"weexagent/internal/market"
)

var ErrMalformedMessage = errors.New("malformed stream message")

type StreamConfig struct {
	URL              string
	RequestPath      string
	Creds            Credentials
	Symbol           string
	PriceField       string
	Intervals        []string
	ReconnectDelay   time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.PriceField == "" {
		c.PriceField = "LAST_PRICE"
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * c.PingInterval
	}
	return c
}

// Channels 返回订阅的频道列表，每个周期一个：kline.<field>.<symbol>.<interval>。
func (c StreamConfig) Channels() []string {
	out := make([]string, 0, len(c.Intervals))
	for _, iv := range c.Intervals {
		out = append(out, fmt.Sprintf("kline.%s.%s.%s", c.PriceField, c.Symbol, iv))
	}
	return out
}

// StreamHooks 在连接状态变化与收到异常消息时回调，均在接收协程中同步执行。
type StreamHooks struct {
	OnConnect    func()
	OnDisconnect func(error)
	OnMalformed  func(error)
}

type StreamStats struct {
	Connects        int
	Reconnects      int
	DialErrors      int
	MalformedFrames int
	Ticks           int64
	LastError       string
	LastTickAt      time.Time
}

// Stream 维护一条鉴权 websocket 长连接：握手、按周期订阅、心跳、消息分类、无条件重连。
// 行情回调在接收协程中按到达顺序同步调用。
type Stream struct {
	cfg    StreamConfig
	onTick func(market.Tick)
	hooks  StreamHooks
	dialer *websocket.Dialer
	nowFn  func() time.Time

	statsMu sync.Mutex
	stats   StreamStats
}

func NewStream(cfg StreamConfig, onTick func(market.Tick), hooks StreamHooks) *Stream {
	final := cfg.withDefaults()
	return &Stream{
		cfg:    final,
		onTick: onTick,
		hooks:  hooks,
		dialer: &websocket.Dialer{HandshakeTimeout: final.HandshakeTimeout},
		nowFn:  time.Now,
	}
}

// Run 阻塞直到 ctx 结束；任何传输错误都会在固定延迟后重新握手并重新订阅，没有次数上限。
func (s *Stream) Run(ctx context.Context) error {
	if s.onTick == nil {
		return fmt.Errorf("stream: tick handler is required")
	}
	if len(s.cfg.Intervals) == 0 {
		return fmt.Errorf("stream: no intervals to subscribe")
	}
	first := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !first {
			s.recordReconnect()
		}
		first = false
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.recordError(err)
		if s.hooks.OnDisconnect != nil {
			s.hooks.OnDisconnect(err)
		}
		logger.Warnf("[stream] disconnected: %v; reconnect in %s", err, s.cfg.ReconnectDelay)
		if !sleepWithContext(ctx, s.cfg.ReconnectDelay) {
			return ctx.Err()
		}
	}
}

func (s *Stream) Stats() StreamStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Stream) session(ctx context.Context) error {
	header := handshakeHeader(s.cfg.Creds, s.cfg.RequestPath, s.nowFn())
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		s.statsMu.Lock()
		s.stats.DialErrors++
		s.statsMu.Unlock()
		if resp != nil {
			return fmt.Errorf("dial %s: status=%d: %w", s.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	sc := &sessionConn{conn: conn}
	defer conn.Close()

	s.statsMu.Lock()
	s.stats.Connects++
	s.statsMu.Unlock()
	logger.Infof("[stream] connected %s", s.cfg.URL)

	for _, ch := range s.cfg.Channels() {
		if err := sc.writeJSON(map[string]string{"event": "subscribe", "channel": ch}); err != nil {
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
		logger.Infof("[stream] subscribe sent: %s", ch)
	}
	if s.hooks.OnConnect != nil {
		s.hooks.OnConnect()
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.keepalive(sessCtx, sc)
	}()
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		// 解除阻塞中的 ReadMessage
		_ = conn.Close()
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		_ = conn.SetReadDeadline(s.nowFn().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.handle(sc, msg); err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				s.statsMu.Lock()
				s.stats.MalformedFrames++
				s.statsMu.Unlock()
				if s.hooks.OnMalformed != nil {
					s.hooks.OnMalformed(err)
				}
				logger.Warnf("[stream] drop message: %v", err)
				continue
			}
			return err
		}
	}
}

// keepalive 定期发送裸 "ping"，用于在客户端侧发现半开连接。
func (s *Stream) keepalive(ctx context.Context, sc *sessionConn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sc.writeText("ping"); err != nil {
				logger.Warnf("[stream] ping failed: %v", err)
				_ = sc.conn.Close()
				return
			}
		}
	}
}

// handle 对入站消息分类：心跳、订阅确认、错误事件、行情。返回的非 Malformed 错误为写失败。
func (s *Stream) handle(sc *sessionConn, msg []byte) error {
	text := strings.TrimSpace(string(msg))
	switch text {
	case "ping":
		return sc.writeText("pong")
	case "pong":
		return nil
	case "":
		return fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}
	if !gjson.Valid(text) {
		return fmt.Errorf("%w: invalid json: %s", ErrMalformedMessage, truncate(text))
	}
	root := gjson.Parse(text)
	switch event := root.Get("event").String(); event {
	case "ping":
		reply := map[string]any{"event": "pong"}
		if tm := root.Get("time"); tm.Exists() {
			reply["time"] = json.RawMessage(tm.Raw)
		}
		return sc.writeJSON(reply)
	case "pong":
		return nil
	case "subscribe", "subscribed":
		logger.Infof("[stream] subscribed: %s", root.Get("channel").String())
		return nil
	case "error":
		logger.Warnf("[stream] server error event: %s", truncate(text))
		return nil
	}

	channel := root.Get("channel")
	data := root.Get("data")
	if !channel.Exists() || !data.Exists() {
		logger.Debugf("[stream] ignore message: %s", truncate(text))
		return nil
	}
	if data.IsArray() {
		items := data.Array()
		if len(items) == 0 {
			return fmt.Errorf("%w: empty data on %s", ErrMalformedMessage, channel.String())
		}
		data = items[0]
	}
	if !data.IsObject() {
		return fmt.Errorf("%w: data is not an object on %s", ErrMalformedMessage, channel.String())
	}
	interval := market.IntervalFromChannel(channel.String())
	if interval == "" {
		return fmt.Errorf("%w: channel without interval %q", ErrMalformedMessage, channel.String())
	}
	priceRes := firstResult(data, "close", "c")
	price, err := strconv.ParseFloat(strings.TrimSpace(priceRes.String()), 64)
	if err != nil || price <= 0 {
		return fmt.Errorf("%w: no price on %s", ErrMalformedMessage, channel.String())
	}
	now := s.nowFn()
	s.statsMu.Lock()
	s.stats.Ticks++
	s.stats.LastTickAt = now
	s.statsMu.Unlock()
	s.onTick(market.Tick{
		Symbol:     s.cfg.Symbol,
		Interval:   interval,
		Price:      price,
		ReceivedAt: now,
	})
	return nil
}

func (s *Stream) recordError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Stream) recordReconnect() {
	s.statsMu.Lock()
	s.stats.Reconnects++
	s.statsMu.Unlock()
}

// sessionConn 串行化写操作：gorilla 连接只允许一个并发写者。
type sessionConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *sessionConn) writeText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (c *sessionConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
