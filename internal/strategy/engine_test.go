package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weexagent/internal/ai"
	"weexagent/internal/analysis/indicator"
	"weexagent/internal/decision"
	"weexagent/internal/executor"
	"weexagent/internal/gateway/weex"
	"weexagent/internal/market"
	"weexagent/internal/risk"
	"weexagent/internal/scheduler"
)

// scriptedCalc 对已收盘序列返回 closed，对追加了 tick 的序列返回 live。
type scriptedCalc struct {
	window int
	closed indicator.Snapshot
	live   indicator.Snapshot
	series [][]float64
}

func (c *scriptedCalc) Compute(closes []float64) (indicator.Snapshot, error) {
	c.series = append(c.series, append([]float64(nil), closes...))
	if len(closes) > c.window {
		return c.live, nil
	}
	return c.closed, nil
}

type fakeHistory struct {
	candles []market.Candle
	err     error
	calls   int
}

func (f *fakeHistory) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	f.calls++
	return f.candles, f.err
}

type fakeRisk struct {
	verdicts []risk.Verdict
	calls    int
}

func (f *fakeRisk) Check(ctx context.Context, symbol string) risk.Verdict {
	f.calls++
	if len(f.verdicts) == 0 {
		return risk.Verdict{Allowed: true}
	}
	idx := f.calls - 1
	if idx >= len(f.verdicts) {
		idx = len(f.verdicts) - 1
	}
	return f.verdicts[idx]
}

type fakeOracle struct {
	verdict ai.Verdict
	err     error
	calls   int
	last    ai.Snapshot
}

func (f *fakeOracle) Evaluate(ctx context.Context, snap ai.Snapshot) (ai.Verdict, error) {
	f.calls++
	f.last = snap
	return f.verdict, f.err
}

type fakeGateway struct {
	reqs   []weex.PlaceOrderRequest
	err    error
	withID bool
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, req weex.PlaceOrderRequest) (weex.PlaceOrderResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return weex.PlaceOrderResult{}, f.err
	}
	if !f.withID {
		return weex.PlaceOrderResult{Raw: []byte(`{"code":"00000","data":{}}`)}, nil
	}
	return weex.PlaceOrderResult{OrderID: fmt.Sprintf("order-%d", len(f.reqs))}, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []decision.Record
}

func (m *memRecorder) Record(ctx context.Context, rec decision.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type counterKeys struct{ n int }

func (k *counterKeys) Next() string {
	k.n++
	return fmt.Sprintf("oid%05d", k.n)
}

var testNow = time.Date(2024, 5, 1, 14, 29, 7, 0, time.UTC)

// fiveMinuteBars 生成以 lastOpen 结尾的 n 根 5 分钟 K 线。
func fiveMinuteBars(n int, lastOpen time.Time) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		open := lastOpen.Add(-time.Duration(n-1-i) * 5 * time.Minute)
		out[i] = market.Candle{
			OpenTime: open.UnixMilli(),
			Open:     49500,
			High:     49800 + float64(i),
			Low:      49200,
			Close:    49600,
			Volume:   10,
		}
	}
	return out
}

type harness struct {
	engine   *Engine
	calc     *scriptedCalc
	history  *fakeHistory
	risk     *fakeRisk
	oracle   *fakeOracle
	gateway  *fakeGateway
	recorder *memRecorder
	cooldown *risk.CooldownGuard
	now      time.Time
}

func newHarness(t *testing.T, closed, live indicator.Snapshot) *harness {
	t.Helper()
	iv, err := market.ParseInterval("MINUTE_5")
	require.NoError(t, err)
	h := &harness{
		calc:     &scriptedCalc{window: 30, closed: closed, live: live},
		risk:     &fakeRisk{},
		oracle:   &fakeOracle{verdict: ai.Verdict{Action: ai.ActionEnter, Confidence: 0.8, Model: "gpt-x", Reason: "strong volume"}},
		gateway:  &fakeGateway{withID: true},
		recorder: &memRecorder{},
		cooldown: risk.NewCooldownGuard(2 * time.Hour),
		now:      testNow,
	}
	// 最后一根 14:25 仍在形成，14:20 为最后一根已收盘
	bars := fiveMinuteBars(31, time.Date(2024, 5, 1, 14, 25, 0, 0, time.UTC))
	bars[29].High = 50000
	bars[29].Low = 49000
	bars[30].High = 60000
	bars[30].Low = 40000
	h.history = &fakeHistory{candles: bars}

	dispatcher := executor.NewDispatcher(executor.Config{
		Symbol:        "cmt_btcusdt",
		Size:          "0.01",
		MatchMode:     executor.MatchMarket,
		TakeProfitPct: 0.02,
		StopLossPct:   0.015,
		PricePlaces:   1,
	}, h.gateway, &counterKeys{})

	engine, err := NewEngine(Params{
		Name:                  "bb_rsi_regime",
		Symbol:                "cmt_btcusdt",
		Interval:              iv,
		EvalInterval:          "MINUTE_1",
		HistoryLimit:          30,
		RSINeutral:            40,
		RSIOverbought:         70,
		RSIOversold:           30,
		RangeWidthThreshold:   0.05,
		LowerBandProximityPct: 0.005,
		BreakoutMarginPct:     0.001,
		OracleMinSpacing:      20 * time.Second,
		AIConfidenceThreshold: 0.6,
		OracleBars:            10,
		Refresh: scheduler.RefreshPolicy{
			SettleMin:  2 * time.Second,
			SettleMax:  10 * time.Second,
			MinSpacing: time.Minute,
			Fallback:   15 * time.Minute,
		},
	}, Deps{
		Calculator: h.calc,
		History:    h.history,
		Risk:       h.risk,
		Cooldown:   h.cooldown,
		Oracle:     h.oracle,
		Dispatcher: dispatcher,
		Recorder:   h.recorder,
	})
	require.NoError(t, err)
	engine.nowFn = func() time.Time { return h.now }
	seq := 0
	engine.traceFn = func() string {
		seq++
		return fmt.Sprintf("trace-%d", seq)
	}
	h.engine = engine
	require.NoError(t, engine.Refresh(context.Background(), scheduler.TriggerStartup))
	return h
}

var (
	trendClosed = indicator.Snapshot{Momentum: 65, Upper: 51500, Mid: 50000, Lower: 48500}
	trendLive   = indicator.Snapshot{Momentum: 75, Upper: 51600, Mid: 50010, Lower: 48420}
	rangeClosed = indicator.Snapshot{Momentum: 35, Upper: 50500, Mid: 49750, Lower: 49000}
	rangeLive   = indicator.Snapshot{Momentum: 45, Upper: 50480, Mid: 49740, Lower: 49000}
)

func tick(interval string, price float64) market.Tick {
	return market.Tick{Symbol: "cmt_btcusdt", Interval: interval, Price: price, ReceivedAt: testNow}
}

func TestRefreshUsesLastClosedBar(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	st := h.engine.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, 50000.0, st.PrevHigh, "14:25 bar is still forming, 14:20 must be used")
	assert.Equal(t, 49000.0, st.PrevLow)
	assert.Equal(t, scheduler.TriggerStartup, st.LastTrigger)
	// 已收盘窗口 30 根，未包含正在形成的 K 线
	require.NotEmpty(t, h.calc.series)
	assert.Len(t, h.calc.series[0], 30)
}

func TestRefreshKeepsLastBarWhenAlreadyClosed(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	bars := fiveMinuteBars(30, time.Date(2024, 5, 1, 14, 20, 0, 0, time.UTC))
	bars[29].High = 50123
	h.history.candles = bars
	require.NoError(t, h.engine.Refresh(context.Background(), scheduler.TriggerFallback))
	assert.Equal(t, 50123.0, h.engine.Status().PrevHigh)
}

func TestTrendBreakoutApprovedByOracle(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))

	require.Equal(t, 1, h.oracle.calls)
	assert.Equal(t, executor.SideLong, h.oracle.last.Direction)
	assert.Len(t, h.oracle.last.Bars, 10)
	assert.Equal(t, 2, h.risk.calls, "risk is re-checked after the oracle returns")

	require.Len(t, h.gateway.reqs, 1)
	req := h.gateway.reqs[0]
	assert.Equal(t, "1", req.Type)
	assert.Equal(t, "51102", req.PresetTakeProfit)
	assert.Equal(t, "49348.5", req.PresetStopLoss)

	require.Len(t, h.recorder.recs, 2)
	signal, exec := h.recorder.recs[0], h.recorder.recs[1]
	assert.Equal(t, decision.StageSignal, signal.Stage)
	assert.Equal(t, decision.SourceAI, signal.Source)
	assert.True(t, signal.Approved)
	require.NotNil(t, signal.Confidence)
	assert.InDelta(t, 0.8, *signal.Confidence, 1e-9)
	assert.Equal(t, "gpt-x", signal.Model)

	assert.Equal(t, decision.StageExecution, exec.Stage)
	assert.Equal(t, signal.TraceID, exec.TraceID)
	assert.Equal(t, "order-1", exec.OrderID)
	assert.Equal(t, "oid00001", exec.ClientOrderID)
	assert.Equal(t, testNow, h.cooldown.LastTradeAt())

	st := h.engine.Status()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, RegimeTrending, st.Regime)
	assert.Equal(t, int64(1), st.Orders)
}

func TestCooldownSkipsFollowingTicks(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))
	require.Len(t, h.gateway.reqs, 1)

	h.now = testNow.Add(time.Hour)
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50200))
	assert.Len(t, h.gateway.reqs, 1)
	assert.Equal(t, 1, h.oracle.calls)

	h.now = testNow.Add(2 * time.Hour)
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50200))
	assert.Equal(t, 2, h.oracle.calls, "cooldown boundary is inclusive")
}

func TestOracleBelowThresholdRejected(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.oracle.verdict = ai.Verdict{Action: ai.ActionEnter, Confidence: 0.55, Model: "gpt-x"}

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))

	assert.Empty(t, h.gateway.reqs)
	require.Len(t, h.recorder.recs, 1)
	rec := h.recorder.recs[0]
	assert.False(t, rec.Approved)
	assert.Equal(t, decision.SourceAI, rec.Source)
	assert.Contains(t, rec.Explanation, "threshold 0.60")
	assert.True(t, h.cooldown.LastTradeAt().IsZero())
}

func TestOracleFailureRecordedAsRejection(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.oracle.err = fmt.Errorf("%w after 15s", ai.ErrOracleTimeout)

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))

	assert.Empty(t, h.gateway.reqs)
	require.Len(t, h.recorder.recs, 1)
	assert.False(t, h.recorder.recs[0].Approved)
	assert.Contains(t, h.recorder.recs[0].Explanation, "oracle timeout")
}

func TestOracleSpacing(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.oracle.verdict = ai.Verdict{Action: ai.ActionSkip, Confidence: 0.9}

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))
	h.now = testNow.Add(19 * time.Second)
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50110))
	assert.Equal(t, 1, h.oracle.calls)

	h.now = testNow.Add(20 * time.Second)
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50120))
	assert.Equal(t, 2, h.oracle.calls)
}

func TestRiskGateSkipsBeforeOracle(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.risk.verdicts = []risk.Verdict{{Reason: "open positions 1 >= max 1"}}

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))

	assert.Zero(t, h.oracle.calls)
	assert.Empty(t, h.gateway.reqs)
	assert.Empty(t, h.recorder.recs)
}

func TestRiskRecheckAfterOracle(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.risk.verdicts = []risk.Verdict{{Allowed: true}, {Reason: "open orders 1 >= max 1"}}

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))

	assert.Equal(t, 1, h.oracle.calls)
	assert.Empty(t, h.gateway.reqs)
	require.Len(t, h.recorder.recs, 1)
	assert.False(t, h.recorder.recs[0].Approved)
	assert.Contains(t, h.recorder.recs[0].Explanation, "risk re-check")
}

func TestNoBreakoutNoCandidate(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	// 50040 < 50000*1.001
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50040))
	assert.Zero(t, h.risk.calls)
	assert.Zero(t, h.oracle.calls)
	assert.Equal(t, int64(1), h.engine.Status().Evaluations)
}

func TestIgnoresNonEvaluationInterval(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.engine.OnTick(context.Background(), tick("MINUTE_5", 50100))
	assert.Zero(t, h.oracle.calls)
	st := h.engine.Status()
	assert.Equal(t, int64(0), st.Evaluations)
	assert.Equal(t, 50100.0, st.LastPrice)
}

func TestRangeMeanReversionRule(t *testing.T) {
	h := newHarness(t, rangeClosed, rangeLive)

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 49100))

	assert.Zero(t, h.oracle.calls)
	require.Len(t, h.gateway.reqs, 1)
	assert.Equal(t, "1", h.gateway.reqs[0].Type)
	require.Len(t, h.recorder.recs, 2)
	assert.Equal(t, decision.SourceRule, h.recorder.recs[0].Source)
	assert.Nil(t, h.recorder.recs[0].Confidence)
	assert.Equal(t, RegimeRange, h.engine.Status().Regime)
}

func TestRangeRequiresMomentumRecovery(t *testing.T) {
	live := rangeLive
	live.Momentum = 38
	h := newHarness(t, rangeClosed, live)
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 49100))
	assert.Empty(t, h.gateway.reqs)

	// 超出下轨 0.5% 以上
	h2 := newHarness(t, rangeClosed, rangeLive)
	h2.engine.OnTick(context.Background(), tick("MINUTE_1", 49300))
	assert.Empty(t, h2.gateway.reqs)
}

func TestShortBreakdownRequiresEnableShort(t *testing.T) {
	live := indicator.Snapshot{Momentum: 25, Upper: 51500, Mid: 50000, Lower: 48500}
	h := newHarness(t, trendClosed, live)
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 48900))
	assert.Zero(t, h.oracle.calls)

	h2 := newHarness(t, trendClosed, live)
	h2.engine.p.EnableShort = true
	h2.engine.OnTick(context.Background(), tick("MINUTE_1", 48900))
	require.Equal(t, 1, h2.oracle.calls)
	assert.Equal(t, executor.SideShort, h2.oracle.last.Direction)
	require.Len(t, h2.gateway.reqs, 1)
	assert.Equal(t, "2", h2.gateway.reqs[0].Type)
	assert.Equal(t, "47922", h2.gateway.reqs[0].PresetTakeProfit)
	assert.Equal(t, "49633.5", h2.gateway.reqs[0].PresetStopLoss)
}

func TestDispatchFailureDoesNotStartCooldown(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.gateway.err = &weex.APIError{Status: 400, Code: "40762", Message: "insufficient balance"}

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))

	assert.True(t, h.cooldown.LastTradeAt().IsZero())
	require.Len(t, h.recorder.recs, 2)
	exec := h.recorder.recs[1]
	assert.Equal(t, decision.StageExecution, exec.Stage)
	assert.False(t, exec.Approved)
	assert.Contains(t, exec.Explanation, "insufficient balance")
	assert.Empty(t, exec.OrderID)
}

func TestAcceptedOrderWithoutIDStartsCooldown(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.gateway.withID = false

	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50100))

	assert.Equal(t, h.now, h.cooldown.LastTradeAt())
	require.Len(t, h.recorder.recs, 2)
	exec := h.recorder.recs[1]
	assert.Equal(t, decision.StageExecution, exec.Stage)
	assert.True(t, exec.Approved)
	assert.Empty(t, exec.OrderID)
	assert.Equal(t, "oid00001", exec.ClientOrderID)
	assert.Contains(t, exec.Explanation, "order id unknown")

	// 冷却生效，下一次突破不会再次下单
	h.engine.OnTick(context.Background(), tick("MINUTE_1", 50200))
	assert.Len(t, h.gateway.reqs, 1)
}

func TestMaybeRefreshSchedule(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	require.Equal(t, 1, h.history.calls)

	// 14:29:07 不在边界窗口内
	h.engine.MaybeRefresh(context.Background())
	assert.Equal(t, 1, h.history.calls)

	h.now = time.Date(2024, 5, 1, 14, 30, 8, 0, time.UTC)
	h.engine.MaybeRefresh(context.Background())
	assert.Equal(t, 2, h.history.calls)
	assert.Equal(t, scheduler.TriggerBoundary, h.engine.Status().LastTrigger)

	h.now = h.now.Add(2 * time.Second)
	h.engine.MaybeRefresh(context.Background())
	assert.Equal(t, 2, h.history.calls, "min spacing prevents a second boundary refresh")
}

func TestMaybeRefreshBacksOffAfterFailure(t *testing.T) {
	h := newHarness(t, trendClosed, trendLive)
	h.history.err = errors.New("502 bad gateway")
	h.now = time.Date(2024, 5, 1, 14, 45, 0, 0, time.UTC)

	h.engine.MaybeRefresh(context.Background())
	assert.Equal(t, 2, h.history.calls)
	h.now = h.now.Add(time.Second)
	h.engine.MaybeRefresh(context.Background())
	assert.Equal(t, 2, h.history.calls)
	h.now = h.now.Add(5 * time.Second)
	h.engine.MaybeRefresh(context.Background())
	assert.Equal(t, 3, h.history.calls)
	assert.True(t, h.engine.Status().Ready, "old window survives failed refreshes")
}
