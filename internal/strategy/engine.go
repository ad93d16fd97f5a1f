// Package strategy 实现信号引擎：消费 tick、维护指标窗口、判定市场状态，
// 经冷却/风控/oracle 过滤后下单，并记录完整的决策轨迹。
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"weexagent/internal/ai"
	"weexagent/internal/analysis/indicator"
	"weexagent/internal/decision"
	"weexagent/internal/executor"
	"weexagent/internal/logger"
	"weexagent/internal/market"
	"weexagent/internal/metrics"
	"weexagent/internal/risk"
	"weexagent/internal/scheduler"
)

// Phase 是单次评估所处的阶段；评估结束总是回到 IDLE。
type Phase string

const (
	PhaseIdle           Phase = "IDLE"
	PhaseCooldownCheck  Phase = "COOLDOWN_CHECK"
	PhaseRegimeCheck    Phase = "REGIME_CHECK"
	PhaseCandidateFound Phase = "CANDIDATE_FOUND"
	PhaseRiskCheck      Phase = "RISK_CHECK"
	PhaseOracleCheck    Phase = "ORACLE_CHECK"
	PhaseApproved       Phase = "APPROVED"
	PhaseRejected       Phase = "REJECTED"
)

// HistorySource 拉取历史 K 线。
type HistorySource interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

type RiskChecker interface {
	Check(ctx context.Context, symbol string) risk.Verdict
}

type OrderDispatcher interface {
	Dispatch(ctx context.Context, req executor.Request) (executor.Result, error)
}

// Params 汇总引擎的策略参数。
type Params struct {
	Name                  string
	Symbol                string
	Interval              market.Interval
	EvalInterval          string
	HistoryLimit          int
	RSINeutral            float64
	RSIOverbought         float64
	RSIOversold           float64
	RangeWidthThreshold   float64
	LowerBandProximityPct float64
	BreakoutMarginPct     float64
	OracleMinSpacing      time.Duration
	AIConfidenceThreshold float64
	OracleBars            int
	EnableShort           bool
	Refresh               scheduler.RefreshPolicy
}

// Deps 是引擎的外部协作方，全部通过构造函数注入。
type Deps struct {
	Calculator indicator.Calculator
	History    HistorySource
	Risk       RiskChecker
	Cooldown   *risk.CooldownGuard
	Oracle     ai.Oracle
	Dispatcher OrderDispatcher
	Recorder   decision.Recorder
}

// Engine 串行处理评估：evalMu 保证同一时刻只有一个评估周期，
// mu 保护指标窗口与时间戳，在 oracle 调用期间释放以便刷新可以继续。
type Engine struct {
	p          Params
	history    HistorySource
	risk       RiskChecker
	cooldown   *risk.CooldownGuard
	oracle     ai.Oracle
	dispatcher OrderDispatcher
	recorder   decision.Recorder
	nowFn      func() time.Time
	traceFn    func() string

	evalMu sync.Mutex

	mu              sync.Mutex
	state           *indicator.State
	lastRefresh     time.Time
	lastRefreshFail time.Time
	lastTrigger     scheduler.Trigger
	lastAIRequestAt time.Time
	phase           Phase
	status          Status
}

const refreshRetryDelay = 5 * time.Second

func NewEngine(p Params, deps Deps) (*Engine, error) {
	if deps.Calculator == nil || deps.History == nil || deps.Risk == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("strategy engine: calculator, history, risk and dispatcher are required")
	}
	if p.Interval.Duration <= 0 {
		return nil, fmt.Errorf("strategy engine: interval is required")
	}
	if p.EvalInterval == "" {
		p.EvalInterval = p.Interval.Name
	}
	if p.Name == "" {
		p.Name = "bb_rsi_regime"
	}
	if p.Refresh.Interval <= 0 {
		p.Refresh.Interval = p.Interval.Duration
	}
	oracle := deps.Oracle
	if oracle == nil {
		oracle = ai.Disabled{}
	}
	cooldown := deps.Cooldown
	if cooldown == nil {
		cooldown = risk.NewCooldownGuard(0)
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = decision.Noop{}
	}
	return &Engine{
		p:          p,
		history:    deps.History,
		risk:       deps.Risk,
		cooldown:   cooldown,
		oracle:     oracle,
		dispatcher: deps.Dispatcher,
		recorder:   recorder,
		nowFn:      time.Now,
		traceFn:    uuid.NewString,
		state:      indicator.NewState(deps.Calculator, p.HistoryLimit),
		phase:      PhaseIdle,
	}, nil
}

// candidate 是规则层面找到的入场机会。
type candidate struct {
	side   string
	source decision.Source
	regime Regime
	reason string
}

// evalInput 是在临界区内截取的一份评估上下文。
type evalInput struct {
	now      time.Time
	price    float64
	live     indicator.Snapshot
	closed   indicator.Snapshot
	prevHigh float64
	prevLow  float64
	bars     market.Candles
}

// OnTick 处理一次 tick；只有评估周期上的 tick 会触发评估。调用方需保证按到达顺序串行调用。
func (e *Engine) OnTick(ctx context.Context, t market.Tick) {
	e.mu.Lock()
	e.status.LastPrice = t.Price
	e.status.LastTickAt = t.ReceivedAt
	e.mu.Unlock()
	if t.Interval != e.p.EvalInterval {
		return
	}
	e.Evaluate(ctx, t.Price)
}

// Evaluate 执行一次完整评估：冷却 -> 市场状态 -> 候选 -> 风控 -> (oracle) -> 下单。
func (e *Engine) Evaluate(ctx context.Context, price float64) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	defer e.setPhase(PhaseIdle)

	e.setPhase(PhaseCooldownCheck)
	now := e.nowFn()
	if ok, remain := e.cooldown.Allow(now); !ok {
		logger.Debugf("[engine] cooldown %s remaining", remain.Round(time.Second))
		return
	}

	e.setPhase(PhaseRegimeCheck)
	in, ok := e.snapshot(now, price)
	if !ok {
		return
	}
	regime := ClassifyRegime(in.closed, e.p.RangeWidthThreshold)
	e.mu.Lock()
	e.status.Evaluations++
	e.status.Regime = regime
	e.status.Live = in.live
	e.status.Closed = in.closed
	e.mu.Unlock()

	cand, found := e.findCandidate(regime, in)
	if !found {
		return
	}
	e.setPhase(PhaseCandidateFound)
	e.mu.Lock()
	e.status.Candidates++
	e.mu.Unlock()
	logger.Infof("[engine] candidate %s %s price=%.4f: %s", cand.regime, cand.side, price, cand.reason)

	e.setPhase(PhaseRiskCheck)
	if v := e.risk.Check(ctx, e.p.Symbol); !v.Allowed {
		logger.Infof("[engine] risk gate skip: %s", v.Reason)
		metrics.DecisionsTotal.WithLabelValues(string(cand.source), "risk_skip").Inc()
		return
	}

	traceID := e.traceFn()
	var d decision.Decision
	if cand.source == decision.SourceAI {
		var proceed bool
		d, proceed = e.consultOracle(ctx, traceID, cand, in)
		if !proceed {
			return
		}
	} else {
		d = e.ruleDecision(cand, in)
	}

	if d.Approved {
		e.setPhase(PhaseApproved)
		metrics.DecisionsTotal.WithLabelValues(string(d.Source), "approved").Inc()
	} else {
		e.setPhase(PhaseRejected)
		metrics.DecisionsTotal.WithLabelValues(string(d.Source), "rejected").Inc()
	}
	e.record(ctx, decision.FromDecision(traceID, now, e.p.Symbol, price, d))
	if !d.Approved {
		return
	}
	e.dispatch(ctx, traceID, d, price)
}

// snapshot 在临界区内截取指标与前一根已收盘 K 线。
func (e *Engine) snapshot(now time.Time, price float64) (evalInput, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Ready() {
		logger.Debugf("[engine] indicator window not ready")
		return evalInput{}, false
	}
	closed, _ := e.state.Closed()
	live, err := e.state.Live(price)
	if err != nil {
		logger.Warnf("[engine] live indicator failed: %v", err)
		return evalInput{}, false
	}
	last, _ := e.state.LastClosed()
	return evalInput{
		now:      now,
		price:    price,
		live:     live,
		closed:   closed,
		prevHigh: last.High,
		prevLow:  last.Low,
		bars:     e.state.Bars(e.p.OracleBars),
	}, true
}

func (e *Engine) findCandidate(regime Regime, in evalInput) (candidate, bool) {
	switch regime {
	case RegimeRange:
		lower := in.live.Lower
		ceiling := lower * (1 + e.p.LowerBandProximityPct)
		if lower > 0 && in.price >= lower && in.price <= ceiling && in.live.Momentum > e.p.RSINeutral {
			return candidate{
				side:   executor.SideLong,
				source: decision.SourceRule,
				regime: regime,
				reason: fmt.Sprintf("price %.4f within %.2f%% above lower band %.4f, rsi %.2f > %.0f",
					in.price, e.p.LowerBandProximityPct*100, lower, in.live.Momentum, e.p.RSINeutral),
			}, true
		}
	case RegimeTrending:
		margin := e.p.BreakoutMarginPct
		if in.prevHigh > 0 && in.price > in.prevHigh*(1+margin) {
			overbought := in.live.Momentum > e.p.RSIOverbought
			aboveBand := in.live.Upper > 0 && in.price > in.live.Upper*(1+margin)
			if overbought || aboveBand {
				return candidate{
					side:   executor.SideLong,
					source: decision.SourceAI,
					regime: regime,
					reason: fmt.Sprintf("breakout above prev high %.4f, rsi %.2f, upper %.4f",
						in.prevHigh, in.live.Momentum, in.live.Upper),
				}, true
			}
		}
		if e.p.EnableShort && in.prevLow > 0 && in.price < in.prevLow*(1-margin) {
			oversold := in.live.Momentum < e.p.RSIOversold
			belowBand := in.live.Lower > 0 && in.price < in.live.Lower*(1-margin)
			if oversold || belowBand {
				return candidate{
					side:   executor.SideShort,
					source: decision.SourceAI,
					regime: regime,
					reason: fmt.Sprintf("breakdown below prev low %.4f, rsi %.2f, lower %.4f",
						in.prevLow, in.live.Momentum, in.live.Lower),
				}, true
			}
		}
	}
	return candidate{}, false
}

func (e *Engine) ruleDecision(cand candidate, in evalInput) decision.Decision {
	return decision.Decision{
		Source:      decision.SourceRule,
		Strategy:    e.p.Name,
		Side:        cand.side,
		Approved:    true,
		Explanation: cand.reason,
		Context:     e.decisionContext(cand, in),
	}
}

// consultOracle 限频调用 oracle，调用期间释放状态锁；返回后重新检查冷却与风控。
// proceed=false 表示因限频跳过，不产生记录。
func (e *Engine) consultOracle(ctx context.Context, traceID string, cand candidate, in evalInput) (decision.Decision, bool) {
	e.mu.Lock()
	if !e.lastAIRequestAt.IsZero() && in.now.Sub(e.lastAIRequestAt) < e.p.OracleMinSpacing {
		e.mu.Unlock()
		logger.Debugf("[engine] oracle spacing, skip candidate")
		return decision.Decision{}, false
	}
	e.lastAIRequestAt = in.now
	e.mu.Unlock()

	e.setPhase(PhaseOracleCheck)
	d := decision.Decision{
		Source:   decision.SourceAI,
		Strategy: e.p.Name,
		Side:     cand.side,
		Context:  e.decisionContext(cand, in),
	}
	verdict, err := e.oracle.Evaluate(ctx, ai.Snapshot{
		Symbol:    e.p.Symbol,
		Interval:  e.p.Interval.Name,
		Direction: cand.side,
		Regime:    string(cand.regime),
		Price:     in.price,
		PrevHigh:  in.prevHigh,
		PrevLow:   in.prevLow,
		Live:      in.live,
		Closed:    in.closed,
		Bars:      in.bars,
		At:        in.now,
		Thresholds: map[string]float64{
			"rsi_overbought": e.p.RSIOverbought,
			"rsi_oversold":   e.p.RSIOversold,
			"breakout_pct":   e.p.BreakoutMarginPct,
		},
	})
	d.Model = verdict.Model
	if err != nil {
		metrics.OracleCalls.WithLabelValues(oracleResult(err)).Inc()
		logger.Warnf("[engine] oracle failed, candidate rejected: %v", err)
		d.Explanation = fmt.Sprintf("oracle failure: %v", err)
		return d, true
	}
	metrics.OracleCalls.WithLabelValues("ok").Inc()
	d.Confidence = decision.Float(verdict.Confidence)
	d.Context["oracle_action"] = verdict.Action
	d.Context["oracle_threshold"] = e.p.AIConfidenceThreshold
	if !verdict.Approves(e.p.AIConfidenceThreshold) {
		d.Explanation = fmt.Sprintf("oracle %s confidence %.2f (threshold %.2f): %s",
			verdict.Action, verdict.Confidence, e.p.AIConfidenceThreshold, verdict.Reason)
		return d, true
	}

	// oracle 延迟期间状态可能变化，下单前重新检查
	if ok, remain := e.cooldown.Allow(e.nowFn()); !ok {
		d.Explanation = fmt.Sprintf("approved by oracle but cooldown started during consultation (%s left)", remain.Round(time.Second))
		return d, true
	}
	if v := e.risk.Check(ctx, e.p.Symbol); !v.Allowed {
		d.Explanation = fmt.Sprintf("approved by oracle but risk re-check failed: %s", v.Reason)
		return d, true
	}
	d.Approved = true
	d.Explanation = fmt.Sprintf("oracle enter confidence %.2f >= %.2f: %s",
		verdict.Confidence, e.p.AIConfidenceThreshold, verdict.Reason)
	return d, true
}

func oracleResult(err error) string {
	switch {
	case errors.Is(err, ai.ErrOracleTimeout):
		return "timeout"
	case errors.Is(err, ai.ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, ai.ErrUnparseable):
		return "unparseable"
	default:
		return "error"
	}
}

func (e *Engine) decisionContext(cand candidate, in evalInput) map[string]any {
	return map[string]any{
		"regime":    string(cand.regime),
		"reason":    cand.reason,
		"prev_high": in.prevHigh,
		"prev_low":  in.prevLow,
		"live":      in.live.Map(),
		"closed":    in.closed.Map(),
	}
}

// dispatch 下单并写执行记录。只有交易所确认接受后才更新 lastTradeAt。
func (e *Engine) dispatch(ctx context.Context, traceID string, d decision.Decision, price float64) {
	res, err := e.dispatcher.Dispatch(ctx, executor.Request{Side: d.Side, EntryPrice: price})
	rec := decision.Record{
		TraceID:       traceID,
		Timestamp:     e.nowFn(),
		Stage:         decision.StageExecution,
		Strategy:      d.Strategy,
		Source:        d.Source,
		Model:         d.Model,
		Symbol:        e.p.Symbol,
		Side:          d.Side,
		Price:         price,
		Confidence:    d.Confidence,
		Input:         res.Order.Map(),
		ClientOrderID: res.Order.ClientOID,
	}
	if err != nil {
		logger.Errorf("[engine] dispatch failed trace=%s: %v", traceID, err)
		rec.Explanation = fmt.Sprintf("dispatch failed: %v", err)
		e.record(ctx, rec)
		return
	}
	e.cooldown.MarkTrade(rec.Timestamp)
	rec.Approved = true
	rec.OrderID = res.OrderID
	if res.OrderID == "" {
		logger.Warnf("[engine] order accepted without order id trace=%s oid=%s", traceID, res.Order.ClientOID)
		rec.Explanation = "order accepted: order id unknown"
		rec.Output = map[string]any{"client_oid": res.Order.ClientOID}
	} else {
		rec.Explanation = fmt.Sprintf("order accepted: %s", res.OrderID)
		rec.Output = map[string]any{"order_id": res.OrderID}
	}
	e.mu.Lock()
	e.status.Orders++
	e.mu.Unlock()
	e.record(ctx, rec)
}

func (e *Engine) record(ctx context.Context, rec decision.Record) {
	e.mu.Lock()
	last := rec
	e.status.LastDecision = &last
	e.mu.Unlock()
	if err := e.recorder.Record(ctx, rec); err != nil {
		logger.Warnf("[recorder] %s/%s: %v", rec.TraceID, rec.Stage, err)
	}
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}
