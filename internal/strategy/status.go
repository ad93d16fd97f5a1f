package strategy

import (
	"time"

	"weexagent/internal/analysis/indicator"
	"weexagent/internal/decision"
	"weexagent/internal/scheduler"
)

// Status 是引擎的只读快照，供 HTTP 接口展示。
type Status struct {
	Strategy        string             `json:"strategy"`
	Symbol          string             `json:"symbol"`
	Interval        string             `json:"interval"`
	Phase           Phase              `json:"phase"`
	Ready           bool               `json:"ready"`
	Regime          Regime             `json:"regime"`
	LastPrice       float64            `json:"last_price"`
	LastTickAt      time.Time          `json:"last_tick_at"`
	Live            indicator.Snapshot `json:"live"`
	Closed          indicator.Snapshot `json:"closed"`
	PrevHigh        float64            `json:"prev_high"`
	PrevLow         float64            `json:"prev_low"`
	LastRefresh     time.Time          `json:"last_refresh"`
	LastTrigger     scheduler.Trigger  `json:"last_trigger"`
	LastTradeAt     time.Time          `json:"last_trade_at"`
	LastAIRequestAt time.Time          `json:"last_ai_request_at"`
	Evaluations     int64              `json:"evaluations"`
	Candidates      int64              `json:"candidates"`
	Orders          int64              `json:"orders"`
	Refreshes       int64              `json:"refreshes"`
	LastDecision    *decision.Record   `json:"last_decision,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	st.Strategy = e.p.Name
	st.Symbol = e.p.Symbol
	st.Interval = e.p.Interval.Name
	st.Phase = e.phase
	st.Ready = e.state.Ready()
	if last, ok := e.state.LastClosed(); ok {
		st.PrevHigh = last.High
		st.PrevLow = last.Low
	}
	st.LastRefresh = e.lastRefresh
	st.LastTrigger = e.lastTrigger
	st.LastAIRequestAt = e.lastAIRequestAt
	st.LastTradeAt = e.cooldown.LastTradeAt()
	if st.LastDecision != nil {
		cp := *st.LastDecision
		st.LastDecision = &cp
	}
	return st
}
