package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"weexagent/internal/analysis/indicator"
	"weexagent/internal/market"
)

// 中文说明：
// 本文件定义置信度 oracle 的输入输出结构与错误类型，供策略引擎调用。

var (
	ErrOracleTimeout = errors.New("oracle timeout")
	ErrBreakerOpen   = errors.New("oracle circuit breaker open")
	ErrUnparseable   = errors.New("oracle reply unparseable")
)

const (
	ActionEnter = "enter"
	ActionSkip  = "skip"
)

// Snapshot 是提交给 oracle 的市场快照：候选方向、当前价、指标与最近若干根已收盘 K 线。
type Snapshot struct {
	Symbol     string
	Interval   string
	Direction  string // long | short
	Regime     string
	Price      float64
	PrevHigh   float64
	PrevLow    float64
	Live       indicator.Snapshot
	Closed     indicator.Snapshot
	Bars       market.Candles
	At         time.Time
	Thresholds map[string]float64
}

// Verdict 是 oracle 的结论。
type Verdict struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Model      string  `json:"model,omitempty"`
	Raw        string  `json:"-"`
}

// Approves 仅当动作为 enter 且置信度达到阈值时返回 true。
func (v Verdict) Approves(threshold float64) bool {
	return v.Action == ActionEnter && v.Confidence >= threshold
}

// Oracle evaluates a breakout candidate.
type Oracle interface {
	Evaluate(ctx context.Context, snap Snapshot) (Verdict, error)
}

// NormalizeAction 统一动作名称（大小写不敏感）。enter/open 直接视为 enter；
// 带方向的动作（long/buy/open_long，short/sell/open_short）只有与候选方向一致时才视为 enter，
// 其余一律 skip。
func NormalizeAction(a, direction string) string {
	dir := strings.ToLower(strings.TrimSpace(direction))
	switch strings.ToLower(strings.TrimSpace(a)) {
	case "enter", "open":
		return ActionEnter
	case "long", "buy", "open_long":
		if dir == "long" {
			return ActionEnter
		}
	case "short", "sell", "open_short":
		if dir == "short" {
			return ActionEnter
		}
	}
	return ActionSkip
}
