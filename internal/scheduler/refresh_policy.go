package scheduler

import "time"

// Trigger 说明一次刷新为何被触发。
type Trigger string

const (
	TriggerNone     Trigger = ""
	TriggerStartup  Trigger = "startup"
	TriggerBoundary Trigger = "boundary"
	TriggerFallback Trigger = "fallback"
)

// RefreshPolicy decides when the closed-bar window must be refetched.
type RefreshPolicy struct {
	Interval   time.Duration
	SettleMin  time.Duration
	SettleMax  time.Duration
	MinSpacing time.Duration
	Fallback   time.Duration
}

// Due 在以下情况返回 true：
//   - 当前时间落在周期边界后的 [SettleMin, SettleMax] 窗口内，且距上次刷新不少于 MinSpacing；
//   - 距上次刷新超过 Fallback。
//
// lastRefresh 为零值表示尚未刷新过。
func (p RefreshPolicy) Due(now, lastRefresh time.Time) (bool, Trigger) {
	if lastRefresh.IsZero() {
		return true, TriggerStartup
	}
	since := now.Sub(lastRefresh)
	if p.Fallback > 0 && since > p.Fallback {
		return true, TriggerFallback
	}
	if p.Interval <= 0 {
		return false, TriggerNone
	}
	intoBar := now.Sub(now.Truncate(p.Interval))
	if intoBar < p.SettleMin || intoBar > p.SettleMax {
		return false, TriggerNone
	}
	if since < p.MinSpacing {
		return false, TriggerNone
	}
	return true, TriggerBoundary
}
