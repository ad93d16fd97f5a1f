package strategy

import (
	"context"
	"fmt"
	"time"

	"weexagent/internal/logger"
	"weexagent/internal/market"
	"weexagent/internal/metrics"
	"weexagent/internal/scheduler"
)

// MaybeRefresh 由定时器每秒调用，按 RefreshPolicy 判断是否需要重新拉取历史窗口。
// 失败后至少间隔 refreshRetryDelay 再重试。
func (e *Engine) MaybeRefresh(ctx context.Context) {
	now := e.nowFn()
	e.mu.Lock()
	last, failedAt := e.lastRefresh, e.lastRefreshFail
	e.mu.Unlock()
	if !failedAt.IsZero() && now.Sub(failedAt) < refreshRetryDelay {
		return
	}
	due, trigger := e.p.Refresh.Due(now, last)
	if !due {
		return
	}
	if err := e.Refresh(ctx, trigger); err != nil {
		logger.Warnf("[refresh] %s refresh failed: %v", trigger, err)
	}
}

// Refresh 拉取历史 K 线（在锁外进行），剔除正在形成的最后一根后替换指标窗口。
func (e *Engine) Refresh(ctx context.Context, trigger scheduler.Trigger) error {
	candles, err := e.history.FetchHistory(ctx, e.p.Symbol, e.p.Interval.Name, e.p.HistoryLimit+1)
	now := e.nowFn()
	if err != nil {
		e.markRefreshFailure(now)
		return fmt.Errorf("fetch history: %w", err)
	}
	closed := market.ClosedCandles(candles, e.p.Interval.Duration, now)

	e.mu.Lock()
	err = e.state.Replace(closed, now)
	if err == nil {
		e.lastRefresh = now
		e.lastRefreshFail = time.Time{}
		e.lastTrigger = trigger
		e.status.Refreshes++
	} else {
		e.lastRefreshFail = now
	}
	snap, _ := e.state.Closed()
	last, _ := e.state.LastClosed()
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("replace window: %w", err)
	}

	metrics.IndicatorRefresh.WithLabelValues(string(trigger)).Inc()
	logger.Infof("[refresh] %s: %d bars (%d fetched), last closed %s close=%.4f rsi=%.2f width=%.4f",
		trigger, len(closed), len(candles), last.OpenAt().Format(time.RFC3339), last.Close, snap.Momentum, snap.Width())
	return nil
}

func (e *Engine) markRefreshFailure(at time.Time) {
	e.mu.Lock()
	e.lastRefreshFail = at
	e.mu.Unlock()
}
