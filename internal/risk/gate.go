// Package risk 提供下单前的敞口上限检查与冷却检查。两者都是尽力而为的前置过滤，
// 与下单本身不具备原子性：并发评估或外部成交可能让敞口短暂多出一单。
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"weexagent/internal/logger"
)

// ExposureSource 查询当前挂单数与持仓数。
type ExposureSource interface {
	OpenOrderCount(ctx context.Context, symbol string) (int, error)
	OpenPositionCount(ctx context.Context, symbol string) (int, error)
}

// Limits 是不可变的风控上限。
type Limits struct {
	MaxOpenOrders    int
	MaxOpenPositions int
}

// Verdict 描述一次风控检查的结果。拒绝不是错误，只是跳过。
type Verdict struct {
	Allowed       bool   `json:"allowed"`
	OpenOrders    int    `json:"open_orders"`
	OpenPositions int    `json:"open_positions"`
	Reason        string `json:"reason,omitempty"`
}

type Gate struct {
	src    ExposureSource
	limits Limits
}

func NewGate(src ExposureSource, limits Limits) *Gate {
	return &Gate{src: src, limits: limits}
}

func (g *Gate) Limits() Limits {
	return g.limits
}

// Check 在挂单数或持仓数达到上限（>=）时拒绝；查询失败时同样拒绝。
func (g *Gate) Check(ctx context.Context, symbol string) Verdict {
	orders, err := g.src.OpenOrderCount(ctx, symbol)
	if err != nil {
		logger.Warnf("[risk] open orders query failed: %v", err)
		return Verdict{Reason: fmt.Sprintf("open orders query failed: %v", err)}
	}
	if orders >= g.limits.MaxOpenOrders {
		return Verdict{
			OpenOrders: orders,
			Reason:     fmt.Sprintf("open orders %d >= max %d", orders, g.limits.MaxOpenOrders),
		}
	}
	positions, err := g.src.OpenPositionCount(ctx, symbol)
	if err != nil {
		logger.Warnf("[risk] open positions query failed: %v", err)
		return Verdict{OpenOrders: orders, Reason: fmt.Sprintf("open positions query failed: %v", err)}
	}
	if positions >= g.limits.MaxOpenPositions {
		return Verdict{
			OpenOrders:    orders,
			OpenPositions: positions,
			Reason:        fmt.Sprintf("open positions %d >= max %d", positions, g.limits.MaxOpenPositions),
		}
	}
	return Verdict{Allowed: true, OpenOrders: orders, OpenPositions: positions}
}

// CooldownGuard 记录最近一次被交易所接受的下单时间。
type CooldownGuard struct {
	mu          sync.Mutex
	window      time.Duration
	lastTradeAt time.Time
}

func NewCooldownGuard(window time.Duration) *CooldownGuard {
	return &CooldownGuard{window: window}
}

// Allow 在 now-lastTradeAt < window 时拒绝，恰好等于 window 时放行。
func (c *CooldownGuard) Allow(now time.Time) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastTradeAt.IsZero() || c.window <= 0 {
		return true, 0
	}
	elapsed := now.Sub(c.lastTradeAt)
	if elapsed < c.window {
		return false, c.window - elapsed
	}
	return true, 0
}

// MarkTrade 只在交易所确认接受订单后调用。
func (c *CooldownGuard) MarkTrade(at time.Time) {
	c.mu.Lock()
	c.lastTradeAt = at
	c.mu.Unlock()
}

func (c *CooldownGuard) LastTradeAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTradeAt
}
