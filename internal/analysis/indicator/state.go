package indicator

import (
	"fmt"
	"time"

	"weexagent/internal/market"
)

// State 持有最近一批已收盘 K 线及其缓存指标，并能按当前 tick 价格合成一根“假设收盘”的 K 线重新计算。
// 非并发安全，由调用方串行访问。
type State struct {
	calc   Calculator
	limit  int
	bars   market.Candles
	closes []float64
	closed Snapshot

	refreshedAt time.Time
}

func NewState(calc Calculator, limit int) *State {
	return &State{calc: calc, limit: limit}
}

// Replace 用新的已收盘窗口替换当前窗口并重算收盘快照。失败时保留旧窗口。
func (s *State) Replace(closed []market.Candle, at time.Time) error {
	if len(closed) == 0 {
		return fmt.Errorf("%w: empty window", ErrInsufficientBars)
	}
	bars := market.Candles(closed).Tail(s.limit)
	closes := bars.Closes()
	snap, err := s.calc.Compute(closes)
	if err != nil {
		return err
	}
	s.bars = append(market.Candles(nil), bars...)
	s.closes = closes
	s.closed = snap
	s.refreshedAt = at
	return nil
}

func (s *State) Ready() bool {
	return len(s.bars) > 0
}

// Closed 返回最后一根已收盘 K 线的缓存快照。
func (s *State) Closed() (Snapshot, bool) {
	return s.closed, s.Ready()
}

// Live 计算“当前价格即为收盘价”时的快照：已收盘序列末尾追加 price。
func (s *State) Live(price float64) (Snapshot, error) {
	if !s.Ready() {
		return Snapshot{}, ErrInsufficientBars
	}
	series := make([]float64, len(s.closes)+1)
	copy(series, s.closes)
	series[len(s.closes)] = price
	return s.calc.Compute(series)
}

// LastClosed 返回最后一根已收盘 K 线，供 prevHigh/prevLow 使用。
func (s *State) LastClosed() (market.Candle, bool) {
	return s.bars.Last()
}

// Bars 返回最近 n 根已收盘 K 线的副本。
func (s *State) Bars(n int) []market.Candle {
	tail := s.bars.Tail(n)
	return append([]market.Candle(nil), tail...)
}

func (s *State) RefreshedAt() time.Time {
	return s.refreshedAt
}
