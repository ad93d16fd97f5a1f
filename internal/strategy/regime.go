package strategy

import "weexagent/internal/analysis/indicator"

// Regime 是市场状态分类。
type Regime string

const (
	RegimeUnknown  Regime = ""
	RegimeRange    Regime = "range"
	RegimeTrending Regime = "trending"
)

// ClassifyRegime 以最后一根已收盘 K 线的布林带宽度 (upper-lower)/mid 判断：
// 宽度严格小于阈值为震荡，否则为趋势。
func ClassifyRegime(closed indicator.Snapshot, threshold float64) Regime {
	if closed.Mid == 0 {
		return RegimeUnknown
	}
	if closed.Width() < threshold {
		return RegimeRange
	}
	return RegimeTrending
}
