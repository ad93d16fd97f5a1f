package app

import (
	"fmt"
	"strings"

	"weexagent/internal/config"
	"weexagent/internal/logger"
)

// StartupSummary 汇总启动时生效的关键参数，打印到日志。
type StartupSummary struct {
	Symbol       string
	Intervals    []string
	Strategy     string
	BarInterval  string
	EvalInterval string
	Thresholds   []string
	Order        string
	Risk         string
	Oracle       string
	HTTPAddr     string
}

func newStartupSummary(cfg *config.Config, oracle string) *StartupSummary {
	s := cfg.Strategy
	return &StartupSummary{
		Symbol:       cfg.Stream.Symbol,
		Intervals:    cfg.Stream.Intervals,
		Strategy:     s.Name,
		BarInterval:  s.Interval,
		EvalInterval: s.EvalInterval,
		Thresholds: []string{
			fmt.Sprintf("rsi=%d neutral=%.0f overbought=%.0f oversold=%.0f", s.RSIPeriod, s.RSINeutral, s.RSIOverbought, s.RSIOversold),
			fmt.Sprintf("bb=%d/%.1f range_width<%.4f", s.BBLength, s.BBStdDev, s.RangeWidthThreshold),
			fmt.Sprintf("lower_band_pct=%.4f breakout_pct=%.4f", s.LowerBandProximityPct, s.BreakoutMarginPct),
			fmt.Sprintf("cooldown=%s oracle_spacing=%s ai_threshold=%.2f", s.Cooldown(), s.OracleMinSpacing(), s.AIConfidenceThreshold),
		},
		Order: fmt.Sprintf("size=%s match=%s tp=%.2f%% sl=%.2f%% short=%v",
			cfg.Order.Size, cfg.Order.MatchMode, cfg.Order.TakeProfitPct*100, cfg.Order.StopLossPct*100, s.EnableShort),
		Risk:     fmt.Sprintf("max_open_orders=%d max_open_positions=%d", cfg.Risk.MaxOpenOrders, cfg.Risk.MaxOpenPositions),
		Oracle:   oracle,
		HTTPAddr: cfg.App.HTTPAddr,
	}
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	b.WriteString("启动配置摘要 (STARTUP SUMMARY)\n")
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "[行情] 合约: %s  订阅周期: %s\n", s.Symbol, formatList(s.Intervals))
	fmt.Fprintf(&b, "[策略] %s  K线周期: %s  评估周期: %s\n", s.Strategy, s.BarInterval, s.EvalInterval)
	for _, line := range s.Thresholds {
		fmt.Fprintf(&b, "  - %s\n", line)
	}
	fmt.Fprintf(&b, "[下单] %s\n", s.Order)
	fmt.Fprintf(&b, "[风控] %s\n", s.Risk)
	fmt.Fprintf(&b, "[Oracle] %s\n", s.Oracle)
	fmt.Fprintf(&b, "[HTTP] %s\n", formatList([]string{s.HTTPAddr}))
	b.WriteString(strings.Repeat("=", 80))
	return b.String()
}

func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func formatList(items []string) string {
	var out []string
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}
