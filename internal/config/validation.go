package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"weexagent/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Weex.validate(); err != nil {
		return err
	}
	if err := c.Stream.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(c.Stream.Intervals); err != nil {
		return err
	}
	if err := c.Order.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (w *WeexConfig) validate() error {
	var missing []string
	if w.APIKey == "" {
		missing = append(missing, "WEEX_API_KEY")
	}
	if w.SecretKey == "" {
		missing = append(missing, "WEEX_SECRET_KEY")
	}
	if w.Passphrase == "" {
		missing = append(missing, "WEEX_PASSPHRASE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(w.WSURL, "ws://") && !strings.HasPrefix(w.WSURL, "wss://") {
		return fmt.Errorf("weex.ws_url must be a ws:// or wss:// url: %q", w.WSURL)
	}
	if !strings.HasPrefix(w.WSRequestPath, "/") {
		return fmt.Errorf("weex.ws_request_path must start with /")
	}
	if w.MachineID < 0 || w.MachineID > 99 {
		return fmt.Errorf("weex.machine_id must be within [0,99]")
	}
	return nil
}

func (s *StreamConfig) validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("stream.symbol cannot be empty")
	}
	if len(s.Intervals) == 0 {
		return fmt.Errorf("stream.intervals requires at least one interval")
	}
	for _, iv := range s.Intervals {
		if _, err := market.ParseInterval(iv); err != nil {
			return fmt.Errorf("stream.intervals: %w", err)
		}
	}
	if s.TickBuffer <= 0 {
		return fmt.Errorf("stream.tick_buffer must be > 0")
	}
	return nil
}

func (s *StrategyConfig) validate(subscribed []string) error {
	if _, err := market.ParseInterval(s.Interval); err != nil {
		return fmt.Errorf("strategy.interval: %w", err)
	}
	if _, err := market.ParseInterval(s.EvalInterval); err != nil {
		return fmt.Errorf("strategy.eval_interval: %w", err)
	}
	if !containsInterval(subscribed, s.Interval) {
		return fmt.Errorf("strategy.interval %s must be one of stream.intervals", s.Interval)
	}
	if !containsInterval(subscribed, s.EvalInterval) {
		return fmt.Errorf("strategy.eval_interval %s must be one of stream.intervals", s.EvalInterval)
	}
	if s.AIConfidenceThreshold > 1 {
		return fmt.Errorf("strategy.ai_confidence_threshold must be within (0,1]")
	}
	if s.RSIOverbought <= s.RSINeutral {
		return fmt.Errorf("strategy.rsi_overbought must be greater than rsi_neutral")
	}
	if s.RefreshSettleMaxSeconds <= s.RefreshSettleMinSeconds {
		return fmt.Errorf("strategy.refresh_settle_max_seconds must be greater than refresh_settle_min_seconds")
	}
	return nil
}

func (o *OrderConfig) validate() error {
	size, err := decimal.NewFromString(strings.TrimSpace(o.Size))
	if err != nil || !size.IsPositive() {
		return fmt.Errorf("order.size must be a positive decimal: %q", o.Size)
	}
	switch o.MatchMode {
	case "market", "limit":
	default:
		return fmt.Errorf("order.match_mode must be market or limit: %q", o.MatchMode)
	}
	if o.OrderType < 0 || o.OrderType > 3 {
		return fmt.Errorf("order.order_type must be within [0,3]")
	}
	if o.TakeProfitPct >= 1 || o.StopLossPct >= 1 {
		return fmt.Errorf("order.take_profit_pct/stop_loss_pct must be < 1")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxOpenOrders <= 0 || r.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk limits must be > 0")
	}
	return nil
}

func (a *AIConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("ai.model cannot be empty when ai.enabled")
	}
	if strings.TrimSpace(a.APIURL) == "" {
		return fmt.Errorf("ai.api_url cannot be empty when ai.enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Enabled {
		return nil
	}
	if n.TelegramBotToken == "" || n.TelegramChatID == "" {
		return fmt.Errorf("notify.enabled requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}
	return nil
}

func containsInterval(list []string, target string) bool {
	for _, iv := range list {
		if strings.EqualFold(iv, target) {
			return true
		}
	}
	return false
}
