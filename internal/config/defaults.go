package config

import (
	"strings"

	"weexagent/internal/market"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultWeexREST          = "https://api-contract.weex.com"
	defaultWeexWS            = "wss://ws-contract.weex.com/v2/ws/public"
	defaultWeexWSPath        = "/v2/ws/public"
	defaultWeexTimeout       = 15
	defaultWeexMachineID     = 1
	defaultWeexLocale        = "en-US"
	defaultStreamSymbol      = "cmt_btcusdt"
	defaultStreamPriceField  = "LAST_PRICE"
	defaultStreamReconnect   = 5
	defaultStreamPing        = 15
	defaultStreamHandshake   = 10
	defaultStreamTickBuffer  = 1024
	defaultStrategyName      = "bb_rsi_regime"
	defaultStrategyInterval  = "MINUTE_5"
	defaultHistoryLimit      = 100
	defaultRSIPeriod         = 14
	defaultRSINeutral        = 40
	defaultRSIOverbought     = 70
	defaultRSIOversold       = 30
	defaultBBLength          = 20
	defaultBBStd             = 2.0
	defaultRangeWidth        = 0.05
	defaultLowerBandPct      = 0.005
	defaultBreakoutPct       = 0.001
	defaultCooldownSeconds   = 2 * 60 * 60
	defaultOracleSpacing     = 20
	defaultAIThreshold       = 0.6
	defaultOracleBars        = 30
	defaultSettleMin         = 2
	defaultSettleMax         = 10
	defaultRefreshSpacing    = 60
	defaultRefreshFallback   = 15 * 60
	defaultOrderSize         = "0.01"
	defaultOrderMatchMode    = "market"
	defaultOrderMarginMode   = 1
	defaultTakeProfitPct     = 0.02
	defaultStopLossPct       = 0.015
	defaultPricePlaces       = 1
	defaultMaxOpenOrders     = 1
	defaultMaxOpenPositions  = 1
	defaultAIProvider        = "openai"
	defaultAITimeout         = 15
	defaultAIBreakerFailures = 3
	defaultAIBreakerCooldown = 120
	defaultDecisionDBPath    = "data/decisions.db"
	defaultNotifyQueue       = 16
)

var defaultStreamIntervals = []string{"MINUTE_1", "MINUTE_5"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Weex.applyDefaults(keys)
	c.Stream.applyDefaults(keys)
	c.Strategy.applyDefaults(keys, c.Stream.Intervals)
	c.Order.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (w *WeexConfig) applyDefaults(keys keySet) {
	if w == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("weex.rest_base_url", &w.RESTBaseURL, defaultWeexREST),
		stringFieldDefault("weex.ws_url", &w.WSURL, defaultWeexWS),
		stringFieldDefault("weex.ws_request_path", &w.WSRequestPath, defaultWeexWSPath),
		stringFieldDefault("weex.locale", &w.Locale, defaultWeexLocale),
		intFieldDefault("weex.http_timeout_seconds", &w.HTTPTimeoutSeconds, defaultWeexTimeout),
		intFieldDefault("weex.machine_id", &w.MachineID, defaultWeexMachineID),
	)
	w.APIKey = strings.TrimSpace(w.APIKey)
	w.SecretKey = strings.TrimSpace(w.SecretKey)
	w.Passphrase = strings.TrimSpace(w.Passphrase)
}

func (s *StreamConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("stream.symbol", &s.Symbol, defaultStreamSymbol),
		stringFieldDefault("stream.price_field", &s.PriceField, defaultStreamPriceField),
		intFieldDefault("stream.reconnect_delay_seconds", &s.ReconnectDelaySeconds, defaultStreamReconnect),
		intFieldDefault("stream.ping_interval_seconds", &s.PingIntervalSeconds, defaultStreamPing),
		intFieldDefault("stream.handshake_timeout_seconds", &s.HandshakeTimeoutSeconds, defaultStreamHandshake),
		intFieldDefault("stream.tick_buffer", &s.TickBuffer, defaultStreamTickBuffer),
	)
	if len(s.Intervals) == 0 {
		s.Intervals = append([]string(nil), defaultStreamIntervals...)
	}
	s.Intervals = normalizeIntervals(s.Intervals)
	if s.ReadTimeoutSeconds <= 0 {
		s.ReadTimeoutSeconds = 3 * s.PingIntervalSeconds
	}
}

func (s *StrategyConfig) applyDefaults(keys keySet, subscribed []string) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.name", &s.Name, defaultStrategyName),
		stringFieldDefault("strategy.interval", &s.Interval, defaultStrategyInterval),
		intFieldDefault("strategy.history_limit", &s.HistoryLimit, defaultHistoryLimit),
		intFieldDefault("strategy.rsi_period", &s.RSIPeriod, defaultRSIPeriod),
		floatFieldDefault("strategy.rsi_neutral", &s.RSINeutral, defaultRSINeutral),
		floatFieldDefault("strategy.rsi_overbought", &s.RSIOverbought, defaultRSIOverbought),
		floatFieldDefault("strategy.rsi_oversold", &s.RSIOversold, defaultRSIOversold),
		intFieldDefault("strategy.bb_length", &s.BBLength, defaultBBLength),
		floatFieldDefault("strategy.bb_std", &s.BBStdDev, defaultBBStd),
		floatFieldDefault("strategy.range_width_threshold", &s.RangeWidthThreshold, defaultRangeWidth),
		floatFieldDefault("strategy.lower_band_proximity_pct", &s.LowerBandProximityPct, defaultLowerBandPct),
		floatFieldDefault("strategy.breakout_margin_pct", &s.BreakoutMarginPct, defaultBreakoutPct),
		intFieldDefault("strategy.cooldown_seconds", &s.CooldownSeconds, defaultCooldownSeconds),
		intFieldDefault("strategy.oracle_min_spacing_seconds", &s.OracleMinSpacingSeconds, defaultOracleSpacing),
		floatFieldDefault("strategy.ai_confidence_threshold", &s.AIConfidenceThreshold, defaultAIThreshold),
		intFieldDefault("strategy.oracle_bars", &s.OracleBars, defaultOracleBars),
		intFieldDefault("strategy.refresh_settle_min_seconds", &s.RefreshSettleMinSeconds, defaultSettleMin),
		intFieldDefault("strategy.refresh_settle_max_seconds", &s.RefreshSettleMaxSeconds, defaultSettleMax),
		intFieldDefault("strategy.refresh_min_spacing_seconds", &s.RefreshMinSpacingSeconds, defaultRefreshSpacing),
		intFieldDefault("strategy.refresh_fallback_seconds", &s.RefreshFallbackSeconds, defaultRefreshFallback),
	)
	s.Interval = strings.ToUpper(strings.TrimSpace(s.Interval))
	s.EvalInterval = strings.ToUpper(strings.TrimSpace(s.EvalInterval))
	if s.EvalInterval == "" {
		if finest, ok := market.FinestInterval(subscribed); ok {
			s.EvalInterval = finest
		} else {
			s.EvalInterval = s.Interval
		}
	}
	// 历史窗口至少要覆盖指标周期
	minBars := s.BBLength + 1
	if s.RSIPeriod+1 > minBars {
		minBars = s.RSIPeriod + 1
	}
	if s.HistoryLimit < minBars {
		s.HistoryLimit = minBars
	}
}

func (o *OrderConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("order.size", &o.Size, defaultOrderSize),
		stringFieldDefault("order.match_mode", &o.MatchMode, defaultOrderMatchMode),
		intFieldDefault("order.margin_mode", &o.MarginMode, defaultOrderMarginMode),
		floatFieldDefault("order.take_profit_pct", &o.TakeProfitPct, defaultTakeProfitPct),
		floatFieldDefault("order.stop_loss_pct", &o.StopLossPct, defaultStopLossPct),
		fieldDefault{
			key:   "order.price_places",
			need:  func() bool { return o.PricePlaces <= 0 },
			apply: func() { o.PricePlaces = defaultPricePlaces },
		},
	)
	o.MatchMode = strings.ToLower(strings.TrimSpace(o.MatchMode))
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("risk.max_open_orders", &r.MaxOpenOrders, defaultMaxOpenOrders),
		intFieldDefault("risk.max_open_positions", &r.MaxOpenPositions, defaultMaxOpenPositions),
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ai.provider", &a.Provider, defaultAIProvider),
		intFieldDefault("ai.timeout_seconds", &a.TimeoutSeconds, defaultAITimeout),
		intFieldDefault("ai.breaker_threshold", &a.BreakerThreshold, defaultAIBreakerFailures),
		intFieldDefault("ai.breaker_cooldown_seconds", &a.BreakerCooldownSeconds, defaultAIBreakerCooldown),
		boolFieldDefault("ai.upload_logs", &a.UploadLogs, true),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.decision_db_path", &s.DecisionDBPath, defaultDecisionDBPath),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("notify.queue_size", &n.QueueSize, defaultNotifyQueue),
	)
	n.TelegramBotToken = strings.TrimSpace(n.TelegramBotToken)
	n.TelegramChatID = strings.TrimSpace(n.TelegramChatID)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeIntervals(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, iv := range in {
		iv = strings.ToUpper(strings.TrimSpace(iv))
		if iv == "" || seen[iv] {
			continue
		}
		seen[iv] = true
		out = append(out, iv)
	}
	return out
}
