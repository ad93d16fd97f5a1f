package config

import (
	"strings"
	"time"
)

// Config 是 weexagent 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Weex     WeexConfig     `toml:"weex"`
	Stream   StreamConfig   `toml:"stream"`
	Strategy StrategyConfig `toml:"strategy"`
	Order    OrderConfig    `toml:"order"`
	Risk     RiskConfig     `toml:"risk"`
	AI       AIConfig       `toml:"ai"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	HTTPAddr      string `toml:"http_addr"`
	LogPath       string `toml:"log_path"`
	OracleLogPath string `toml:"oracle_log_path"`
}

// WeexConfig 描述交易所 REST/WS 接入与凭证。凭证优先从环境变量读取。
type WeexConfig struct {
	RESTBaseURL        string `toml:"rest_base_url"`
	WSURL              string `toml:"ws_url"`
	WSRequestPath      string `toml:"ws_request_path"`
	APIKey             string `toml:"api_key"`
	SecretKey          string `toml:"secret_key"`
	Passphrase         string `toml:"passphrase"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	MachineID          int    `toml:"machine_id"`
	Locale             string `toml:"locale"`
}

func (w WeexConfig) HTTPTimeout() time.Duration {
	return time.Duration(w.HTTPTimeoutSeconds) * time.Second
}

// StreamConfig 控制行情订阅、心跳与重连。
type StreamConfig struct {
	Symbol                  string   `toml:"symbol"`
	Intervals               []string `toml:"intervals"`
	PriceField              string   `toml:"price_field"`
	ReconnectDelaySeconds   int      `toml:"reconnect_delay_seconds"`
	PingIntervalSeconds     int      `toml:"ping_interval_seconds"`
	HandshakeTimeoutSeconds int      `toml:"handshake_timeout_seconds"`
	ReadTimeoutSeconds      int      `toml:"read_timeout_seconds"`
	TickBuffer              int      `toml:"tick_buffer"`
}

func (s StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelaySeconds) * time.Second
}

func (s StreamConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalSeconds) * time.Second
}

func (s StreamConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutSeconds) * time.Second
}

func (s StreamConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// StrategyConfig 汇总指标参数、信号阈值与刷新节奏。
type StrategyConfig struct {
	Name                     string  `toml:"name"`
	Interval                 string  `toml:"interval"`
	EvalInterval             string  `toml:"eval_interval"`
	HistoryLimit             int     `toml:"history_limit"`
	RSIPeriod                int     `toml:"rsi_period"`
	RSINeutral               float64 `toml:"rsi_neutral"`
	RSIOverbought            float64 `toml:"rsi_overbought"`
	RSIOversold              float64 `toml:"rsi_oversold"`
	BBLength                 int     `toml:"bb_length"`
	BBStdDev                 float64 `toml:"bb_std"`
	RangeWidthThreshold      float64 `toml:"range_width_threshold"`
	LowerBandProximityPct    float64 `toml:"lower_band_proximity_pct"`
	BreakoutMarginPct        float64 `toml:"breakout_margin_pct"`
	CooldownSeconds          int     `toml:"cooldown_seconds"`
	OracleMinSpacingSeconds  int     `toml:"oracle_min_spacing_seconds"`
	AIConfidenceThreshold    float64 `toml:"ai_confidence_threshold"`
	OracleBars               int     `toml:"oracle_bars"`
	EnableShort              bool    `toml:"enable_short"`
	RefreshSettleMinSeconds  int     `toml:"refresh_settle_min_seconds"`
	RefreshSettleMaxSeconds  int     `toml:"refresh_settle_max_seconds"`
	RefreshMinSpacingSeconds int     `toml:"refresh_min_spacing_seconds"`
	RefreshFallbackSeconds   int     `toml:"refresh_fallback_seconds"`
}

func (s StrategyConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

func (s StrategyConfig) OracleMinSpacing() time.Duration {
	return time.Duration(s.OracleMinSpacingSeconds) * time.Second
}

// OrderConfig 对应下单参数：数量、撮合方式与止盈止损百分比。
type OrderConfig struct {
	Size          string  `toml:"size"`
	MatchMode     string  `toml:"match_mode"` // "market" | "limit"
	OrderType     int     `toml:"order_type"` // 0 普通 1 只做maker 2 FOK 3 IOC
	MarginMode    int     `toml:"margin_mode"`
	TakeProfitPct float64 `toml:"take_profit_pct"`
	StopLossPct   float64 `toml:"stop_loss_pct"`
	PricePlaces   int32   `toml:"price_places"`
}

// RiskConfig 是不可变的风控上限。
type RiskConfig struct {
	MaxOpenOrders    int `toml:"max_open_orders"`
	MaxOpenPositions int `toml:"max_open_positions"`
}

// AIConfig 描述置信度 oracle 的模型连接与熔断。
type AIConfig struct {
	Enabled                bool              `toml:"enabled"`
	Provider               string            `toml:"provider"`
	APIURL                 string            `toml:"api_url"`
	APIKey                 string            `toml:"api_key"`
	Model                  string            `toml:"model"`
	Headers                map[string]string `toml:"headers"`
	TimeoutSeconds         int               `toml:"timeout_seconds"`
	PromptPath             string            `toml:"prompt_path"`
	BreakerThreshold       int               `toml:"breaker_threshold"`
	BreakerCooldownSeconds int               `toml:"breaker_cooldown_seconds"`
	UploadLogs             bool              `toml:"upload_logs"`
}

func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

type StoreConfig struct {
	DecisionDBPath string `toml:"decision_db_path"`
}

// NotifyConfig 控制下单结果推送（Telegram）。
type NotifyConfig struct {
	Enabled          bool   `toml:"enabled"`
	TelegramBotToken string `toml:"telegram_bot_token"`
	TelegramChatID   string `toml:"telegram_chat_id"`
	TelegramAPIURL   string `toml:"telegram_api_url"`
	QueueSize        int    `toml:"queue_size"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
