package app

import (
	"context"
	"fmt"
	"strings"

	"weexagent/internal/ai"
	"weexagent/internal/analysis/indicator"
	"weexagent/internal/config"
	"weexagent/internal/decision"
	"weexagent/internal/executor"
	"weexagent/internal/gateway/notifier"
	"weexagent/internal/gateway/provider"
	"weexagent/internal/gateway/weex"
	"weexagent/internal/logger"
	"weexagent/internal/market"
	"weexagent/internal/pkg/circuit"
	"weexagent/internal/pkg/clientoid"
	"weexagent/internal/risk"
	"weexagent/internal/scheduler"
	"weexagent/internal/store/decisionlog"
	"weexagent/internal/strategy"
	livehttp "weexagent/internal/transport/http/live"
)

type AppBuilder struct {
	cfg *config.Config

	oracleFn   func(config.AIConfig) (ai.Oracle, string, error)
	recorderFn func(*config.Config, *decisionlog.Store, *weex.Client, *notifier.TradeNotifier) decision.Recorder
	liveHTTPFn func(livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithOracle 替换 oracle 构造（测试用）。
func WithOracle(fn func(config.AIConfig) (ai.Oracle, string, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.oracleFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		oracleFn:   buildOracle,
		recorderFn: buildRecorder,
		liveHTTPFn: livehttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	interval, err := market.ParseInterval(cfg.Strategy.Interval)
	if err != nil {
		return nil, fmt.Errorf("strategy interval: %w", err)
	}
	creds := weex.Credentials{
		APIKey:     cfg.Weex.APIKey,
		SecretKey:  cfg.Weex.SecretKey,
		Passphrase: cfg.Weex.Passphrase,
	}
	client := weex.NewClient(weex.ClientConfig{
		BaseURL: cfg.Weex.RESTBaseURL,
		Creds:   creds,
		Locale:  cfg.Weex.Locale,
		Timeout: cfg.Weex.HTTPTimeout(),
	})

	logs, err := decisionlog.Open(cfg.Store.DecisionDBPath)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	oracle, oracleDesc, err := b.oracleFn(cfg.AI)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	dispatcher := executor.NewDispatcher(executor.Config{
		Symbol:        cfg.Stream.Symbol,
		Size:          cfg.Order.Size,
		MatchMode:     cfg.Order.MatchMode,
		OrderType:     cfg.Order.OrderType,
		MarginMode:    cfg.Order.MarginMode,
		TakeProfitPct: cfg.Order.TakeProfitPct,
		StopLossPct:   cfg.Order.StopLossPct,
		PricePlaces:   cfg.Order.PricePlaces,
	}, client, clientoid.NewGenerator(cfg.Weex.MachineID))

	var trades *notifier.TradeNotifier
	if cfg.Notify.Enabled {
		tg := notifier.NewTelegram(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID)
		if cfg.Notify.TelegramAPIURL != "" {
			tg.BaseURL = cfg.Notify.TelegramAPIURL
		}
		trades = notifier.NewTradeNotifier(tg, cfg.Notify.QueueSize)
	}

	calc := indicator.NewTalibCalculator(indicator.Params{
		RSIPeriod: cfg.Strategy.RSIPeriod,
		BBLength:  cfg.Strategy.BBLength,
		BBStdDev:  cfg.Strategy.BBStdDev,
	})
	gate := risk.NewGate(client, risk.Limits{
		MaxOpenOrders:    cfg.Risk.MaxOpenOrders,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
	})
	engine, err := strategy.NewEngine(engineParams(cfg, interval), strategy.Deps{
		Calculator: calc,
		History:    client,
		Risk:       gate,
		Cooldown:   risk.NewCooldownGuard(cfg.Strategy.Cooldown()),
		Oracle:     oracle,
		Dispatcher: dispatcher,
		Recorder:   b.recorderFn(cfg, logs, client, trades),
	})
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	app := &App{
		cfg:    cfg,
		client: client,
		ticks:  market.NewTickQueue(cfg.Stream.TickBuffer),
		engine: engine,
		logs:   logs,
		trades: trades,
	}
	app.stream = weex.NewStream(weex.StreamConfig{
		URL:              cfg.Weex.WSURL,
		RequestPath:      cfg.Weex.WSRequestPath,
		Creds:            creds,
		Symbol:           cfg.Stream.Symbol,
		PriceField:       cfg.Stream.PriceField,
		Intervals:        cfg.Stream.Intervals,
		ReconnectDelay:   cfg.Stream.ReconnectDelay(),
		PingInterval:     cfg.Stream.PingInterval(),
		HandshakeTimeout: cfg.Stream.HandshakeTimeout(),
		ReadTimeout:      cfg.Stream.ReadTimeout(),
	}, app.forwardTick, app.streamHooks())
	app.refresh = scheduler.NewRefreshScheduler(scheduler.EverySecond, engine.MaybeRefresh)

	if strings.TrimSpace(cfg.App.HTTPAddr) != "" {
		srv, err := b.liveHTTPFn(livehttp.ServerConfig{
			Addr:       cfg.App.HTTPAddr,
			Logs:       logs,
			Engine:     engine,
			Stream:     app.stream,
			LogPaths:   logPaths(cfg.App),
			StaleAfter: 2 * cfg.Stream.ReadTimeout(),
		})
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("live http: %w", err)
		}
		app.liveHTTP = srv
	}
	app.Summary = newStartupSummary(cfg, oracleDesc)
	return app, nil
}

func engineParams(cfg *config.Config, interval market.Interval) strategy.Params {
	s := cfg.Strategy
	return strategy.Params{
		Name:                  s.Name,
		Symbol:                cfg.Stream.Symbol,
		Interval:              interval,
		EvalInterval:          s.EvalInterval,
		HistoryLimit:          s.HistoryLimit,
		RSINeutral:            s.RSINeutral,
		RSIOverbought:         s.RSIOverbought,
		RSIOversold:           s.RSIOversold,
		RangeWidthThreshold:   s.RangeWidthThreshold,
		LowerBandProximityPct: s.LowerBandProximityPct,
		BreakoutMarginPct:     s.BreakoutMarginPct,
		OracleMinSpacing:      s.OracleMinSpacing(),
		AIConfidenceThreshold: s.AIConfidenceThreshold,
		OracleBars:            s.OracleBars,
		EnableShort:           s.EnableShort,
		Refresh: scheduler.RefreshPolicy{
			Interval:   interval.Duration,
			SettleMin:  seconds(s.RefreshSettleMinSeconds),
			SettleMax:  seconds(s.RefreshSettleMaxSeconds),
			MinSpacing: seconds(s.RefreshMinSpacingSeconds),
			Fallback:   seconds(s.RefreshFallbackSeconds),
		},
	}
}

// buildOracle 返回 oracle 以及用于启动摘要的描述。
func buildOracle(cfg config.AIConfig) (ai.Oracle, string, error) {
	if !cfg.Enabled {
		return ai.Disabled{}, "disabled", nil
	}
	p, err := provider.BuildProvider(provider.ModelCfg{
		Provider: cfg.Provider,
		APIURL:   cfg.APIURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Headers:  cfg.Headers,
	}, cfg.Timeout())
	if err != nil {
		return nil, "", fmt.Errorf("build ai provider: %w", err)
	}
	prompts, err := ai.NewPromptRegistry(cfg.PromptPath)
	if err != nil {
		return nil, "", fmt.Errorf("load oracle prompts: %w", err)
	}
	breaker := circuit.NewCircuitBreaker("oracle", cfg.BreakerThreshold, seconds(cfg.BreakerCooldownSeconds))
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("[oracle] breaker %s: %s -> %s", name, from, to)
	})
	return ai.NewLLMOracle(p, prompts, breaker, cfg.Timeout()), p.ID(), nil
}

// buildRecorder 本地 sqlite 总是写入；开启 upload_logs 时追加交易所上传，开启 notify 时追加推送。
func buildRecorder(cfg *config.Config, logs *decisionlog.Store, client *weex.Client, trades *notifier.TradeNotifier) decision.Recorder {
	sinks := decision.Fanout{logs}
	if cfg.AI.UploadLogs && client != nil {
		sinks = append(sinks, decision.NewRemoteUploader(client))
	}
	if trades != nil {
		sinks = append(sinks, trades)
	}
	return sinks
}

func logPaths(cfg config.AppConfig) map[string]string {
	out := map[string]string{}
	if p := strings.TrimSpace(cfg.LogPath); p != "" {
		out["app"] = p
	}
	if p := strings.TrimSpace(cfg.OracleLogPath); p != "" {
		out["oracle"] = p
	}
	return out
}
