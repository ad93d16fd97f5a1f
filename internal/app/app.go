package app

import (
	"context"
	"fmt"
	"time"

	"weexagent/internal/config"
	"weexagent/internal/gateway/notifier"
	"weexagent/internal/gateway/weex"
	"weexagent/internal/logger"
	"weexagent/internal/market"
	"weexagent/internal/metrics"
	"weexagent/internal/scheduler"
	"weexagent/internal/store/decisionlog"
	"weexagent/internal/strategy"
	livehttp "weexagent/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：行情流、评估循环、刷新调度与 HTTP 服务。
type App struct {
	cfg      *config.Config
	client   *weex.Client
	stream   *weex.Stream
	ticks    *market.TickQueue
	engine   *strategy.Engine
	refresh  *scheduler.RefreshScheduler
	logs     *decisionlog.Store
	liveHTTP *livehttp.Server
	trades   *notifier.TradeNotifier
	Summary  *StartupSummary

	// runCtx 在 Run 启动各协程前设置，行情回调用它做阻塞投递
	runCtx context.Context
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动所有长期任务，任一任务出错或 ctx 结束时返回。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.engine == nil || a.stream == nil {
		return fmt.Errorf("engine or stream not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.checkServerTime(ctx)

	parent := ctx
	group, ctx := errgroup.WithContext(ctx)
	a.runCtx = ctx

	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	if a.trades != nil {
		group.Go(func() error {
			return a.trades.Run(ctx)
		})
	}
	group.Go(func() error {
		return a.refresh.Run(ctx)
	})
	group.Go(func() error {
		return a.ticks.Run(ctx, a.engine.OnTick)
	})
	group.Go(func() error {
		return a.stream.Run(ctx)
	})

	err := group.Wait()
	if cerr := a.Close(); cerr != nil {
		logger.Warnf("close app: %v", cerr)
	}
	if err != nil && parent.Err() != nil {
		// 正常退出时 stream/queue 会返回 context.Canceled
		return nil
	}
	return err
}

// Close 释放持有的存储资源。
func (a *App) Close() error {
	if a == nil || a.logs == nil {
		return nil
	}
	return a.logs.Close()
}

// Engine exposes the strategy engine (for tests/replay harnesses).
func (a *App) Engine() *strategy.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// forwardTick 在行情接收协程中同步执行；队列满时阻塞，背压传回 websocket 读取。
func (a *App) forwardTick(t market.Tick) {
	metrics.TicksTotal.WithLabelValues(t.Interval).Inc()
	ctx := a.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.ticks.Push(ctx, t); err != nil {
		logger.Debugf("[ticks] drop tick on shutdown: %v", err)
		return
	}
	metrics.TickQueueDepth.Set(float64(a.ticks.Len()))
}

func (a *App) streamHooks() weex.StreamHooks {
	return weex.StreamHooks{
		OnConnect: func() {
			metrics.StreamConnected.Set(1)
		},
		OnDisconnect: func(error) {
			metrics.StreamConnected.Set(0)
			metrics.StreamReconnects.Inc()
		},
		OnMalformed: func(error) {
			metrics.MalformedMessages.Inc()
		},
	}
}

// checkServerTime 启动时检查 REST 连通性，失败只记录日志。
func (a *App) checkServerTime(ctx context.Context) {
	if a.client == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ts, err := a.client.ServerTime(pctx, a.cfg.Stream.Symbol)
	if err != nil {
		logger.Warnf("[app] weex server time check failed: %v", err)
		return
	}
	logger.Infof("[app] weex reachable, server time=%s skew=%s", ts.UTC().Format(time.RFC3339), time.Since(ts).Round(time.Millisecond))
}
