package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"weexagent/internal/logger"
	"weexagent/internal/metrics"

	"github.com/gin-gonic/gin"
)

// Server 提供 /healthz、/metrics 与 /api/live 查询接口。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 live HTTP 服务依赖。
type ServerConfig struct {
	Addr     string
	Logs     DecisionLister
	Engine   EngineStatusProvider
	Stream   StreamStatsProvider
	LogPaths map[string]string

	// StaleAfter 超过该时长未收到 tick 时 /healthz 返回 503；0 表示不检查
	StaleAfter time.Duration
}

// NewServer 构建 live HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Logs == nil && cfg.Engine == nil && cfg.Stream == nil {
		return nil, errors.New("live http server requires at least one data source")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	if cfg.LogPaths == nil {
		cfg.LogPaths = map[string]string{}
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", healthHandler(cfg.Stream, cfg.StaleAfter))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	liveRouter := NewRouter(cfg.Logs, cfg.Engine, cfg.Stream, cfg.LogPaths)
	liveRouter.Register(router.Group("/api/live"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

func healthHandler(stream StreamStatsProvider, staleAfter time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if stream == nil || staleAfter <= 0 {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		st := stream.Stats()
		if st.LastTickAt.IsZero() || time.Since(st.LastTickAt) > staleAfter {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "stale",
				"last_tick_at": st.LastTickAt,
				"last_error":   st.LastError,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "last_tick_at": st.LastTickAt})
	}
}

// requestLogger 记录接口调用，便于追踪。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("[http] %s %s status=%d ip=%s dur=%s", method, fullPath, c.Writer.Status(), client, time.Since(start))
	}
}

// Handler 暴露路由，便于测试。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
