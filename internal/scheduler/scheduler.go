package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"weexagent/internal/logger"
)

// EverySecond 是刷新检查的 cron 表达式（带秒字段）。
const EverySecond = "* * * * * *"

// RefreshScheduler runs a refresh check on a cron spec. Overlapping runs are
// skipped so a slow history fetch never stacks up behind itself.
type RefreshScheduler struct {
	Cron *cron.Cron
	spec string
	task func(context.Context)
}

func NewRefreshScheduler(spec string, task func(context.Context)) *RefreshScheduler {
	if spec == "" {
		spec = EverySecond
	}
	cl := cronLogger{}
	return &RefreshScheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec: spec,
		task: task,
	}
}

// Run registers the task and blocks until ctx is cancelled.
func (s *RefreshScheduler) Run(ctx context.Context) error {
	if s.task == nil {
		return fmt.Errorf("refresh scheduler: nil task")
	}
	if _, err := s.Cron.AddFunc(s.spec, func() { s.task(ctx) }); err != nil {
		return fmt.Errorf("register refresh job: %w", err)
	}
	s.Cron.Start()
	logger.Infof("[refresh] scheduler started spec=%q", s.spec)
	<-ctx.Done()
	stopped := s.Cron.Stop()
	<-stopped.Done()
	logger.Infof("[refresh] scheduler stopped")
	return ctx.Err()
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		logger.Debugf("[refresh] previous check still running, skipped")
		return
	}
	logger.Debugf("[cron] %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("[cron] %s: %v %v", msg, err, keysAndValues)
}
