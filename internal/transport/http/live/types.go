package livehttp

import (
	"context"

	"weexagent/internal/decision"
	"weexagent/internal/gateway/weex"
	"weexagent/internal/store/decisionlog"
	"weexagent/internal/strategy"
)

// DecisionLister 查询决策记录。
type DecisionLister interface {
	List(ctx context.Context, q decisionlog.Query) ([]decision.Record, error)
}

// EngineStatusProvider 返回策略引擎快照。
type EngineStatusProvider interface {
	Status() strategy.Status
}

// StreamStatsProvider 返回行情连接统计。
type StreamStatsProvider interface {
	Stats() weex.StreamStats
}
