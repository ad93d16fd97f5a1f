// Package decision 定义策略评估结果与审计记录，以及记录器接口。
package decision

import (
	"context"
	"errors"
	"time"
)

// Source 标识决策来源：纯规则或经 AI 置信度确认。
type Source string

const (
	SourceRule Source = "RULE"
	SourceAI   Source = "AI"
)

// Stage 区分同一 trace 下的信号记录与执行记录。
type Stage string

const (
	StageSignal    Stage = "signal"
	StageExecution Stage = "execution"
)

// Decision 是一次评估的结论，创建后不再修改。
type Decision struct {
	Source      Source         `json:"source"`
	Strategy    string         `json:"strategy"`
	Side        string         `json:"side"`
	Approved    bool           `json:"approved"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Model       string         `json:"model,omitempty"`
	Explanation string         `json:"explanation"`
	Context     map[string]any `json:"context,omitempty"`
}

// Record 是写入审计轨迹的一行。
type Record struct {
	TraceID       string         `json:"trace_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Stage         Stage          `json:"stage"`
	Strategy      string         `json:"strategy"`
	Source        Source         `json:"source"`
	Model         string         `json:"model,omitempty"`
	Symbol        string         `json:"symbol"`
	Side          string         `json:"side,omitempty"`
	Price         float64        `json:"price"`
	Approved      bool           `json:"approved"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Explanation   string         `json:"explanation"`
	OrderID       string         `json:"order_id,omitempty"`
	ClientOrderID string         `json:"client_order_id,omitempty"`
}

// Recorder persists decision records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Fanout 依次写入所有记录器，单个失败不影响其它记录器。
type Fanout []Recorder

func (f Fanout) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range f {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Noop struct{}

func (Noop) Record(context.Context, Record) error { return nil }

// FromDecision 以 signal 阶段构造记录。
func FromDecision(traceID string, at time.Time, symbol string, price float64, d Decision) Record {
	return Record{
		TraceID:     traceID,
		Timestamp:   at,
		Stage:       StageSignal,
		Strategy:    d.Strategy,
		Source:      d.Source,
		Model:       d.Model,
		Symbol:      symbol,
		Side:        d.Side,
		Price:       price,
		Approved:    d.Approved,
		Confidence:  d.Confidence,
		Input:       d.Context,
		Explanation: d.Explanation,
	}
}

func Float(v float64) *float64 {
	return &v
}
