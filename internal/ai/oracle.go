package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"weexagent/internal/gateway/provider"
	"weexagent/internal/logger"
	"weexagent/internal/pkg/circuit"
	"weexagent/internal/pkg/jsonutil"
)

// LLMOracle 通过 OpenAI 兼容模型评估突破候选；每次调用都有超时上限，连续失败后熔断。
type LLMOracle struct {
	provider provider.ModelProvider
	prompts  *PromptRegistry
	breaker  *circuit.CircuitBreaker
	timeout  time.Duration
	promptID string
}

func NewLLMOracle(p provider.ModelProvider, prompts *PromptRegistry, breaker *circuit.CircuitBreaker, timeout time.Duration) *LLMOracle {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LLMOracle{
		provider: p,
		prompts:  prompts,
		breaker:  breaker,
		timeout:  timeout,
		promptID: BreakoutPromptID,
	}
}

// Evaluate 渲染提示词、调用模型并解析回复。失败不会在本次评估内重试。
func (o *LLMOracle) Evaluate(ctx context.Context, snap Snapshot) (Verdict, error) {
	if o.provider == nil || o.prompts == nil {
		return Verdict{}, fmt.Errorf("oracle not configured")
	}
	model := o.provider.Model()
	tpl, ok := o.prompts.Prompt(o.promptID)
	if !ok {
		return Verdict{Model: model}, fmt.Errorf("prompt %q not loaded", o.promptID)
	}
	user, err := tpl.Render(snap)
	if err != nil {
		return Verdict{Model: model}, err
	}
	if o.breaker != nil && !o.breaker.Allow() {
		return Verdict{Model: model}, ErrBreakerOpen
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	logger.LogOracleRequest(model, o.promptID, tpl.System, user)
	start := time.Now()
	raw, err := o.provider.Call(cctx, provider.ChatPayload{
		System:     tpl.System,
		User:       user,
		ExpectJSON: true,
		MaxTokens:  400,
	})
	if err != nil {
		o.recordFailure()
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Verdict{Model: model}, fmt.Errorf("%w after %s: %v", ErrOracleTimeout, o.timeout, err)
		}
		return Verdict{Model: model}, fmt.Errorf("oracle call: %w", err)
	}
	logger.LogOracleResponse(model, o.promptID, raw)

	verdict, err := parseVerdict(raw, tpl, snap.Direction)
	verdict.Model = model
	if err != nil {
		o.recordFailure()
		return verdict, err
	}
	if o.breaker != nil {
		o.breaker.RecordSuccess()
	}
	logger.Infof("[oracle] %s %s action=%s confidence=%.2f (%s)",
		snap.Direction, model, verdict.Action, verdict.Confidence, time.Since(start).Round(time.Millisecond))
	return verdict, nil
}

func (o *LLMOracle) recordFailure() {
	if o.breaker != nil {
		o.breaker.RecordFailure()
	}
}

// parseVerdict 从模型输出中提取 JSON 对象，按模板 schema 校验后转为 Verdict。
func parseVerdict(raw string, tpl PromptTemplate, direction string) (Verdict, error) {
	obj, ok := jsonutil.ExtractObject(raw)
	if !ok {
		return Verdict{Raw: raw}, fmt.Errorf("%w: no json object in reply %q", ErrUnparseable, snippet(raw))
	}
	var reply map[string]any
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return Verdict{Raw: raw}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	root := gjson.Parse(obj)
	action := root.Get("action")
	if !action.Exists() {
		action = root.Get("decision")
	}
	reply["action"] = NormalizeAction(action.String(), direction)
	if err := tpl.Validate(reply); err != nil {
		return Verdict{Raw: raw}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	conf := root.Get("confidence")
	if !conf.Exists() {
		return Verdict{Raw: raw}, fmt.Errorf("%w: missing confidence", ErrUnparseable)
	}
	// gjson 会把 "0.8" 这样的字符串数字也转成 float
	confidence := conf.Float()
	if confidence < 0 || confidence > 1 {
		return Verdict{Raw: raw}, fmt.Errorf("%w: confidence %v out of range", ErrUnparseable, conf.Raw)
	}
	return Verdict{
		Action:     reply["action"].(string),
		Confidence: confidence,
		Reason:     strings.TrimSpace(firstNonEmpty(root.Get("reason").String(), root.Get("reasoning").String())),
		Raw:        raw,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) > 160 {
		return string(r[:160]) + "..."
	}
	return s
}

// Disabled 在未启用 AI 时使用：所有候选都以 skip 拒绝。
type Disabled struct{}

func (Disabled) Evaluate(context.Context, Snapshot) (Verdict, error) {
	return Verdict{Action: ActionSkip, Reason: "oracle disabled"}, nil
}
