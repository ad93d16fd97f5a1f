package decision

import (
	"context"
	"fmt"

	"weexagent/internal/gateway/weex"
)

// AILogClient is the subset of the exchange client used to upload logs.
type AILogClient interface {
	UploadAILog(ctx context.Context, entry weex.AILog) error
}

const ruleModel = "rule-engine"

// RemoteUploader 把记录转成交易所 uploadAiLog 格式上传。
type RemoteUploader struct {
	client AILogClient
}

func NewRemoteUploader(client AILogClient) *RemoteUploader {
	return &RemoteUploader{client: client}
}

func (u *RemoteUploader) Record(ctx context.Context, rec Record) error {
	if err := u.client.UploadAILog(ctx, toAILog(rec)); err != nil {
		return fmt.Errorf("upload ai log %s/%s: %w", rec.TraceID, rec.Stage, err)
	}
	return nil
}

func toAILog(rec Record) weex.AILog {
	stage := "Signal Generation"
	if rec.Stage == StageExecution {
		stage = "Order Execution"
	}
	model := rec.Model
	if model == "" {
		model = ruleModel
	}
	input := map[string]any{
		"trace_id": rec.TraceID,
		"strategy": rec.Strategy,
		"source":   string(rec.Source),
		"symbol":   rec.Symbol,
		"price":    rec.Price,
	}
	for k, v := range rec.Input {
		input[k] = v
	}
	output := map[string]any{"approved": rec.Approved}
	if rec.Side != "" {
		output["side"] = rec.Side
	}
	if rec.Confidence != nil {
		output["confidence"] = *rec.Confidence
	}
	for k, v := range rec.Output {
		output[k] = v
	}
	return weex.AILog{
		Stage:       stage,
		Model:       model,
		Input:       input,
		Output:      output,
		Explanation: rec.Explanation,
		OrderID:     rec.OrderID,
	}
}
