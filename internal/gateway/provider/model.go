package provider

import "context"

// ChatPayload 是一次聊天补全请求的输入。
type ChatPayload struct {
	System     string
	User       string
	ExpectJSON bool
	MaxTokens  int
}

// ModelProvider 抽象一个可调用的聊天模型。
type ModelProvider interface {
	ID() string
	Model() string
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
