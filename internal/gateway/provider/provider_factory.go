package provider

import (
	"fmt"
	"strings"
	"time"

	"weexagent/internal/logger"
)

type ModelCfg struct {
	ID, Provider, APIURL, APIKey, Model string
	Headers                             map[string]string
}

// BuildProvider 根据配置构建模型提供方；目前只支持 OpenAI 兼容接口。
func BuildProvider(m ModelCfg, timeout time.Duration) (ModelProvider, error) {
	kind := strings.ToLower(strings.TrimSpace(m.Provider))
	switch kind {
	case "", "openai", "deepseek", "qwen":
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", m.Provider)
	}
	id := strings.TrimSpace(m.ID)
	if id == "" {
		base := kind
		if base == "" {
			base = "provider"
		}
		id = base
		if model := strings.TrimSpace(m.Model); model != "" {
			id = fmt.Sprintf("%s:%s", base, model)
		}
		logger.Debugf("[AI] 未配置模型 ID，已生成: %s", id)
	}
	client := &OpenAIChatClient{
		BaseURL:      m.APIURL,
		APIKey:       m.APIKey,
		Model:        m.Model,
		ExtraHeaders: m.Headers,
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return NewOpenAIModelProvider(id, client), nil
}
