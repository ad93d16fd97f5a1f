package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"weexagent/internal/logger"
)

// OpenAIChatClient：兼容 OpenAI / DeepSeek / Qwen 的聊天补全接口（/v1/chat/completions）。
type OpenAIChatClient struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// 简易重试（用于 429/5xx）：若为 0 则默认重试 2 次，负数表示不重试
	MaxRetries   int
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

func (c *OpenAIChatClient) endpoint() string {
	url := strings.TrimSpace(c.BaseURL)
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimRight(url, "/")
	// 用户可能把完整的 /chat/completions 写进了配置
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) retries() int {
	switch {
	case c.MaxRetries < 0:
		return 0
	case c.MaxRetries == 0:
		return 2
	default:
		return c.MaxRetries
	}
}

func (c *OpenAIChatClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Complete 发送一次聊天补全请求，返回第一个 choice 的文本。ctx 取消会立即中断请求与重试等待。
func (c *OpenAIChatClient) Complete(ctx context.Context, payload ChatPayload) (string, error) {
	url := c.endpoint()
	messages := make([]chatMessage, 0, 2)
	if payload.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: payload.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: payload.User})
	body := chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   payload.MaxTokens,
	}
	if payload.ExpectJSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	logger.Debugf("[AI] 请求: POST %s, headers=%v, body=%d bytes", url, c.maskedHeaders(), len(b))

	httpc := c.httpClient()
	maxRetries := c.retries()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		for k, v := range c.ExtraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			return "", err
		}
		if resp.StatusCode/100 == 2 {
			var r struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
			}
			derr := json.NewDecoder(resp.Body).Decode(&r)
			resp.Body.Close()
			if derr != nil {
				return "", fmt.Errorf("decode chat response: %w", derr)
			}
			if len(r.Choices) == 0 {
				return "", fmt.Errorf("empty choices")
			}
			return r.Choices[0].Message.Content, nil
		}
		// 非 2xx：尝试解析错误消息
		var eresp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		resp.Body.Close()
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		if !retryable(resp.StatusCode) || attempt >= maxRetries {
			break
		}
		wait := retryAfter(resp.Header.Get("Retry-After"), attempt)
		logger.Warnf("[AI] %s，%s 后重试 (%d/%d)", lastErr, wait, attempt+1, maxRetries)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", lastErr
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter 优先使用 Retry-After 秒数，否则指数退避：0.8s, 1.6s, 3.2s ... 封顶 8s。
func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	wait := (800 * time.Millisecond) << attempt
	if wait > 8*time.Second {
		wait = 8 * time.Second
	}
	return wait
}

func (c *OpenAIChatClient) maskedHeaders() map[string]string {
	hlog := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		hlog["Authorization"] = "Bearer " + mask(c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = mask(v)
		}
		hlog[k] = v
	}
	return hlog
}

func mask(v string) string {
	if len(v) > 4 {
		return "****" + v[len(v)-4:]
	}
	return "****"
}

// OpenAIModelProvider 实现 ModelProvider。
type OpenAIModelProvider struct {
	id     string
	client *OpenAIChatClient
}

func NewOpenAIModelProvider(id string, client *OpenAIChatClient) *OpenAIModelProvider {
	return &OpenAIModelProvider{id: id, client: client}
}

func (p *OpenAIModelProvider) ID() string    { return p.id }
func (p *OpenAIModelProvider) Model() string { return p.client.Model }
func (p *OpenAIModelProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	return p.client.Complete(ctx, payload)
}
