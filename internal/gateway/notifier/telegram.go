package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram 通知器：下单结果推送至指定群/频道。
type Telegram struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client
	Retries  int
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  defaultTelegramAPI,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Retries:  3,
	}
}

// SendText 发送文本消息（默认最多 3 次尝试）
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram 配置不完整")
	}
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	attempts := t.Retries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		// 4xx 重试无意义（除限流）
		if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
	}
	return lastErr
}
