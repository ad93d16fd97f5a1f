package weex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"weexagent/internal/logger"
)

const maxErrorBody = 512

// APIError 表示交易所拒绝了请求（HTTP 非 2xx 或业务码非成功），原样返回给调用方。
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("weex api error: status=%d code=%s msg=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("weex api error: status=%d msg=%s", e.Status, e.Message)
}

type ClientConfig struct {
	BaseURL string
	Creds   Credentials
	Locale  string
	Timeout time.Duration
}

// Client 是签名 REST 客户端，只负责传输、签名与响应形状归一化。
type Client struct {
	baseURL string
	creds   Credentials
	locale  string
	http    *http.Client
	nowFn   func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	locale := cfg.Locale
	if locale == "" {
		locale = "en-US"
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		creds:   cfg.Creds,
		locale:  locale,
		http:    &http.Client{Timeout: timeout},
		nowFn:   time.Now,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	query := ""
	if len(params) > 0 {
		query = "?" + params.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
	}
	ts := timestampMillis(c.nowFn())
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+query, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerKey, c.creds.APIKey)
	req.Header.Set(headerSign, Sign(c.creds.SecretKey, RESTPrehash(ts, method, path, query, string(payload))))
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerPassphrase, c.creds.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", c.locale)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		logger.Warnf("[weex] %s %s status=%d body=%s", method, path, resp.StatusCode, truncate(string(raw)))
		return nil, newAPIError(resp.StatusCode, raw)
	}
	if apiErr := businessError(resp.StatusCode, raw); apiErr != nil {
		return nil, apiErr
	}
	return raw, nil
}

// truncate 按字符截断，避免切开多字节字符。
func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxErrorBody {
		return s
	}
	return string(r[:maxErrorBody]) + "..."
}
