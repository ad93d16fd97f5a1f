package weex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"weexagent/internal/market"
)

const (
	pathHistoryCandles = "/capi/v2/market/historyCandles"
	pathServerTime     = "/capi/v2/market/time"
	maxHistoryLimit    = 1000
)

// FetchHistory 拉取历史 K 线，返回按时间升序的窗口（可能包含正在形成的最后一根）。
func (c *Client) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	iv, err := market.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("granularity", iv.Granularity)
	params.Set("limit", strconv.Itoa(limit))
	raw, err := c.get(ctx, pathHistoryCandles, params)
	if err != nil {
		return nil, err
	}
	return parseCandles(raw)
}

// ServerTime 用于启动时的连通性检查。
func (c *Client) ServerTime(ctx context.Context, symbol string) (time.Time, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	raw, err := c.get(ctx, pathServerTime, params)
	if err != nil {
		return time.Time{}, err
	}
	root := gjson.ParseBytes(raw)
	ts := firstResult(root, "timestamp", "data.timestamp", "data", "serverTime")
	if ms := ts.Int(); ms > 0 {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unexpected server time response: %s", truncate(string(raw)))
}
