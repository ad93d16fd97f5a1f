package weex

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"weexagent/internal/market"
)

// 交易所响应的已知形状：
//
//	[...]                      裸数组
//	{"data": [...]}            data 为数组
//	{"data": {"list": [...]}}  data 内嵌 list
//
// listItems 把三者统一为元素序列；其它形状返回 false。
func listItems(raw []byte) ([]gjson.Result, bool) {
	if !gjson.ValidBytes(raw) {
		return nil, false
	}
	root := gjson.ParseBytes(raw)
	switch {
	case root.IsArray():
		return root.Array(), true
	case root.Get("data").IsArray():
		return root.Get("data").Array(), true
	case root.Get("data.list").IsArray():
		return root.Get("data.list").Array(), true
	}
	return nil, false
}

var successCodes = map[string]bool{"": true, "0": true, "00000": true, "200": true}

func businessError(status int, raw []byte) *APIError {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil
	}
	code := root.Get("code")
	if !code.Exists() || successCodes[code.String()] {
		return nil
	}
	return &APIError{
		Status:  status,
		Code:    code.String(),
		Message: firstString(root, "msg", "message"),
		Body:    truncate(string(raw)),
	}
}

func newAPIError(status int, raw []byte) *APIError {
	e := &APIError{Status: status, Body: truncate(string(raw))}
	if gjson.ValidBytes(raw) {
		root := gjson.ParseBytes(raw)
		e.Code = root.Get("code").String()
		e.Message = firstString(root, "msg", "message")
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(e.Body)
	}
	return e
}

// parseCandles 归一化 K 线数组。元素可以是 [ts, open, high, low, close, volume, ...]
// 或带字段名的对象；结果按开盘时间升序，去重。
func parseCandles(raw []byte) ([]market.Candle, error) {
	items, ok := listItems(raw)
	if !ok {
		return nil, fmt.Errorf("unexpected candles response: %s", truncate(string(raw)))
	}
	out := make([]market.Candle, 0, len(items))
	for _, it := range items {
		c, ok := parseCandle(it)
		if !ok {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	dedup := out[:0]
	for i, c := range out {
		if i > 0 && c.OpenTime == dedup[len(dedup)-1].OpenTime {
			dedup[len(dedup)-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup, nil
}

func parseCandle(it gjson.Result) (market.Candle, bool) {
	var c market.Candle
	if it.IsArray() {
		f := it.Array()
		if len(f) < 5 {
			return c, false
		}
		c.OpenTime = f[0].Int()
		c.Open = num(f[1])
		c.High = num(f[2])
		c.Low = num(f[3])
		c.Close = num(f[4])
		if len(f) > 5 {
			c.Volume = num(f[5])
		}
	} else if it.IsObject() {
		c.OpenTime = firstResult(it, "time", "ts", "openTime", "open_time").Int()
		c.Open = num(firstResult(it, "open", "o"))
		c.High = num(firstResult(it, "high", "h"))
		c.Low = num(firstResult(it, "low", "l"))
		c.Close = num(firstResult(it, "close", "c"))
		c.Volume = num(firstResult(it, "volume", "v", "baseVolume"))
	} else {
		return c, false
	}
	return c, c.OpenTime > 0 && c.Close > 0
}

// orderID 从 {"data":{"order_id"|"orderId"}} 或扁平 {"order_id"} 中取出订单号。
func orderID(raw []byte) (string, bool) {
	if !gjson.ValidBytes(raw) {
		return "", false
	}
	root := gjson.ParseBytes(raw)
	if data := root.Get("data"); data.IsObject() {
		if id := firstString(data, "order_id", "orderId"); id != "" {
			return id, true
		}
	}
	if id := firstString(root, "order_id", "orderId"); id != "" {
		return id, true
	}
	return "", false
}

// countOpen 统计属于 symbol 的条目；若条目带 size/hold 字段，仅统计非零者。
func countOpen(raw []byte, symbol string) (int, error) {
	items, ok := listItems(raw)
	if !ok {
		if gjson.ValidBytes(raw) && gjson.ParseBytes(raw).Get("data").Type == gjson.Null {
			return 0, nil
		}
		return 0, fmt.Errorf("unexpected list response: %s", truncate(string(raw)))
	}
	n := 0
	for _, it := range items {
		if sym := it.Get("symbol").String(); sym != "" && symbol != "" && !strings.EqualFold(sym, symbol) {
			continue
		}
		if size := firstResult(it, "size", "hold_amount", "holdAmount", "total"); size.Exists() && num(size) == 0 {
			continue
		}
		n++
	}
	return n, nil
}

func firstResult(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.String() != "" {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(r gjson.Result, keys ...string) string {
	return firstResult(r, keys...).String()
}

func num(r gjson.Result) float64 {
	if r.Type == gjson.Number {
		return r.Float()
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(r.String()), 64)
	if err != nil {
		return 0
	}
	return f
}
