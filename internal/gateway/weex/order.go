package weex

import (
	"context"
	"encoding/json"
	"fmt"

	"weexagent/internal/logger"
)

const (
	pathPlaceOrder  = "/capi/v2/order/placeOrder"
	pathUploadAILog = "/capi/v2/order/uploadAiLog"
)

// 下单方向（type 字段）
const (
	SideOpenLong   = 1
	SideOpenShort  = 2
	SideCloseLong  = 3
	SideCloseShort = 4
)

// 撮合方式（match_price 字段）
const (
	MatchLimit  = 0
	MatchMarket = 1
)

// PlaceOrderRequest 是 placeOrder 的请求体；数值字段按交易所要求以字符串传输。
type PlaceOrderRequest struct {
	Symbol           string `json:"symbol"`
	ClientOID        string `json:"client_oid"`
	Size             string `json:"size"`
	Type             string `json:"type"`
	OrderType        string `json:"order_type"`
	MatchPrice       string `json:"match_price"`
	Price            string `json:"price,omitempty"`
	PresetTakeProfit string `json:"presetTakeProfitPrice,omitempty"`
	PresetStopLoss   string `json:"presetStopLossPrice,omitempty"`
	MarginMode       int    `json:"marginMode,omitempty"`
}

type PlaceOrderResult struct {
	OrderID string
	Raw     json.RawMessage
}

// PlaceOrder 提交订单，不做任何重试。业务码成功但响应里找不到订单号时仍视为已下单，
// OrderID 为空，原始响应保留在 Raw 中。
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	raw, err := c.post(ctx, pathPlaceOrder, req)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	id, ok := orderID(raw)
	if !ok {
		logger.Warnf("[weex] order accepted but no order id in response oid=%s body=%s", req.ClientOID, truncate(string(raw)))
		return PlaceOrderResult{Raw: raw}, nil
	}
	return PlaceOrderResult{OrderID: id, Raw: raw}, nil
}

// AILog 对应 uploadAiLog 请求体。
type AILog struct {
	Stage       string         `json:"stage"`
	Model       string         `json:"model"`
	Input       map[string]any `json:"input"`
	Output      map[string]any `json:"output"`
	Explanation string         `json:"explanation"`
	OrderID     string         `json:"orderId,omitempty"`
}

func (c *Client) UploadAILog(ctx context.Context, entry AILog) error {
	if entry.Stage == "" || entry.Model == "" {
		return fmt.Errorf("ai log requires stage and model")
	}
	_, err := c.post(ctx, pathUploadAILog, entry)
	return err
}
