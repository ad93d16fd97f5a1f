package weex

import (
	"context"
	"net/url"
)

const (
	pathCurrentOrders = "/capi/v2/order/current"
	pathAllPositions  = "/capi/v2/account/position/allPosition"
)

func (c *Client) OpenOrderCount(ctx context.Context, symbol string) (int, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := c.get(ctx, pathCurrentOrders, params)
	if err != nil {
		return 0, err
	}
	return countOpen(raw, symbol)
}

func (c *Client) OpenPositionCount(ctx context.Context, symbol string) (int, error) {
	raw, err := c.get(ctx, pathAllPositions, nil)
	if err != nil {
		return 0, err
	}
	return countOpen(raw, symbol)
}
