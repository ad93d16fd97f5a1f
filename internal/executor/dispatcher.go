// Package executor 把已批准的决策转换为交易所订单：生成幂等 client_oid、计算止盈止损、提交且不重试。
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"weexagent/internal/gateway/weex"
	"weexagent/internal/logger"
	"weexagent/internal/metrics"
)

var (
	ErrLimitPriceRequired = errors.New("limit order requires a price")
	ErrInvalidSize        = errors.New("order size must be a positive decimal")
	ErrInvalidSide        = errors.New("order side must be long or short")
)

const (
	SideLong  = "long"
	SideShort = "short"

	MatchMarket = "market"
	MatchLimit  = "limit"
)

// OrderGateway 提交订单；实现方不得重试。
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req weex.PlaceOrderRequest) (weex.PlaceOrderResult, error)
}

// KeyGenerator 生成幂等 key。
type KeyGenerator interface {
	Next() string
}

type Config struct {
	Symbol        string
	Size          string
	MatchMode     string
	OrderType     int
	MarginMode    int
	TakeProfitPct float64
	StopLossPct   float64
	PricePlaces   int32
}

// Request 是一次下单意图。Price 仅限价单需要；EntryPrice 用于计算止盈止损。
type Request struct {
	Side       string
	EntryPrice float64
	Price      float64
	MatchMode  string
	Size       string
}

// Order 是提交给交易所的不可变订单描述。
type Order struct {
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price,omitempty"`
	MatchMode  string          `json:"match_mode"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	ClientOID  string          `json:"client_oid"`
}

func (o Order) Map() map[string]any {
	m := map[string]any{
		"side":        o.Side,
		"size":        o.Size.String(),
		"match_mode":  o.MatchMode,
		"take_profit": o.TakeProfit.String(),
		"stop_loss":   o.StopLoss.String(),
		"client_oid":  o.ClientOID,
	}
	if o.MatchMode == MatchLimit {
		m["price"] = o.Price.String()
	}
	return m
}

type Result struct {
	Order   Order
	OrderID string
	Raw     json.RawMessage
}

type Dispatcher struct {
	cfg     Config
	gateway OrderGateway
	keys    KeyGenerator
}

func NewDispatcher(cfg Config, gateway OrderGateway, keys KeyGenerator) *Dispatcher {
	if cfg.MatchMode == "" {
		cfg.MatchMode = MatchMarket
	}
	return &Dispatcher{cfg: cfg, gateway: gateway, keys: keys}
}

// Build 校验请求并构造订单，不访问网络。
func (d *Dispatcher) Build(req Request) (Order, error) {
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side != SideLong && side != SideShort {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidSide, req.Side)
	}
	sizeText := strings.TrimSpace(req.Size)
	if sizeText == "" {
		sizeText = d.cfg.Size
	}
	size, err := decimal.NewFromString(sizeText)
	if err != nil || !size.IsPositive() {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidSize, sizeText)
	}
	mode := strings.ToLower(strings.TrimSpace(req.MatchMode))
	if mode == "" {
		mode = d.cfg.MatchMode
	}
	order := Order{Side: side, Size: size, MatchMode: mode}
	switch mode {
	case MatchMarket:
	case MatchLimit:
		if req.Price <= 0 {
			return Order{}, ErrLimitPriceRequired
		}
		order.Price = decimal.NewFromFloat(req.Price).Round(d.cfg.PricePlaces)
	default:
		return Order{}, fmt.Errorf("unsupported match mode %q", mode)
	}
	entry := req.EntryPrice
	if entry <= 0 {
		entry = req.Price
	}
	if entry > 0 {
		order.TakeProfit, order.StopLoss = Bracket(side, decimal.NewFromFloat(entry), d.cfg.TakeProfitPct, d.cfg.StopLossPct, d.cfg.PricePlaces)
	}
	return order, nil
}

// Dispatch 构造订单并提交。校验失败不会访问交易所；交易所拒绝原样返回，不重试。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	order, err := d.Build(req)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(strings.ToLower(req.Side), "invalid").Inc()
		return Result{}, err
	}
	order.ClientOID = d.keys.Next()
	body := weex.PlaceOrderRequest{
		Symbol:     d.cfg.Symbol,
		ClientOID:  order.ClientOID,
		Size:       order.Size.String(),
		Type:       strconv.Itoa(openSideCode(order.Side)),
		OrderType:  strconv.Itoa(d.cfg.OrderType),
		MatchPrice: strconv.Itoa(weex.MatchMarket),
		MarginMode: d.cfg.MarginMode,
	}
	if order.MatchMode == MatchLimit {
		body.MatchPrice = strconv.Itoa(weex.MatchLimit)
		body.Price = order.Price.String()
	}
	if !order.TakeProfit.IsZero() {
		body.PresetTakeProfit = order.TakeProfit.String()
	}
	if !order.StopLoss.IsZero() {
		body.PresetStopLoss = order.StopLoss.String()
	}
	logger.Infof("[dispatch] %s %s size=%s mode=%s tp=%s sl=%s oid=%s",
		d.cfg.Symbol, order.Side, body.Size, order.MatchMode, body.PresetTakeProfit, body.PresetStopLoss, order.ClientOID)

	res, err := d.gateway.PlaceOrder(ctx, body)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(order.Side, "rejected").Inc()
		logger.Warnf("[dispatch] order rejected oid=%s: %v", order.ClientOID, err)
		return Result{Order: order, Raw: res.Raw}, err
	}
	metrics.OrdersTotal.WithLabelValues(order.Side, "accepted").Inc()
	logger.Infof("[dispatch] order accepted oid=%s order_id=%s", order.ClientOID, res.OrderID)
	return Result{Order: order, OrderID: res.OrderID, Raw: res.Raw}, nil
}

// Bracket 计算止盈止损：多单 entry*(1+tp) / entry*(1-sl)，空单镜像。pct<=0 时对应价格为 0。
func Bracket(side string, entry decimal.Decimal, tpPct, slPct float64, places int32) (takeProfit, stopLoss decimal.Decimal) {
	one := decimal.NewFromInt(1)
	tp := decimal.NewFromFloat(tpPct)
	sl := decimal.NewFromFloat(slPct)
	if side == SideShort {
		tp = tp.Neg()
		sl = sl.Neg()
	}
	if tpPct > 0 {
		takeProfit = entry.Mul(one.Add(tp)).Round(places)
	}
	if slPct > 0 {
		stopLoss = entry.Mul(one.Sub(sl)).Round(places)
	}
	return takeProfit, stopLoss
}

func openSideCode(side string) int {
	if side == SideShort {
		return weex.SideOpenShort
	}
	return weex.SideOpenLong
}
