package notifier

import (
	"context"
	"fmt"
	"time"

	"weexagent/internal/decision"
	"weexagent/internal/logger"
)

// TradeNotifier 是一个 decision.Recorder：只关注 execution 记录，异步推送下单结果。
// 队列满时丢弃消息，不阻塞评估路径。
type TradeNotifier struct {
	text  TextNotifier
	queue chan StructuredMessage
}

func NewTradeNotifier(text TextNotifier, buffer int) *TradeNotifier {
	if buffer <= 0 {
		buffer = 16
	}
	return &TradeNotifier{text: text, queue: make(chan StructuredMessage, buffer)}
}

func (n *TradeNotifier) Record(_ context.Context, rec decision.Record) error {
	if rec.Stage != decision.StageExecution {
		return nil
	}
	select {
	case n.queue <- TradeMessage(rec):
	default:
		logger.Warnf("[notify] queue full, drop trace=%s", rec.TraceID)
	}
	return nil
}

// Run 逐条发送，直到 ctx 结束。
func (n *TradeNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.queue:
			if err := n.text.SendText(ctx, msg.RenderMarkdown()); err != nil {
				logger.Warnf("[notify] send failed: %v", err)
			}
		}
	}
}

// TradeMessage 把一条 execution 记录渲染为推送消息。
func TradeMessage(rec decision.Record) StructuredMessage {
	icon, title := "✅", "下单成功"
	if !rec.Approved {
		icon, title = "⚠️", "下单失败"
	}
	order := []string{
		fmt.Sprintf("合约: %s", rec.Symbol),
		fmt.Sprintf("方向: %s", rec.Side),
		fmt.Sprintf("价格: %.4f", rec.Price),
	}
	if rec.OrderID != "" {
		order = append(order, "订单号: "+rec.OrderID)
	}
	if rec.ClientOrderID != "" {
		order = append(order, "client_oid: "+rec.ClientOrderID)
	}
	if tp, ok := rec.Input["take_profit"]; ok {
		order = append(order, fmt.Sprintf("止盈: %v", tp))
	}
	if sl, ok := rec.Input["stop_loss"]; ok {
		order = append(order, fmt.Sprintf("止损: %v", sl))
	}
	source := []string{
		fmt.Sprintf("策略: %s (%s)", rec.Strategy, rec.Source),
	}
	if rec.Confidence != nil {
		source = append(source, fmt.Sprintf("置信度: %.2f", *rec.Confidence))
	}
	if rec.Model != "" {
		source = append(source, "模型: "+rec.Model)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return StructuredMessage{
		Icon:  icon,
		Title: title,
		Sections: []MessageSection{
			{Title: "订单", Lines: order},
			{Title: "来源", Lines: source},
		},
		Footer:    rec.Explanation,
		Timestamp: ts,
	}
}
