// Package metrics 暴露 prometheus 指标，所有组件直接使用包级变量。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "weexagent_stream_reconnects_total", Help: "Websocket reconnect attempts"},
	)
	StreamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "weexagent_stream_connected", Help: "1 while the websocket session is subscribed"},
	)
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weexagent_ticks_total", Help: "Market ticks received"},
		[]string{"interval"},
	)
	MalformedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "weexagent_malformed_messages_total", Help: "Dropped malformed stream messages"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weexagent_decisions_total", Help: "Evaluated candidates by source and outcome"},
		[]string{"source", "outcome"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weexagent_orders_total", Help: "Orders dispatched by side and result"},
		[]string{"side", "result"},
	)
	OracleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weexagent_oracle_calls_total", Help: "Oracle consultations by result"},
		[]string{"result"},
	)
	IndicatorRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weexagent_indicator_refresh_total", Help: "Indicator window refreshes by trigger"},
		[]string{"trigger"},
	)
	TickQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "weexagent_tick_queue_depth", Help: "Ticks waiting for evaluation"},
	)
)

func init() {
	prometheus.MustRegister(
		StreamReconnects,
		StreamConnected,
		TicksTotal,
		MalformedMessages,
		DecisionsTotal,
		OrdersTotal,
		OracleCalls,
		IndicatorRefresh,
		TickQueueDepth,
	)
}

// Handler 返回默认注册表的抓取入口。
func Handler() http.Handler {
	return promhttp.Handler()
}
