package market

import "time"

// Candle 是一根已收盘（或正在形成）的 K 线，时间为毫秒。
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

func (c Candle) OpenAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

type Candles []Candle

func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

func (cs Candles) Last() (Candle, bool) {
	if len(cs) == 0 {
		return Candle{}, false
	}
	return cs[len(cs)-1], true
}

// Tail 返回最后 n 根，n<=0 或超过长度时返回全部。
func (cs Candles) Tail(n int) Candles {
	if n <= 0 || n >= len(cs) {
		return cs
	}
	return cs[len(cs)-n:]
}

// Tick 是行情流推送的一次最新价。
type Tick struct {
	Symbol     string    `json:"symbol"`
	Interval   string    `json:"interval"`
	Price      float64   `json:"price"`
	ReceivedAt time.Time `json:"received_at"`
}
