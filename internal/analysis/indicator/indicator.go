package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

var ErrInsufficientBars = errors.New("insufficient bars for indicators")

// Params 描述 RSI 与布林带参数。
type Params struct {
	RSIPeriod int
	BBLength  int
	BBStdDev  float64
}

// MinBars 返回计算全部指标所需的最少收盘价数量。
func (p Params) MinBars() int {
	n := p.RSIPeriod + 1
	if p.BBLength > n {
		n = p.BBLength
	}
	return n
}

// Snapshot 是某一根（真实或合成的）K 线对应的指标值。
type Snapshot struct {
	Momentum float64 `json:"momentum"`
	Upper    float64 `json:"band_upper"`
	Mid      float64 `json:"band_mid"`
	Lower    float64 `json:"band_lower"`
}

// Width 返回 (upper-lower)/mid，mid 为 0 时返回 0。
func (s Snapshot) Width() float64 {
	if s.Mid == 0 {
		return 0
	}
	return (s.Upper - s.Lower) / s.Mid
}

func (s Snapshot) Map() map[string]any {
	return map[string]any{
		"momentum":   round4(s.Momentum),
		"band_upper": round4(s.Upper),
		"band_mid":   round4(s.Mid),
		"band_lower": round4(s.Lower),
		"band_width": round4(s.Width()),
	}
}

// Calculator computes the snapshot for the last element of a close series.
type Calculator interface {
	Compute(closes []float64) (Snapshot, error)
}

type TalibCalculator struct {
	Params Params
}

func NewTalibCalculator(p Params) TalibCalculator {
	return TalibCalculator{Params: p}
}

func (c TalibCalculator) Compute(closes []float64) (Snapshot, error) {
	if len(closes) < c.Params.MinBars() {
		return Snapshot{}, fmt.Errorf("%w: have %d need %d", ErrInsufficientBars, len(closes), c.Params.MinBars())
	}
	rsi := talib.Rsi(closes, c.Params.RSIPeriod)
	upper, mid, lower := talib.BBands(closes, c.Params.BBLength, c.Params.BBStdDev, c.Params.BBStdDev, talib.SMA)
	snap := Snapshot{
		Momentum: lastValid(rsi),
		Upper:    lastValid(upper),
		Mid:      lastValid(mid),
		Lower:    lastValid(lower),
	}
	if snap.Mid == 0 {
		return Snapshot{}, fmt.Errorf("bollinger mid band is zero")
	}
	return snap, nil
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
