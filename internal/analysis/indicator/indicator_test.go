package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weexagent/internal/market"
)

var defaultParams = Params{RSIPeriod: 14, BBLength: 20, BBStdDev: 2}

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestTalibRisingSeriesSaturatesMomentum(t *testing.T) {
	calc := NewTalibCalculator(defaultParams)
	snap, err := calc.Compute(series(40, func(i int) float64 { return 100 + float64(i) }))
	require.NoError(t, err)
	assert.InDelta(t, 100, snap.Momentum, 1e-9)
	assert.Greater(t, snap.Upper, snap.Mid)
	assert.Greater(t, snap.Mid, snap.Lower)
}

func TestTalibConstantSeriesCollapsesBands(t *testing.T) {
	calc := NewTalibCalculator(defaultParams)
	snap, err := calc.Compute(series(40, func(int) float64 { return 50000 }))
	require.NoError(t, err)
	assert.InDelta(t, 50000, snap.Mid, 1e-6)
	assert.InDelta(t, snap.Upper, snap.Lower, 1e-6)
	assert.InDelta(t, 0, snap.Width(), 1e-9)
}

func TestTalibRequiresEnoughBars(t *testing.T) {
	calc := NewTalibCalculator(defaultParams)
	_, err := calc.Compute(series(10, func(i int) float64 { return float64(i + 1) }))
	assert.ErrorIs(t, err, ErrInsufficientBars)
}

type recordingCalc struct {
	last []float64
}

func (r *recordingCalc) Compute(closes []float64) (Snapshot, error) {
	r.last = append([]float64(nil), closes...)
	return Snapshot{Momentum: closes[len(closes)-1], Upper: 2, Mid: 1, Lower: 0}, nil
}

func TestStateLiveExtendsClosedSeries(t *testing.T) {
	calc := &recordingCalc{}
	st := NewState(calc, 3)
	bars := []market.Candle{
		{OpenTime: 1, Close: 10, High: 11, Low: 9},
		{OpenTime: 2, Close: 20, High: 21, Low: 19},
		{OpenTime: 3, Close: 30, High: 31, Low: 29},
		{OpenTime: 4, Close: 40, High: 41, Low: 39},
	}
	require.NoError(t, st.Replace(bars, time.Unix(10, 0)))
	assert.Equal(t, []float64{20, 30, 40}, calc.last)

	closed, ok := st.Closed()
	assert.True(t, ok)
	assert.Equal(t, 40.0, closed.Momentum)

	live, err := st.Live(45)
	require.NoError(t, err)
	assert.Equal(t, 45.0, live.Momentum)
	assert.Equal(t, []float64{20, 30, 40, 45}, calc.last)

	// Live 不改变缓存窗口
	again, _ := st.Closed()
	assert.Equal(t, 40.0, again.Momentum)
	last, _ := st.LastClosed()
	assert.Equal(t, 41.0, last.High)
	assert.Len(t, st.Bars(2), 2)
}

func TestStateLiveBeforeRefresh(t *testing.T) {
	st := NewState(&recordingCalc{}, 10)
	_, err := st.Live(1)
	assert.ErrorIs(t, err, ErrInsufficientBars)
}
