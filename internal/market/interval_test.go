package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("minute_5")
	require.NoError(t, err)
	assert.Equal(t, "MINUTE_5", iv.Name)
	assert.Equal(t, 5*time.Minute, iv.Duration)
	assert.Equal(t, "5m", iv.Granularity)

	iv, err = ParseInterval("4h")
	require.NoError(t, err)
	assert.Equal(t, "HOUR_4", iv.Name)
	assert.Equal(t, 4*time.Hour, iv.Duration)

	for _, bad := range []string{"", "MINUTE_x", "SECOND_1", "0m", "5y"} {
		_, err := ParseInterval(bad)
		assert.Error(t, err, bad)
	}
}

func TestFinestInterval(t *testing.T) {
	name, ok := FinestInterval([]string{"HOUR_4", "MINUTE_5", "MINUTE_1"})
	assert.True(t, ok)
	assert.Equal(t, "MINUTE_1", name)

	_, ok = FinestInterval([]string{"bogus"})
	assert.False(t, ok)
}

func TestIntervalFromChannel(t *testing.T) {
	assert.Equal(t, "MINUTE_1", IntervalFromChannel("kline.LAST_PRICE.cmt_btcusdt.MINUTE_1"))
	assert.Equal(t, "", IntervalFromChannel("kline."))
}

func TestClosedCandlesDropsFormingBar(t *testing.T) {
	now := time.Date(2024, 5, 1, 14, 29, 7, 0, time.UTC)
	bar := func(h, m int) Candle {
		return Candle{OpenTime: time.Date(2024, 5, 1, h, m, 0, 0, time.UTC).UnixMilli()}
	}
	withForming := []Candle{bar(14, 20), bar(14, 25)}
	closed := ClosedCandles(withForming, 5*time.Minute, now)
	assert.Len(t, closed, 1)
	assert.Equal(t, bar(14, 20).OpenTime, closed[0].OpenTime)

	allClosed := []Candle{bar(14, 15), bar(14, 20)}
	assert.Len(t, ClosedCandles(allClosed, 5*time.Minute, now), 2)
}
