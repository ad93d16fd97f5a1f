package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval 把交易所的周期名（MINUTE_5）与时长、REST granularity 对应起来。
type Interval struct {
	Name        string
	Duration    time.Duration
	Granularity string
}

// ParseInterval accepts exchange names such as "MINUTE_5" or "HOUR_4" and
// short forms such as "5m", "4h", "1d".
func ParseInterval(raw string) (Interval, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Interval{}, fmt.Errorf("empty interval")
	}
	if unit, num, ok := strings.Cut(s, "_"); ok {
		n, err := strconv.Atoi(num)
		if err != nil || n <= 0 {
			return Interval{}, fmt.Errorf("invalid interval %q", raw)
		}
		switch unit {
		case "MINUTE":
			return newInterval(s, time.Duration(n)*time.Minute, fmt.Sprintf("%dm", n)), nil
		case "HOUR":
			return newInterval(s, time.Duration(n)*time.Hour, fmt.Sprintf("%dh", n)), nil
		case "DAY":
			return newInterval(s, time.Duration(n)*24*time.Hour, fmt.Sprintf("%dd", n)), nil
		case "WEEK":
			return newInterval(s, time.Duration(n)*7*24*time.Hour, fmt.Sprintf("%dw", n)), nil
		}
		return Interval{}, fmt.Errorf("invalid interval %q", raw)
	}
	short := strings.ToLower(s)
	d, ok := parseShortDuration(short)
	if !ok {
		return Interval{}, fmt.Errorf("invalid interval %q", raw)
	}
	return newInterval(exchangeName(short), d, short), nil
}

func newInterval(name string, d time.Duration, gran string) Interval {
	return Interval{Name: name, Duration: d, Granularity: gran}
}

func parseShortDuration(interval string) (time.Duration, bool) {
	if len(interval) < 2 {
		return 0, false
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func exchangeName(short string) string {
	num, unit := short[:len(short)-1], short[len(short)-1]
	switch unit {
	case 'm':
		return "MINUTE_" + num
	case 'h':
		return "HOUR_" + num
	case 'd':
		return "DAY_" + num
	default:
		return "WEEK_" + num
	}
}

// FinestInterval 返回时长最短的合法周期名。
func FinestInterval(names []string) (string, bool) {
	var (
		best  Interval
		found bool
	)
	for _, name := range names {
		iv, err := ParseInterval(name)
		if err != nil {
			continue
		}
		if !found || iv.Duration < best.Duration {
			best = iv
			found = true
		}
	}
	return best.Name, found
}

// IntervalFromChannel 从 "kline.LAST_PRICE.cmt_btcusdt.MINUTE_1" 中取出周期。
func IntervalFromChannel(channel string) string {
	idx := strings.LastIndex(channel, ".")
	if idx < 0 || idx == len(channel)-1 {
		return ""
	}
	return strings.ToUpper(channel[idx+1:])
}

// ClosedCandles 丢弃仍在形成中的最后一根：若最后一根的开盘时间等于当前周期边界，
// 它还没有收盘。
func ClosedCandles(candles []Candle, interval time.Duration, now time.Time) []Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}
	boundary := now.UTC().Truncate(interval).UnixMilli()
	last := candles[len(candles)-1]
	if last.OpenTime >= boundary {
		return candles[:len(candles)-1]
	}
	return candles
}
