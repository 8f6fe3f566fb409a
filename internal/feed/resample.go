package feed

import (
	"fmt"
	"strings"

	"trendline/internal/domain"
)

// Timeframe is the period that bars are resampled to.
type Timeframe string

const (
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
)

// ParseTimeframe validates a timeframe name. An empty name means daily.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(strings.ToLower(s)); tf {
	case "":
		return TimeframeDaily, nil
	case TimeframeDaily, TimeframeWeekly, TimeframeMonthly:
		return tf, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Resample groups bars into the given timeframe and then merges every
// compression consecutive groups into one bar. Input must be ascending.
// The merged bar carries the timestamp of its last source bar.
func Resample(bars []domain.Bar, tf Timeframe, compression int) ([]domain.Bar, error) {
	if compression <= 0 {
		return nil, fmt.Errorf("compression must be positive, got %d", compression)
	}
	if _, err := ParseTimeframe(string(tf)); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	var groups [][]domain.Bar
	lastKey := ""
	for _, b := range bars {
		k := periodKey(b, tf)
		if len(groups) == 0 || k != lastKey {
			groups = append(groups, nil)
			lastKey = k
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], b)
	}

	out := make([]domain.Bar, 0, (len(groups)+compression-1)/compression)
	for i := 0; i < len(groups); i += compression {
		end := min(i+compression, len(groups))
		var merged []domain.Bar
		for _, g := range groups[i:end] {
			merged = append(merged, g...)
		}
		out = append(out, mergeBars(merged))
	}
	return out, nil
}

func periodKey(b domain.Bar, tf Timeframe) string {
	switch tf {
	case TimeframeWeekly:
		y, w := b.Timestamp.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	case TimeframeMonthly:
		return b.Timestamp.Format("2006-01")
	}
	return b.Timestamp.Format("2006-01-02")
}

func mergeBars(bars []domain.Bar) domain.Bar {
	out := bars[0]
	var notional float64
	out.Volume = 0
	out.TradeCount = 0
	for _, b := range bars {
		out.High = max(out.High, b.High)
		out.Low = min(out.Low, b.Low)
		out.Volume += b.Volume
		out.TradeCount += b.TradeCount
		notional += b.VWAP * float64(b.Volume)
	}
	last := bars[len(bars)-1]
	out.Close = last.Close
	out.Timestamp = last.Timestamp
	if out.Volume > 0 {
		out.VWAP = notional / float64(out.Volume)
	}
	return out
}
