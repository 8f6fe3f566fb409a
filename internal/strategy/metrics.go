package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"trendline/internal/domain"
	"trendline/internal/feed"
)

// Metrics summarises a backtest.
type Metrics struct {
	StartValue   float64
	FinalValue   float64
	TotalReturn  float64 // fraction, 0.12 = +12%
	MaxDrawdown  float64 // fraction of the running peak
	TotalTrades  int
	WinRate      float64
	ProfitFactor float64 // 0 when there is no losing trade
	Sharpe       float64 // annualised, zero risk-free rate
}

// ComputeMetrics derives Metrics from the per-bar equity curve and the
// closed trades.
func ComputeMetrics(start float64, equity []float64, trades []domain.Trade, periodsPerYear float64) Metrics {
	m := Metrics{StartValue: start, FinalValue: start, TotalTrades: len(trades)}
	if len(equity) > 0 {
		m.FinalValue = equity[len(equity)-1]
	}
	if start != 0 {
		m.TotalReturn = (m.FinalValue - start) / start
	}
	m.MaxDrawdown = maxDrawdown(start, equity)
	m.Sharpe = sharpe(start, equity, periodsPerYear)

	var wins int
	gain, loss := decimal.Zero, decimal.Zero
	for _, t := range trades {
		pnl := decimal.NewFromFloat(t.NetPnL)
		switch {
		case pnl.IsPositive():
			wins++
			gain = gain.Add(pnl)
		case pnl.IsNegative():
			loss = loss.Sub(pnl)
		}
	}
	if len(trades) > 0 {
		m.WinRate = float64(wins) / float64(len(trades))
	}
	if loss.IsPositive() {
		m.ProfitFactor = gain.Div(loss).InexactFloat64()
	}
	return m
}

func maxDrawdown(start float64, equity []float64) float64 {
	peak, worst := start, 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-v)/peak)
		}
	}
	return worst
}

func sharpe(start float64, equity []float64, periodsPerYear float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity))
	prev := start
	for _, v := range equity {
		if prev != 0 {
			returns = append(returns, v/prev-1)
		}
		prev = v
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}

func periodsPerYear(tf feed.Timeframe, compression int) float64 {
	n := 252.0
	switch tf {
	case feed.TimeframeWeekly:
		n = 52
	case feed.TimeframeMonthly:
		n = 12
	}
	return n / float64(max(compression, 1))
}

// Money rounds v to cents for display.
func Money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
