package indicator

// Stochastic holds the %K line and the smoothed %D line.
type Stochastic struct {
	K []float64
	D []float64
}

// NewStochastic computes the slow stochastic oscillator:
//
//	%K = 100 * (close - lowest low) / (highest high - lowest low)  over periodK
//	%D = SMA(SMA(%K, periodD), smoothD)
//
// A flat window (highest == lowest) yields a neutral %K of 50.
func NewStochastic(high, low, close []float64, periodK, periodD, smoothD int) Stochastic {
	hh := Highest(high, periodK)
	ll := Lowest(low, periodK)

	k := nanSlice(len(close))
	for i := range close {
		if !Ready(hh[i]) || !Ready(ll[i]) {
			continue
		}
		span := hh[i] - ll[i]
		if span == 0 {
			k[i] = 50
			continue
		}
		k[i] = 100 * (close[i] - ll[i]) / span
	}

	d := SMA(SMA(k, periodD), smoothD)
	return Stochastic{K: k, D: d}
}

// MACD holds the momentum line, its signal line and the histogram.
type MACD struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// NewMACD computes EMA(fast) - EMA(slow) and its EMA(signal) line.
func NewMACD(close []float64, fast, slow, signal int) MACD {
	ef := EMA(close, fast)
	es := EMA(close, slow)

	line := nanSlice(len(close))
	for i := range close {
		if Ready(ef[i]) && Ready(es[i]) {
			line[i] = ef[i] - es[i]
		}
	}

	sig := EMA(line, signal)
	hist := nanSlice(len(close))
	for i := range close {
		if Ready(line[i]) && Ready(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACD{Line: line, Signal: sig, Histogram: hist}
}
