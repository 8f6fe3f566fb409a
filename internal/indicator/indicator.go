// Package indicator computes technical indicator series over bar history.
//
// Every function returns a slice aligned with its input. Positions that do
// not yet have enough history hold NaN; callers treat NaN as "not ready".
package indicator

import "math"

// Ready reports whether v is a usable reading.
func Ready(v float64) bool { return !math.IsNaN(v) }

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// firstReady returns the index of the first non-NaN value, or len(x).
func firstReady(x []float64) int {
	for i, v := range x {
		if Ready(v) {
			return i
		}
	}
	return len(x)
}

// SMA returns the simple moving average of x over period values.
func SMA(x []float64, period int) []float64 {
	out := nanSlice(len(x))
	if period <= 0 {
		return out
	}
	start := firstReady(x)
	var sum float64
	for i := start; i < len(x); i++ {
		sum += x[i]
		if i-start >= period {
			sum -= x[i-period]
		}
		if i-start+1 >= period {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average of x. The first value is seeded
// with the simple average of the first period readings, then smoothed with
// alpha = 2/(period+1).
func EMA(x []float64, period int) []float64 {
	out := nanSlice(len(x))
	if period <= 0 {
		return out
	}
	start := firstReady(x)
	seedAt := start + period - 1
	if seedAt >= len(x) {
		return out
	}
	var sum float64
	for i := start; i <= seedAt; i++ {
		sum += x[i]
	}
	prev := sum / float64(period)
	out[seedAt] = prev

	alpha := 2.0 / (float64(period) + 1)
	for i := seedAt + 1; i < len(x); i++ {
		prev = x[i]*alpha + prev*(1-alpha)
		out[i] = prev
	}
	return out
}

// Highest returns the rolling maximum of x over period values.
func Highest(x []float64, period int) []float64 {
	return rolling(x, period, math.Max)
}

// Lowest returns the rolling minimum of x over period values.
func Lowest(x []float64, period int) []float64 {
	return rolling(x, period, math.Min)
}

func rolling(x []float64, period int, pick func(a, b float64) float64) []float64 {
	out := nanSlice(len(x))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(x); i++ {
		v := x[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			v = pick(v, x[j])
		}
		out[i] = v
	}
	return out
}
