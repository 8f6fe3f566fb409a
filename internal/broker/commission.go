package broker

import (
	"fmt"
	"strings"
)

// CommissionScheme computes the commission charged for one fill.
type CommissionScheme interface {
	Commission(size int64, price float64) float64
}

// PercentCommission charges a fraction of the traded value (0.001 = 0.1%).
type PercentCommission float64

// Commission implements CommissionScheme.
func (p PercentCommission) Commission(size int64, price float64) float64 {
	return float64(p) * float64(abs(size)) * price
}

// FixedCommission charges a flat amount per fill.
type FixedCommission float64

// Commission implements CommissionScheme.
func (f FixedCommission) Commission(_ int64, _ float64) float64 {
	return float64(f)
}

// ParseCommission builds a scheme from a config kind ("percent" or "fixed")
// and value. An empty kind means no commission.
func ParseCommission(kind string, value float64) (CommissionScheme, error) {
	if value < 0 {
		return nil, fmt.Errorf("commission value must not be negative, got %v", value)
	}
	switch strings.ToLower(kind) {
	case "", "none":
		return PercentCommission(0), nil
	case "percent":
		return PercentCommission(value), nil
	case "fixed":
		return FixedCommission(value), nil
	}
	return nil, fmt.Errorf("unknown commission kind %q", kind)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
