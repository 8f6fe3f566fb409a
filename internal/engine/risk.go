package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trendline/internal/domain"
)

// StopPolicy derives the stop-loss level for a new entry.
type StopPolicy interface {
	StopLevel(c Cursor, d EntryDecision) (float64, error)
	Validate() error
}

// ExtremeStop places the stop at the lowest value (longs) or highest value
// (shorts) of Field over the Lookback bars before entry. When that extreme
// is not strictly beyond the entry price the scan continues further back.
// Field defaults to low for longs and high for shorts.
type ExtremeStop struct {
	Lookback int
	Field    domain.Field
}

// Validate implements StopPolicy.
func (e ExtremeStop) Validate() error {
	if e.Lookback <= 0 {
		return configErr("stop.lookback", "must be positive, got %d", e.Lookback)
	}
	return nil
}

// StopLevel implements StopPolicy.
func (e ExtremeStop) StopLevel(c Cursor, d EntryDecision) (float64, error) {
	long := d.Side == domain.OrderSideBuy
	field := e.Field
	if field == "" {
		field = domain.FieldLow
		if !long {
			field = domain.FieldHigh
		}
	}

	stop := math.NaN()
	for i := 1; ; i++ {
		v, err := c.Field(field, -i)
		if err != nil {
			if errors.Is(err, domain.ErrOutOfHistory) {
				break
			}
			return 0, err
		}
		if math.IsNaN(stop) || (long && v < stop) || (!long && v > stop) {
			stop = v
		}
		if i >= e.Lookback && losingSide(d.Side, stop, d.Price) {
			return stop, nil
		}
	}
	if math.IsNaN(stop) {
		return 0, fmt.Errorf("%w: no bars before entry", ErrInsufficientHistory)
	}
	if !losingSide(d.Side, stop, d.Price) {
		return 0, fmt.Errorf("%w: no %s beyond entry %.2f", ErrInvalidRisk, field, d.Price)
	}
	return stop, nil
}

// IndicatorStop places the stop at an indicator reading sampled at entry.
// An empty ID uses the trigger's reference value.
type IndicatorStop struct {
	ID string
}

// Validate implements StopPolicy.
func (IndicatorStop) Validate() error { return nil }

// StopLevel implements StopPolicy.
func (s IndicatorStop) StopLevel(c Cursor, d EntryDecision) (float64, error) {
	if s.ID == "" {
		return d.Reference, nil
	}
	return c.Reading(s.ID, 0)
}

// RiskLevels are the exit thresholds of the open position.
type RiskLevels struct {
	Side        domain.PositionSide
	Entry       float64
	StopLoss    float64
	TakeProfit  float64
	BarsHeld    int
	MaxDuration int
}

// RiskManager derives RiskLevels at entry and checks them every bar.
type RiskManager struct {
	stop        StopPolicy
	multiple    float64
	maxDuration int
	precision   int32
	levels      *RiskLevels
}

// NewRiskManager validates its parameters. precision is the number of
// decimal places levels are rounded to; a negative value disables rounding.
func NewRiskManager(stop StopPolicy, multiple float64, maxDuration int, precision int32) (*RiskManager, error) {
	if stop == nil {
		return nil, configErr("stop", "policy is required")
	}
	if err := stop.Validate(); err != nil {
		return nil, err
	}
	if multiple <= 0 || math.IsNaN(multiple) {
		return nil, configErr("risk_multiple", "must be positive, got %v", multiple)
	}
	if maxDuration <= 0 {
		return nil, configErr("max_duration", "must be positive, got %d", maxDuration)
	}
	return &RiskManager{stop: stop, multiple: multiple, maxDuration: maxDuration, precision: precision}, nil
}

// Plan computes the levels for an entry decision without activating them.
func (r *RiskManager) Plan(c Cursor, d EntryDecision) (RiskLevels, error) {
	stop, err := r.stop.StopLevel(c, d)
	if err != nil {
		return RiskLevels{}, err
	}
	stop = r.round(stop)
	if !losingSide(d.Side, stop, d.Price) {
		return RiskLevels{}, fmt.Errorf("%w: stop %.2f against entry %.2f", ErrInvalidRisk, stop, d.Price)
	}
	target := d.Price + (d.Price-stop)*r.multiple
	return RiskLevels{
		Side:        domain.SideOf(d.Side),
		Entry:       d.Price,
		StopLoss:    stop,
		TakeProfit:  r.round(target),
		MaxDuration: r.maxDuration,
	}, nil
}

// Activate installs levels for a newly opened position.
func (r *RiskManager) Activate(l RiskLevels) {
	l.BarsHeld = 0
	r.levels = &l
}

// Clear drops the levels once the position is closed.
func (r *RiskManager) Clear() { r.levels = nil }

// Levels returns the active levels, if any.
func (r *RiskManager) Levels() (RiskLevels, bool) {
	if r.levels == nil {
		return RiskLevels{}, false
	}
	return *r.levels, true
}

// Step counts one more bar held and reports the first exit condition met,
// checked in the order stop-loss, take-profit, max duration.
func (r *RiskManager) Step(price float64) (domain.ExitReason, bool) {
	if r.levels == nil {
		return "", false
	}
	l := r.levels
	l.BarsHeld++

	long := l.Side == domain.PositionSideLong
	switch {
	case long && price <= l.StopLoss, !long && price >= l.StopLoss:
		return domain.ExitStopLoss, true
	case long && price >= l.TakeProfit, !long && price <= l.TakeProfit:
		return domain.ExitTakeProfit, true
	case l.BarsHeld >= l.MaxDuration:
		return domain.ExitDuration, true
	}
	return "", false
}

func (r *RiskManager) round(v float64) float64 {
	if r.precision < 0 {
		return v
	}
	return decimal.NewFromFloat(v).Round(r.precision).InexactFloat64()
}

// losingSide reports whether stop lies strictly on the losing side of price
// for an entry on side.
func losingSide(side domain.OrderSide, stop, price float64) bool {
	if side == domain.OrderSideSell {
		return stop > price
	}
	return stop < price
}
