package engine

import "trendline/internal/domain"

// StackedTrend confirms a trend when, for every offset in the window, the
// fast, medium and slow averages are stacked in trend order. Medium may be
// empty to use only two averages. The optional checks tighten the predicate:
//
//   - Rising: each average moves in the trend direction bar to bar.
//   - PriceBeyondFast: price stays on the trend side of the fast average.
//   - MomentumSteps/MomentumStride: price advances over MomentumSteps
//     consecutive steps of MomentumStride bars.
type StackedTrend struct {
	Fast, Medium, Slow string
	Window             int
	Rising             bool
	PriceBeyondFast    bool
	MomentumSteps      int
	MomentumStride     int
	PriceField         domain.Field
}

// Validate implements Confirmer.
func (s StackedTrend) Validate() error {
	if s.Fast == "" || s.Slow == "" {
		return configErr("confirm.fast/slow", "stacked trend needs fast and slow indicators")
	}
	if s.Window <= 0 {
		return configErr("confirm.window", "must be positive, got %d", s.Window)
	}
	if s.MomentumSteps < 0 || (s.MomentumSteps > 0 && s.MomentumStride <= 0) {
		return configErr("confirm.momentum", "steps %d with stride %d", s.MomentumSteps, s.MomentumStride)
	}
	return nil
}

// Confirm implements Confirmer.
func (s StackedTrend) Confirm(c Cursor, d Direction) bool {
	field := priceField(s.PriceField)
	for i := 0; i < s.Window; i++ {
		fast, ok := pair(c, s.Fast, -i)
		if !ok {
			return false
		}
		slow, ok := pair(c, s.Slow, -i)
		if !ok {
			return false
		}
		lines := [][2]float64{fast}
		if s.Medium != "" {
			medium, ok := pair(c, s.Medium, -i)
			if !ok {
				return false
			}
			lines = append(lines, medium)
		}
		lines = append(lines, slow)

		if s.Rising {
			for _, l := range lines {
				if !advancing(d, l[0], l[1]) {
					return false
				}
			}
		}
		for j := 1; j < len(lines); j++ {
			if !ahead(d, lines[j-1][0], lines[j][0]) {
				return false
			}
		}
		if s.PriceBeyondFast {
			price, err := c.Field(field, -i)
			if err != nil || !ahead(d, price, fast[0]) {
				return false
			}
		}
	}

	for i := 0; i < s.MomentumSteps; i++ {
		now, err := c.Field(field, -i*s.MomentumStride)
		if err != nil {
			return false
		}
		before, err := c.Field(field, -(i+1)*s.MomentumStride)
		if err != nil {
			return false
		}
		if !ahead(d, now, before) {
			return false
		}
	}
	return true
}

// AboveAverage confirms a trend when price stayed on the trend side of one
// average for every bar in the window.
type AboveAverage struct {
	Average    string
	Window     int
	PriceField domain.Field
}

// Validate implements Confirmer.
func (a AboveAverage) Validate() error {
	if a.Average == "" {
		return configErr("confirm.average", "indicator is required")
	}
	if a.Window <= 0 {
		return configErr("confirm.window", "must be positive, got %d", a.Window)
	}
	return nil
}

// Confirm implements Confirmer.
func (a AboveAverage) Confirm(c Cursor, d Direction) bool {
	field := priceField(a.PriceField)
	for i := 0; i < a.Window; i++ {
		price, err := c.Field(field, -i)
		if err != nil {
			return false
		}
		avg, err := c.Reading(a.Average, -i)
		if err != nil {
			return false
		}
		if !ahead(d, price, avg) {
			return false
		}
	}
	return true
}

// pair returns the reading at offset and the one before it.
func pair(c Cursor, id string, offset int) ([2]float64, bool) {
	now, err := c.Reading(id, offset)
	if err != nil {
		return [2]float64{}, false
	}
	prev, err := c.Reading(id, offset-1)
	if err != nil {
		return [2]float64{}, false
	}
	return [2]float64{now, prev}, true
}

// ahead reports whether a is strictly on the trend side of b.
func ahead(d Direction, a, b float64) bool {
	if d == DirectionBearish {
		return a < b
	}
	return a > b
}

// advancing reports whether now did not move against the trend from prev.
func advancing(d Direction, now, prev float64) bool {
	if d == DirectionBearish {
		return now <= prev
	}
	return now >= prev
}

func priceField(f domain.Field) domain.Field {
	if f == "" {
		return domain.FieldClose
	}
	return f
}
