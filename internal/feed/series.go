// Package feed provides backward-looking cursors over bar history and the
// indicator readings derived from it, plus timeframe resampling.
package feed

import (
	"errors"
	"fmt"
	"math"
	"time"

	"trendline/internal/domain"
)

// ErrUnknownIndicator is returned when a reading is requested for an
// indicator that was never added to the series.
var ErrUnknownIndicator = errors.New("unknown indicator")

// Series holds the bars of one instrument together with named indicator
// readings aligned to them.
type Series struct {
	symbol   string
	bars     []domain.Bar
	readings map[string][]float64
}

// NewSeries creates a Series over bars, which must be in ascending time order.
func NewSeries(symbol string, bars []domain.Bar) *Series {
	return &Series{
		symbol:   symbol,
		bars:     bars,
		readings: make(map[string][]float64),
	}
}

// Symbol returns the instrument symbol.
func (s *Series) Symbol() string { return s.symbol }

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// Bars returns the underlying bars. Callers must not modify them.
func (s *Series) Bars() []domain.Bar { return s.bars }

// Column extracts one bar field as a float slice, for indicator input.
func (s *Series) Column(f domain.Field) []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i], _ = b.Value(f)
	}
	return out
}

// AddReading registers an indicator series under id. values must be aligned
// with the bars; NaN marks positions that are not ready.
func (s *Series) AddReading(id string, values []float64) error {
	if len(values) != len(s.bars) {
		return fmt.Errorf("indicator %q has %d values for %d bars", id, len(values), len(s.bars))
	}
	s.readings[id] = values
	return nil
}

// HasReading reports whether id has been added.
func (s *Series) HasReading(id string) bool {
	_, ok := s.readings[id]
	return ok
}

// At returns a cursor positioned on bar i.
func (s *Series) At(i int) *Cursor {
	return &Cursor{series: s, idx: i}
}

// Cursor gives indexed, backward-looking access to a Series. Offset 0 is the
// current bar; negative offsets are earlier bars.
type Cursor struct {
	series *Series
	idx    int
}

// Index returns the absolute bar index of the cursor.
func (c *Cursor) Index() int { return c.idx }

// Bar returns the current bar.
func (c *Cursor) Bar() domain.Bar { return c.series.bars[c.idx] }

// Time returns the current bar's timestamp.
func (c *Cursor) Time() time.Time { return c.series.bars[c.idx].Timestamp }

func (c *Cursor) resolve(offset int) (int, error) {
	i := c.idx + offset
	if offset > 0 || i < 0 || i >= len(c.series.bars) {
		return 0, fmt.Errorf("%w: offset %d at bar %d", domain.ErrOutOfHistory, offset, c.idx)
	}
	return i, nil
}

// Field returns a bar attribute at offset.
func (c *Cursor) Field(f domain.Field, offset int) (float64, error) {
	i, err := c.resolve(offset)
	if err != nil {
		return 0, err
	}
	v, ok := c.series.bars[i].Value(f)
	if !ok {
		return 0, fmt.Errorf("unknown bar field %q", f)
	}
	return v, nil
}

// Reading returns an indicator value at offset. Readings still warming up
// are reported as ErrOutOfHistory.
func (c *Cursor) Reading(id string, offset int) (float64, error) {
	values, ok := c.series.readings[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownIndicator, id)
	}
	i, err := c.resolve(offset)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(values[i]) {
		return 0, fmt.Errorf("%w: %q not ready at bar %d", domain.ErrOutOfHistory, id, i)
	}
	return values[i], nil
}
