package feed

import (
	"errors"
	"math"
	"testing"
	"time"

	"trendline/internal/domain"
)

func dailyBars(start time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "CBA",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
			VWAP:      c,
		}
	}
	return bars
}

func TestCursorField(t *testing.T) {
	s := NewSeries("CBA", dailyBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10, 11, 12))
	c := s.At(2)

	got, err := c.Field(domain.FieldClose, 0)
	if err != nil || got != 12 {
		t.Fatalf("Field(close, 0) = %v, %v; want 12", got, err)
	}
	got, err = c.Field(domain.FieldClose, -2)
	if err != nil || got != 10 {
		t.Fatalf("Field(close, -2) = %v, %v; want 10", got, err)
	}
	if _, err := c.Field(domain.FieldClose, -3); !errors.Is(err, domain.ErrOutOfHistory) {
		t.Errorf("Field(close, -3) error = %v, want ErrOutOfHistory", err)
	}
	if _, err := c.Field(domain.FieldClose, 1); !errors.Is(err, domain.ErrOutOfHistory) {
		t.Errorf("Field(close, 1) error = %v, want ErrOutOfHistory", err)
	}
}

func TestCursorReading(t *testing.T) {
	s := NewSeries("CBA", dailyBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10, 11, 12))
	if err := s.AddReading("ema2", []float64{math.NaN(), 10.5, 11.5}); err != nil {
		t.Fatalf("AddReading: %v", err)
	}
	if err := s.AddReading("bad", []float64{1}); err == nil {
		t.Error("AddReading with misaligned values should fail")
	}

	c := s.At(2)
	if v, err := c.Reading("ema2", -1); err != nil || v != 10.5 {
		t.Errorf("Reading(ema2, -1) = %v, %v; want 10.5", v, err)
	}
	if _, err := c.Reading("ema2", -2); !errors.Is(err, domain.ErrOutOfHistory) {
		t.Errorf("warming-up reading error = %v, want ErrOutOfHistory", err)
	}
	if _, err := c.Reading("ema9", 0); !errors.Is(err, ErrUnknownIndicator) {
		t.Errorf("unknown reading error = %v, want ErrUnknownIndicator", err)
	}
}

func TestResampleWeekly(t *testing.T) {
	// 2024-01-01 is a Monday: ten days span two ISO weeks plus three days.
	bars := dailyBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	got, err := Resample(bars, TimeframeWeekly, 1)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Resample returned %d bars, want 2", len(got))
	}
	w1 := got[0]
	if w1.Open != 0.5 || w1.Close != 7 || w1.High != 8 || w1.Low != 0 || w1.Volume != 700 {
		t.Errorf("week 1 = %+v", w1)
	}
	if !w1.Timestamp.Equal(bars[6].Timestamp) {
		t.Errorf("week 1 timestamp = %v, want %v", w1.Timestamp, bars[6].Timestamp)
	}
}

func TestResampleCompression(t *testing.T) {
	bars := dailyBars(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1, 2, 3, 4, 5)
	got, err := Resample(bars, TimeframeDaily, 2)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Resample returned %d bars, want 3", len(got))
	}
	if got[0].Close != 2 || got[2].Close != 5 {
		t.Errorf("closes = %v, %v; want 2, 5", got[0].Close, got[2].Close)
	}
}

func TestResampleInvalid(t *testing.T) {
	if _, err := Resample(nil, TimeframeDaily, 0); err == nil {
		t.Error("compression 0 should fail")
	}
	if _, err := ParseTimeframe("hourly"); err == nil {
		t.Error("ParseTimeframe(hourly) should fail")
	}
}
