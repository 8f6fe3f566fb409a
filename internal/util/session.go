package util

import (
	"time"

	"trendline/internal/domain"
)

// Sessions knows when a market's daily session closes. Holidays are not
// modelled; a download that ends on one simply returns no bar for it.
type Sessions struct {
	loc   *time.Location
	close time.Duration
}

// NewSessions returns the session clock for market. Unknown markets fall back
// to US hours.
func NewSessions(market domain.Market) *Sessions {
	name := "America/New_York"
	if market == domain.MarketAU {
		name = "Australia/Sydney"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	return &Sessions{loc: loc, close: 16 * time.Hour}
}

// IsTradingDay reports whether t falls on a weekday in the market's zone.
func (s *Sessions) IsTradingDay(t time.Time) bool {
	switch t.In(s.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// LastClosed returns midnight (market time) of the most recent trading day
// whose session had closed by now.
func (s *Sessions) LastClosed(now time.Time) time.Time {
	local := now.In(s.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	if local.Sub(day) < s.close {
		day = day.AddDate(0, 0, -1)
	}
	for !s.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
