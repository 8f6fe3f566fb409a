package engine

import (
	"errors"
	"testing"

	"trendline/internal/domain"
	"trendline/internal/feed"
)

func TestTakeProfitFromRiskMultiple(t *testing.T) {
	rm, err := NewRiskManager(IndicatorStop{}, 1.5, 30, 2)
	if err != nil {
		t.Fatalf("NewRiskManager: %v", err)
	}
	s := feed.NewSeries("TEST", testBars(100))
	l, err := rm.Plan(s.At(0), EntryDecision{Side: domain.OrderSideBuy, Price: 100, Reference: 95})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if l.TakeProfit != 107.5 {
		t.Fatalf("TakeProfit = %v, want 107.5", l.TakeProfit)
	}
	rm.Activate(l)
	reason, exit := rm.Step(108)
	if !exit || reason != domain.ExitTakeProfit {
		t.Errorf("Step(108) = %q, %v; want take_profit", reason, exit)
	}
}

func TestMaxDurationExit(t *testing.T) {
	rm, _ := NewRiskManager(IndicatorStop{}, 2, 30, 2)
	rm.Activate(RiskLevels{Side: domain.PositionSideLong, Entry: 100, StopLoss: 95, TakeProfit: 110, MaxDuration: 30})
	for i := 1; i < 30; i++ {
		if reason, exit := rm.Step(101); exit {
			t.Fatalf("bar %d: early exit %q", i, reason)
		}
	}
	reason, exit := rm.Step(101)
	if !exit || reason != domain.ExitDuration {
		t.Errorf("bar 30: Step = %q, %v; want max_duration", reason, exit)
	}
}

func TestExitPriorityStopFirst(t *testing.T) {
	rm, _ := NewRiskManager(IndicatorStop{}, 2, 1, 2)
	// Degenerate levels where one price satisfies every condition.
	rm.Activate(RiskLevels{Side: domain.PositionSideLong, Entry: 100, StopLoss: 100, TakeProfit: 100, MaxDuration: 1})
	reason, exit := rm.Step(100)
	if !exit || reason != domain.ExitStopLoss {
		t.Errorf("Step = %q, %v; want stop_loss", reason, exit)
	}
}

func TestShortLevels(t *testing.T) {
	rm, _ := NewRiskManager(IndicatorStop{}, 2, 30, 2)
	s := feed.NewSeries("TEST", testBars(100))
	l, err := rm.Plan(s.At(0), EntryDecision{Side: domain.OrderSideSell, Price: 100, Reference: 104})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if l.StopLoss != 104 || l.TakeProfit != 92 || l.Side != domain.PositionSideShort {
		t.Fatalf("levels = %+v", l)
	}
	rm.Activate(l)
	if reason, exit := rm.Step(105); !exit || reason != domain.ExitStopLoss {
		t.Errorf("Step(105) = %q, %v; want stop_loss", reason, exit)
	}
}

func TestPlanRejectsStopOnWrongSide(t *testing.T) {
	rm, _ := NewRiskManager(IndicatorStop{}, 2, 30, 2)
	s := feed.NewSeries("TEST", testBars(100))
	_, err := rm.Plan(s.At(0), EntryDecision{Side: domain.OrderSideBuy, Price: 100, Reference: 101})
	if !errors.Is(err, ErrInvalidRisk) {
		t.Errorf("err = %v, want ErrInvalidRisk", err)
	}
}

func TestPlanRoundsLevels(t *testing.T) {
	rm, _ := NewRiskManager(IndicatorStop{}, 1.5, 30, 2)
	s := feed.NewSeries("TEST", testBars(100))
	l, err := rm.Plan(s.At(0), EntryDecision{Side: domain.OrderSideBuy, Price: 100, Reference: 95.996})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if l.StopLoss != 96 || l.TakeProfit != 106 {
		t.Errorf("levels = stop %v target %v, want 96 / 106", l.StopLoss, l.TakeProfit)
	}
}

func TestExtremeStop(t *testing.T) {
	// Lows are close-1: 99, 93, 96, 97, current.
	s := feed.NewSeries("TEST", testBars(100, 94, 97, 98, 100))
	c := s.At(4)

	got, err := ExtremeStop{Lookback: 3}.StopLevel(c, EntryDecision{Side: domain.OrderSideBuy, Price: 100})
	if err != nil || got != 93 {
		t.Errorf("long stop = %v, %v; want 93", got, err)
	}
	got, err = ExtremeStop{Lookback: 2, Field: domain.FieldClose}.StopLevel(c, EntryDecision{Side: domain.OrderSideBuy, Price: 100})
	if err != nil || got != 97 {
		t.Errorf("close stop = %v, %v; want 97", got, err)
	}
	got, err = ExtremeStop{Lookback: 2}.StopLevel(c, EntryDecision{Side: domain.OrderSideSell, Price: 97})
	if err != nil || got != 99 {
		t.Errorf("short stop = %v, %v; want 99", got, err)
	}
}

func TestExtremeStopScansPastLookback(t *testing.T) {
	s := feed.NewSeries("TEST", testBars(90, 101, 101, 100))
	// Closes 101, 101 are not below entry 100; the scan continues to 90.
	got, err := ExtremeStop{Lookback: 2, Field: domain.FieldClose}.StopLevel(s.At(3), EntryDecision{Side: domain.OrderSideBuy, Price: 100})
	if err != nil || got != 90 {
		t.Errorf("stop = %v, %v; want 90", got, err)
	}
}

func TestExtremeStopLookbackWindow(t *testing.T) {
	// Offset -15 holds the lowest close; a 14-bar scan must not reach it.
	closes := []float64{50}
	for i := 0; i < 14; i++ {
		closes = append(closes, 90+float64(i))
	}
	closes = append(closes, 100)
	s := feed.NewSeries("TEST", testBars(closes...))
	c := s.At(len(closes) - 1)

	got, err := ExtremeStop{Lookback: 14, Field: domain.FieldClose}.StopLevel(c, EntryDecision{Side: domain.OrderSideBuy, Price: 100})
	if err != nil || got != 90 {
		t.Errorf("14-bar stop = %v, %v; want 90", got, err)
	}
	got, err = ExtremeStop{Lookback: 15, Field: domain.FieldClose}.StopLevel(c, EntryDecision{Side: domain.OrderSideBuy, Price: 100})
	if err != nil || got != 50 {
		t.Errorf("15-bar stop = %v, %v; want 50", got, err)
	}
}

func TestExtremeStopNoHistory(t *testing.T) {
	s := feed.NewSeries("TEST", testBars(100))
	_, err := ExtremeStop{Lookback: 5}.StopLevel(s.At(0), EntryDecision{Side: domain.OrderSideBuy, Price: 100})
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("err = %v, want ErrInsufficientHistory", err)
	}
}

func TestExtremeStopNotBeyondEntry(t *testing.T) {
	s := feed.NewSeries("TEST", testBars(101, 102, 100))
	_, err := ExtremeStop{Lookback: 2, Field: domain.FieldClose}.StopLevel(s.At(2), EntryDecision{Side: domain.OrderSideBuy, Price: 100})
	if !errors.Is(err, ErrInvalidRisk) {
		t.Errorf("err = %v, want ErrInvalidRisk", err)
	}
}
