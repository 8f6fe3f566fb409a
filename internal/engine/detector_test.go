package engine

import (
	"testing"

	"trendline/internal/domain"
	"trendline/internal/feed"
)

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func mustReading(t *testing.T, s *feed.Series, id string, v []float64) {
	t.Helper()
	if err := s.AddReading(id, v); err != nil {
		t.Fatalf("AddReading(%s): %v", id, err)
	}
}

// trendSeries builds n bars where close > fast > medium > slow, all rising
// by one per bar, with medium dropped below slow on the bars in broken.
func trendSeries(t *testing.T, n int, broken ...int) *feed.Series {
	t.Helper()
	closes := make([]float64, n)
	fast := make([]float64, n)
	med := make([]float64, n)
	slow := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 20 + float64(i)
		fast[i] = 15 + float64(i)
		med[i] = 12 + float64(i)
		slow[i] = 10 + float64(i)
	}
	for _, i := range broken {
		med[i] = slow[i] - 0.5
	}
	s := feed.NewSeries("TEST", testBars(closes...))
	mustReading(t, s, "fast", fast)
	mustReading(t, s, "medium", med)
	mustReading(t, s, "slow", slow)
	return s
}

func TestStackedTrendWindow(t *testing.T) {
	s := trendSeries(t, 36, 20)
	st := StackedTrend{Fast: "fast", Medium: "medium", Slow: "slow", Window: 15, Rising: true, PriceBeyondFast: true}

	tests := []struct {
		bar  int
		want bool
	}{
		{14, false}, // not enough history
		{15, true},
		{19, true},
		{20, false}, // medium < slow on this bar
		{21, false},
		{34, false},
		{35, true},
	}
	for _, tt := range tests {
		if got := st.Confirm(s.At(tt.bar), DirectionBullish); got != tt.want {
			t.Errorf("bar %d: Confirm = %v, want %v", tt.bar, got, tt.want)
		}
	}
	if st.Confirm(s.At(19), DirectionBearish) {
		t.Error("rising stack confirmed bearish")
	}
}

func TestStackedTrendMomentum(t *testing.T) {
	s := trendSeries(t, 20)
	st := StackedTrend{Fast: "fast", Slow: "slow", Window: 1, MomentumSteps: 3, MomentumStride: 5}
	if st.Confirm(s.At(14), DirectionBullish) {
		t.Error("momentum confirmed without 15 bars of history")
	}
	if !st.Confirm(s.At(15), DirectionBullish) {
		t.Error("momentum not confirmed on a rising series")
	}
}

func TestStackedTrendMissingIndicator(t *testing.T) {
	s := trendSeries(t, 20)
	st := StackedTrend{Fast: "fast", Medium: "nope", Slow: "slow", Window: 2}
	if st.Confirm(s.At(10), DirectionBullish) {
		t.Error("confirmed with an unknown indicator")
	}
}

func TestAboveAverage(t *testing.T) {
	s := feed.NewSeries("TEST", testBars(101, 102, 99, 103, 104))
	mustReading(t, s, "ema", constant(5, 100))
	a := AboveAverage{Average: "ema", Window: 2}
	if a.Confirm(s.At(3), DirectionBullish) {
		t.Error("confirmed with a close below the average in the window")
	}
	if !a.Confirm(s.At(4), DirectionBullish) {
		t.Error("not confirmed with closes above the average")
	}
	if !(AboveAverage{Average: "ema", Window: 1}).Confirm(s.At(2), DirectionBearish) {
		t.Error("bearish not confirmed with close below the average")
	}
}

func pullbackSeries(t *testing.T, closes ...float64) *feed.Series {
	t.Helper()
	s := feed.NewSeries("TEST", testBars(closes...))
	mustReading(t, s, "fast", constant(len(closes), 105))
	mustReading(t, s, "medium", constant(len(closes), 100))
	mustReading(t, s, "slow", constant(len(closes), 95))
	return s
}

func newPullbackDetector() *Detector {
	return NewDetector(
		StackedTrend{Fast: "fast", Medium: "medium", Slow: "slow", Window: 1},
		PullbackReclaim{Fast: "fast", Medium: "medium", Slow: "slow"},
		domain.FieldClose, false,
	)
}

func TestDetectorPullbackReclaim(t *testing.T) {
	s := pullbackSeries(t, 110, 110, 103, 106)
	d := newPullbackDetector()

	if _, ok := d.Evaluate(s.At(0)); ok {
		t.Fatal("entry on bar 0")
	}
	if d.State().Direction != DirectionNone {
		t.Fatal("confirmed without history")
	}
	if _, ok := d.Evaluate(s.At(1)); ok {
		t.Fatal("entry on the confirming bar")
	}
	if st := d.State(); st.Direction != DirectionBullish || !st.Armed {
		t.Fatalf("state after confirmation = %+v", st)
	}
	d.Evaluate(s.At(2))
	if !d.State().PullbackSeen {
		t.Fatal("pullback not recorded")
	}
	dec, ok := d.Evaluate(s.At(3))
	if !ok {
		t.Fatal("reclaim did not fire")
	}
	if dec.Side != domain.OrderSideBuy || dec.Price != 106 || dec.Reference != 100 {
		t.Errorf("decision = %+v", dec)
	}
	if st := d.State(); st != (TrendState{}) {
		t.Errorf("state after entry = %+v, want reset", st)
	}
}

func TestDetectorBreakResets(t *testing.T) {
	s := pullbackSeries(t, 110, 110, 103, 94)
	d := newPullbackDetector()
	for i := 0; i < 4; i++ {
		if _, ok := d.Evaluate(s.At(i)); ok {
			t.Fatalf("bar %d: unexpected entry", i)
		}
	}
	if st := d.State(); st != (TrendState{}) {
		t.Errorf("state after break = %+v, want reset", st)
	}
}

func TestDetectorOrderingBreakInsidePullbackBand(t *testing.T) {
	const n = 23
	closes := make([]float64, n)
	fast := make([]float64, n)
	med := make([]float64, n)
	slow := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 20 + float64(i)
		fast[i] = 15 + float64(i)
		med[i] = 12 + float64(i)
		slow[i] = 10 + float64(i)
	}
	// Bar 21 closes between fast (36) and slow (31) while medium sits under slow.
	closes[21] = 33
	med[21] = 30
	s := feed.NewSeries("TEST", testBars(closes...))
	mustReading(t, s, "fast", fast)
	mustReading(t, s, "medium", med)
	mustReading(t, s, "slow", slow)
	d := NewDetector(
		StackedTrend{Fast: "fast", Medium: "medium", Slow: "slow", Window: 1},
		PullbackReclaim{Fast: "fast", Medium: "medium", Slow: "slow"},
		domain.FieldClose, false,
	)
	for i := 0; i <= 20; i++ {
		d.Evaluate(s.At(i))
	}
	if st := d.State(); st.Direction != DirectionBullish || !st.Armed {
		t.Fatalf("state at bar 20 = %+v, want armed bullish", st)
	}
	if _, ok := d.Evaluate(s.At(21)); ok {
		t.Fatal("entry on a bar with broken ordering")
	}
	if st := d.State(); st != (TrendState{}) {
		t.Errorf("state after ordering break = %+v, want reset", st)
	}
}

func TestDetectorReclaimNeedsPullback(t *testing.T) {
	s := pullbackSeries(t, 110, 110, 106, 107)
	d := newPullbackDetector()
	for i := 0; i < 4; i++ {
		if _, ok := d.Evaluate(s.At(i)); ok {
			t.Fatalf("bar %d: entry without a pullback", i)
		}
	}
	if st := d.State(); st.Direction != DirectionBullish || st.PullbackSeen {
		t.Errorf("state = %+v, want armed bullish without pullback", st)
	}
}

func TestPullbackReclaimBearish(t *testing.T) {
	s := feed.NewSeries("TEST", testBars(97, 94, 106))
	mustReading(t, s, "fast", constant(3, 95))
	mustReading(t, s, "medium", constant(3, 100))
	mustReading(t, s, "slow", constant(3, 105))
	p := PullbackReclaim{Fast: "fast", Medium: "medium", Slow: "slow"}

	want := []Pattern{PatternPullback, PatternReclaim, PatternBroken}
	for i, w := range want {
		if got := p.Classify(s.At(i), DirectionBearish).Pattern; got != w {
			t.Errorf("bar %d: pattern = %v, want %v", i, got, w)
		}
	}
}

func TestOscillatorRebound(t *testing.T) {
	s := feed.NewSeries("TEST", testBars(110, 110, 110, 110, 90))
	mustReading(t, s, "k", []float64{15, 30, 30, 50, 10})
	mustReading(t, s, "d", []float64{18, 25, 25, 40, 10})
	mustReading(t, s, "macd", []float64{0, 1, -1, 1, 0})
	mustReading(t, s, "signal", []float64{0, 0, 0, 0, 0})
	mustReading(t, s, "trend", constant(5, 100))
	o := OscillatorRebound{K: "k", D: "d", Momentum: "macd", Signal: "signal", Trend: "trend", Lower: 20, Upper: 80}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		bar  int
		want Pattern
	}{
		{0, PatternPullback},
		{1, PatternReclaim},
		{2, PatternNeutral}, // momentum below signal
		{3, PatternReclaim},
		{4, PatternBroken}, // close under the trend average
	}
	for _, tt := range tests {
		cl := o.Classify(s.At(tt.bar), DirectionBullish)
		if cl.Pattern != tt.want {
			t.Errorf("bar %d: pattern = %v, want %v", tt.bar, cl.Pattern, tt.want)
		}
		if tt.want != PatternBroken && cl.Reference != 100 {
			t.Errorf("bar %d: reference = %v, want 100", tt.bar, cl.Reference)
		}
	}
}

func TestOscillatorReboundValidate(t *testing.T) {
	bad := []OscillatorRebound{
		{D: "d", Lower: 20, Upper: 80},
		{K: "k", D: "d", Momentum: "macd", Lower: 20, Upper: 80},
		{K: "k", D: "d", Lower: 80, Upper: 20},
	}
	for i, o := range bad {
		if err := o.Validate(); !IsConfigError(err) {
			t.Errorf("case %d: Validate = %v, want ConfigError", i, err)
		}
	}
}
