package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPreset is applied when no strategy section is given.
const DefaultPreset = "triple-ema"

// Strategy describes one engine configuration: the indicators it reads and
// the policies it is assembled from.
type Strategy struct {
	Preset         string      `yaml:"preset"`
	AllowShort     bool        `yaml:"allow_short"`
	StartingBudget float64     `yaml:"starting_budget"` // 0 means the backtest cash
	RiskMultiple   float64     `yaml:"risk_multiple"`
	MaxDuration    int         `yaml:"max_duration"`
	PricePrecision int32       `yaml:"price_precision"`
	PriceField     string      `yaml:"price_field"`
	Indicators     []Indicator `yaml:"indicators"`
	Confirm        Confirm     `yaml:"confirm"`
	Trigger        Trigger     `yaml:"trigger"`
	Stop           Stop        `yaml:"stop"`
	Budget         Budget      `yaml:"budget"`
}

// Indicator is one computed series. Stochastic registers <id>.k and <id>.d;
// MACD registers <id>.line, <id>.signal and <id>.hist.
type Indicator struct {
	ID      string `yaml:"id"`
	Kind    string `yaml:"kind"` // ema, sma, stochastic, macd
	Period  int    `yaml:"period"`
	Source  string `yaml:"source"`
	PeriodD int    `yaml:"period_d"`
	SmoothD int    `yaml:"smooth_d"`
	Fast    int    `yaml:"fast"`
	Slow    int    `yaml:"slow"`
	Signal  int    `yaml:"signal"`
}

// Confirm configures the trend confirmation predicate.
type Confirm struct {
	Kind            string `yaml:"kind"` // stacked, above
	Fast            string `yaml:"fast"`
	Medium          string `yaml:"medium"`
	Slow            string `yaml:"slow"`
	Average         string `yaml:"average"`
	Window          int    `yaml:"window"`
	Rising          bool   `yaml:"rising"`
	PriceBeyondFast bool   `yaml:"price_beyond_fast"`
	MomentumSteps   int    `yaml:"momentum_steps"`
	MomentumStride  int    `yaml:"momentum_stride"`
}

// Trigger configures the entry trigger.
type Trigger struct {
	Kind     string  `yaml:"kind"` // pullback, oscillator
	Fast     string  `yaml:"fast"`
	Medium   string  `yaml:"medium"`
	Slow     string  `yaml:"slow"`
	K        string  `yaml:"k"`
	D        string  `yaml:"d"`
	Momentum string  `yaml:"momentum"`
	Signal   string  `yaml:"signal"`
	Trend    string  `yaml:"trend"`
	Lower    float64 `yaml:"lower"`
	Upper    float64 `yaml:"upper"`
}

// Stop configures the stop-loss policy.
type Stop struct {
	Kind      string `yaml:"kind"` // extreme, indicator
	Lookback  int    `yaml:"lookback"`
	Field     string `yaml:"field"`
	Indicator string `yaml:"indicator"`
}

// Budget configures the sizing budget policy.
type Budget struct {
	Kind         string  `yaml:"kind"` // fixed, fraction, reinvest, compound
	Fraction     float64 `yaml:"fraction"`
	AddStarting  bool    `yaml:"add_starting"`
	MarkToMarket bool    `yaml:"mark_to_market"` // add the closing position's value to cash
}

// Validate checks that every policy kind is known and that indicator IDs are
// unique.
func (s Strategy) Validate() error {
	seen := make(map[string]bool, len(s.Indicators))
	for i, ind := range s.Indicators {
		if ind.ID == "" {
			return fmt.Errorf("strategy.indicators[%d]: id is required", i)
		}
		if seen[ind.ID] {
			return fmt.Errorf("strategy.indicators[%d]: duplicate id %q", i, ind.ID)
		}
		seen[ind.ID] = true
		switch ind.Kind {
		case "ema", "sma", "stochastic", "macd":
		default:
			return fmt.Errorf("strategy.indicators[%d]: unknown kind %q", i, ind.Kind)
		}
	}
	if !oneOf(s.Confirm.Kind, "stacked", "above") {
		return fmt.Errorf("strategy.confirm.kind: unknown %q", s.Confirm.Kind)
	}
	if !oneOf(s.Trigger.Kind, "pullback", "oscillator") {
		return fmt.Errorf("strategy.trigger.kind: unknown %q", s.Trigger.Kind)
	}
	if !oneOf(s.Stop.Kind, "extreme", "indicator") {
		return fmt.Errorf("strategy.stop.kind: unknown %q", s.Stop.Kind)
	}
	if !oneOf(s.Budget.Kind, "fixed", "fraction", "reinvest", "compound") {
		return fmt.Errorf("strategy.budget.kind: unknown %q", s.Budget.Kind)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// Overlay returns the preset named by preset (or base when preset is empty)
// with overrides applied on top. Overrides use the same keys as the YAML
// strategy section; lists replace rather than merge.
func Overlay(base Strategy, preset string, overrides map[string]any) (Strategy, error) {
	out := base
	if preset != "" {
		p, ok := Preset(preset)
		if !ok {
			return Strategy{}, fmt.Errorf("unknown strategy preset %q", preset)
		}
		out = p
	}
	if len(overrides) > 0 {
		data, err := yaml.Marshal(overrides)
		if err != nil {
			return Strategy{}, fmt.Errorf("encode overrides: %w", err)
		}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return Strategy{}, fmt.Errorf("apply overrides: %w", err)
		}
	}
	if err := out.Validate(); err != nil {
		return Strategy{}, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Presets
// ---------------------------------------------------------------------------

var presets = map[string]func() Strategy{
	"triple-ema":      tripleEMA,
	"scalping":        scalping,
	"stochastic-macd": stochasticMACD,
}

// Preset returns a fresh copy of a built-in strategy.
func Preset(name string) (Strategy, bool) {
	fn, ok := presets[name]
	if !ok {
		return Strategy{}, false
	}
	return fn(), true
}

// PresetNames lists the built-in strategies in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func ema(id string, period int) Indicator {
	return Indicator{ID: id, Kind: "ema", Period: period}
}

// tripleEMA is the generic stacked-average engine: confirmation over 15 bars
// with price above the fast line, pullback-reclaim entry, stop at the lowest
// low (highest high for shorts) of the last 15 bars.
func tripleEMA() Strategy {
	return Strategy{
		Preset:         "triple-ema",
		RiskMultiple:   2,
		MaxDuration:    30,
		PricePrecision: 2,
		PriceField:     "close",
		Indicators:     []Indicator{ema("fast", 10), ema("medium", 20), ema("slow", 50)},
		Confirm: Confirm{
			Kind: "stacked", Fast: "fast", Medium: "medium", Slow: "slow",
			Window: 15, Rising: true, PriceBeyondFast: true,
		},
		Trigger: Trigger{Kind: "pullback", Fast: "fast", Medium: "medium", Slow: "slow"},
		Stop:    Stop{Kind: "extreme", Lookback: 15},
		Budget:  Budget{Kind: "reinvest"},
	}
}

// scalping uses EMA 25/50/100 rising and stacked for 15 bars plus three
// five-bar steps of rising closes. The stop is the 50 EMA at entry.
func scalping() Strategy {
	return Strategy{
		Preset:         "scalping",
		RiskMultiple:   1.5,
		MaxDuration:    252,
		PricePrecision: 2,
		PriceField:     "close",
		Indicators:     []Indicator{ema("ema25", 25), ema("ema50", 50), ema("ema100", 100)},
		Confirm: Confirm{
			Kind: "stacked", Fast: "ema25", Medium: "ema50", Slow: "ema100",
			Window: 15, Rising: true, MomentumSteps: 3, MomentumStride: 5,
		},
		Trigger: Trigger{Kind: "pullback", Fast: "ema25", Medium: "ema50", Slow: "ema100"},
		Stop:    Stop{Kind: "indicator", Indicator: "ema50"},
		Budget:  Budget{Kind: "compound"},
	}
}

// stochasticMACD trades both sides of the 200 EMA: oversold/overbought
// stochastic rebounds gated by MACD, stop at the extreme close of the last
// 15 bars, 2R target, 30 bar timeout.
func stochasticMACD() Strategy {
	return Strategy{
		Preset:         "stochastic-macd",
		AllowShort:     true,
		RiskMultiple:   2,
		MaxDuration:    30,
		PricePrecision: 2,
		PriceField:     "close",
		Indicators: []Indicator{
			ema("ema200", 200),
			{ID: "stoch", Kind: "stochastic", Period: 14, PeriodD: 3, SmoothD: 3},
			{ID: "macd", Kind: "macd", Fast: 12, Slow: 26, Signal: 9},
		},
		Confirm: Confirm{Kind: "above", Average: "ema200", Window: 15},
		Trigger: Trigger{
			Kind: "oscillator", K: "stoch.k", D: "stoch.d",
			Momentum: "macd.line", Signal: "macd.signal", Trend: "ema200",
			Lower: 20, Upper: 80,
		},
		Stop:   Stop{Kind: "extreme", Lookback: 14, Field: "close"},
		Budget: Budget{Kind: "fraction", Fraction: 1, MarkToMarket: true},
	}
}

// ParseOverrides turns key=value pairs into an overrides map for Overlay.
// Dotted keys address nested sections (stop.lookback=20) and values are
// parsed as YAML scalars, so numbers and booleans keep their types.
func ParseOverrides(pairs []string) (map[string]any, error) {
	out := make(map[string]any)
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("override %q: want key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("override %q: %w", pair, err)
		}
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	return out, nil
}
