package strategy

import (
	"fmt"

	"trendline/internal/broker"
	"trendline/internal/config"
	"trendline/internal/domain"
	"trendline/internal/engine"
	"trendline/internal/feed"
	"trendline/internal/indicator"
)

// ComputeIndicators evaluates every configured indicator over the series and
// registers the results as readings.
func ComputeIndicators(series *feed.Series, inds []config.Indicator) error {
	for _, ind := range inds {
		src, err := parseField(ind.Source)
		if err != nil {
			return fmt.Errorf("indicator %s: %w", ind.ID, err)
		}
		out, err := compute(series, ind, src)
		if err != nil {
			return fmt.Errorf("indicator %s: %w", ind.ID, err)
		}
		for id, values := range out {
			if err := series.AddReading(id, values); err != nil {
				return err
			}
		}
	}
	return nil
}

func compute(series *feed.Series, ind config.Indicator, src domain.Field) (map[string][]float64, error) {
	positive := func(name string, v int) error {
		if v <= 0 {
			return &engine.ConfigError{Field: "indicators." + ind.ID + "." + name, Reason: fmt.Sprintf("must be positive, got %d", v)}
		}
		return nil
	}

	switch ind.Kind {
	case "ema", "sma":
		if err := positive("period", ind.Period); err != nil {
			return nil, err
		}
		in := series.Column(src)
		if ind.Kind == "ema" {
			return map[string][]float64{ind.ID: indicator.EMA(in, ind.Period)}, nil
		}
		return map[string][]float64{ind.ID: indicator.SMA(in, ind.Period)}, nil

	case "stochastic":
		pd, sd := orDefault(ind.PeriodD, 3), orDefault(ind.SmoothD, 3)
		for name, v := range map[string]int{"period": ind.Period, "period_d": pd, "smooth_d": sd} {
			if err := positive(name, v); err != nil {
				return nil, err
			}
		}
		st := indicator.NewStochastic(series.Column(domain.FieldHigh), series.Column(domain.FieldLow),
			series.Column(domain.FieldClose), ind.Period, pd, sd)
		return map[string][]float64{ind.ID + ".k": st.K, ind.ID + ".d": st.D}, nil

	case "macd":
		fast, slow, sig := orDefault(ind.Fast, 12), orDefault(ind.Slow, 26), orDefault(ind.Signal, 9)
		if fast >= slow {
			return nil, &engine.ConfigError{Field: "indicators." + ind.ID, Reason: fmt.Sprintf("fast %d must be below slow %d", fast, slow)}
		}
		for name, v := range map[string]int{"fast": fast, "signal": sig} {
			if err := positive(name, v); err != nil {
				return nil, err
			}
		}
		m := indicator.NewMACD(series.Column(src), fast, slow, sig)
		return map[string][]float64{
			ind.ID + ".line":   m.Line,
			ind.ID + ".signal": m.Signal,
			ind.ID + ".hist":   m.Histogram,
		}, nil
	}
	return nil, fmt.Errorf("unknown indicator kind %q", ind.Kind)
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func parseField(s string) (domain.Field, error) {
	if s == "" {
		return domain.FieldClose, nil
	}
	f := domain.Field(s)
	if _, ok := (domain.Bar{}).Value(f); !ok {
		return "", fmt.Errorf("unknown bar field %q", s)
	}
	return f, nil
}

// Policies converts a strategy configuration into engine policies.
func Policies(s config.Strategy) (engine.Policies, error) {
	var p engine.Policies
	price, err := parseField(s.PriceField)
	if err != nil {
		return p, &engine.ConfigError{Field: "price_field", Reason: err.Error()}
	}

	switch c := s.Confirm; c.Kind {
	case "stacked":
		p.Confirm = engine.StackedTrend{
			Fast: c.Fast, Medium: c.Medium, Slow: c.Slow, Window: c.Window,
			Rising: c.Rising, PriceBeyondFast: c.PriceBeyondFast,
			MomentumSteps: c.MomentumSteps, MomentumStride: c.MomentumStride,
			PriceField: price,
		}
	case "above":
		p.Confirm = engine.AboveAverage{Average: c.Average, Window: c.Window, PriceField: price}
	default:
		return p, &engine.ConfigError{Field: "confirm.kind", Reason: fmt.Sprintf("unknown %q", c.Kind)}
	}

	switch t := s.Trigger; t.Kind {
	case "pullback":
		p.Trigger = engine.PullbackReclaim{Fast: t.Fast, Medium: t.Medium, Slow: t.Slow, PriceField: price}
	case "oscillator":
		p.Trigger = engine.OscillatorRebound{
			K: t.K, D: t.D, Momentum: t.Momentum, Signal: t.Signal, Trend: t.Trend,
			Lower: t.Lower, Upper: t.Upper, PriceField: price,
		}
	default:
		return p, &engine.ConfigError{Field: "trigger.kind", Reason: fmt.Sprintf("unknown %q", t.Kind)}
	}

	switch st := s.Stop; st.Kind {
	case "extreme":
		var f domain.Field
		if st.Field != "" {
			if f, err = parseField(st.Field); err != nil {
				return p, &engine.ConfigError{Field: "stop.field", Reason: err.Error()}
			}
		}
		p.Stop = engine.ExtremeStop{Lookback: st.Lookback, Field: f}
	case "indicator":
		p.Stop = engine.IndicatorStop{ID: st.Indicator}
	default:
		return p, &engine.ConfigError{Field: "stop.kind", Reason: fmt.Sprintf("unknown %q", st.Kind)}
	}

	switch b := s.Budget; b.Kind {
	case "fixed", "":
		p.Budget = engine.FixedBudget{}
	case "fraction":
		p.Budget = engine.CashFraction{Fraction: b.Fraction, AddStarting: b.AddStarting, MarkToMarket: b.MarkToMarket}
	case "reinvest":
		p.Budget = engine.Reinvest{}
	case "compound":
		p.Budget = engine.Compound{}
	default:
		return p, &engine.ConfigError{Field: "budget.kind", Reason: fmt.Sprintf("unknown %q", b.Kind)}
	}
	return p, nil
}

// Build computes the strategy's indicators over series and returns an engine
// trading symbol through b. A zero StartingBudget uses cash.
func Build(s config.Strategy, series *feed.Series, b broker.Broker, cash float64, opts ...engine.Option) (*engine.Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := ComputeIndicators(series, s.Indicators); err != nil {
		return nil, err
	}
	p, err := Policies(s)
	if err != nil {
		return nil, err
	}
	price, _ := parseField(s.PriceField)
	budget := s.StartingBudget
	if budget == 0 {
		budget = cash
	}
	cfg := engine.Config{
		Symbol:         series.Symbol(),
		AllowShort:     s.AllowShort,
		StartingBudget: budget,
		RiskMultiple:   s.RiskMultiple,
		MaxDuration:    s.MaxDuration,
		PricePrecision: s.PricePrecision,
		PriceField:     price,
	}
	return engine.New(cfg, p, b, opts...)
}
