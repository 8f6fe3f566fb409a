package engine

import "trendline/internal/domain"

// PullbackReclaim classifies bars against three stacked averages. In a
// bullish trend:
//
//   - fast > medium > slow must hold on every bar or the structure breaks;
//   - price at or below fast but above slow is a pullback;
//   - price above fast is a reclaim;
//   - price at or below slow breaks the structure.
//
// Bearish trends use the mirror image. Reference is the medium average.
type PullbackReclaim struct {
	Fast, Medium, Slow string
	PriceField         domain.Field
}

// Validate implements Trigger.
func (p PullbackReclaim) Validate() error {
	if p.Fast == "" || p.Medium == "" || p.Slow == "" {
		return configErr("trigger.fast/medium/slow", "pullback trigger needs three indicators")
	}
	return nil
}

// Classify implements Trigger.
func (p PullbackReclaim) Classify(c Cursor, d Direction) Classification {
	price, err := c.Field(priceField(p.PriceField), 0)
	if err != nil {
		return Classification{Pattern: PatternBroken}
	}
	fast, err1 := c.Reading(p.Fast, 0)
	medium, err2 := c.Reading(p.Medium, 0)
	slow, err3 := c.Reading(p.Slow, 0)
	if err1 != nil || err2 != nil || err3 != nil {
		return Classification{Pattern: PatternBroken}
	}

	switch {
	case !ahead(d, fast, medium) || !ahead(d, medium, slow):
		return Classification{Pattern: PatternBroken, Reference: medium}
	case ahead(d, price, fast):
		return Classification{Pattern: PatternReclaim, Reference: medium}
	case ahead(d, price, slow):
		return Classification{Pattern: PatternPullback, Reference: medium}
	}
	return Classification{Pattern: PatternBroken, Reference: medium}
}

// OscillatorRebound classifies bars with a %K/%D oscillator gated by a
// momentum line. In a bullish trend both oscillator lines at or below Lower
// mark a pullback (oversold); both back above Lower with the momentum line
// at or above its signal is a reclaim. Bearish trends use Upper. When Trend
// is set, price crossing to the wrong side of that average breaks the setup.
// Reference is the Trend reading, or price when Trend is empty.
type OscillatorRebound struct {
	K, D         string
	Momentum     string
	Signal       string
	Trend        string
	Lower, Upper float64
	PriceField   domain.Field
}

// Validate implements Trigger.
func (o OscillatorRebound) Validate() error {
	if o.K == "" || o.D == "" {
		return configErr("trigger.k/d", "oscillator trigger needs %%K and %%D indicators")
	}
	if (o.Momentum == "") != (o.Signal == "") {
		return configErr("trigger.momentum/signal", "set both or neither")
	}
	if !(o.Lower < o.Upper) {
		return configErr("trigger.lower/upper", "lower %v must be below upper %v", o.Lower, o.Upper)
	}
	return nil
}

// Classify implements Trigger.
func (o OscillatorRebound) Classify(c Cursor, d Direction) Classification {
	price, err := c.Field(priceField(o.PriceField), 0)
	if err != nil {
		return Classification{Pattern: PatternBroken}
	}
	ref := price
	if o.Trend != "" {
		trend, err := c.Reading(o.Trend, 0)
		if err != nil || !ahead(d, price, trend) {
			return Classification{Pattern: PatternBroken}
		}
		ref = trend
	}

	k, err1 := c.Reading(o.K, 0)
	dv, err2 := c.Reading(o.D, 0)
	if err1 != nil || err2 != nil {
		return Classification{Pattern: PatternNeutral, Reference: ref}
	}

	threshold := o.Lower
	if d == DirectionBearish {
		threshold = o.Upper
	}
	switch {
	case !ahead(d, k, threshold) && !ahead(d, dv, threshold):
		return Classification{Pattern: PatternPullback, Reference: ref}
	case ahead(d, k, threshold) && ahead(d, dv, threshold):
		if o.momentumAgrees(c, d) {
			return Classification{Pattern: PatternReclaim, Reference: ref}
		}
	}
	return Classification{Pattern: PatternNeutral, Reference: ref}
}

func (o OscillatorRebound) momentumAgrees(c Cursor, d Direction) bool {
	if o.Momentum == "" {
		return true
	}
	line, err := c.Reading(o.Momentum, 0)
	if err != nil {
		return false
	}
	signal, err := c.Reading(o.Signal, 0)
	if err != nil {
		return false
	}
	return !ahead(d, signal, line)
}
