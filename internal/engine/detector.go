package engine

import "trendline/internal/domain"

// Direction is the trend a TrendState is tracking.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionBullish
	DirectionBearish
)

func (d Direction) String() string {
	switch d {
	case DirectionBullish:
		return "bullish"
	case DirectionBearish:
		return "bearish"
	}
	return "none"
}

// EntrySide returns the order side that opens a position in this direction.
func (d Direction) EntrySide() domain.OrderSide {
	if d == DirectionBearish {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

// TrendState is the detector's progress toward an entry.
type TrendState struct {
	Direction    Direction
	Armed        bool
	PullbackSeen bool
}

// Pattern is a trigger's classification of the current bar.
type Pattern int

const (
	// PatternNeutral leaves the state unchanged.
	PatternNeutral Pattern = iota
	// PatternPullback marks a retreat toward the slower trend line.
	PatternPullback
	// PatternReclaim is a recovery that fires an entry once a pullback was seen.
	PatternReclaim
	// PatternBroken means the confirmed structure no longer holds.
	PatternBroken
)

// Classification is the result of Trigger.Classify. Reference is the
// indicator value reported with an entry, available to stop policies.
type Classification struct {
	Pattern   Pattern
	Reference float64
}

// Confirmer decides whether the trailing window confirms a trend in
// direction d. Any missing history must yield false.
type Confirmer interface {
	Confirm(c Cursor, d Direction) bool
	Validate() error
}

// Trigger classifies the current bar for an armed TrendState.
type Trigger interface {
	Classify(c Cursor, d Direction) Classification
	Validate() error
}

// EntryDecision is emitted by the detector when an entry fires.
type EntryDecision struct {
	Side      domain.OrderSide
	Price     float64
	Reference float64
}

// Detector confirms trend context and watches for the entry trigger. It
// holds the only state that persists between bars on the entry side.
type Detector struct {
	confirm    Confirmer
	trigger    Trigger
	priceField domain.Field
	allowShort bool
	state      TrendState
}

// NewDetector creates a Detector from its policies.
func NewDetector(confirm Confirmer, trigger Trigger, priceField domain.Field, allowShort bool) *Detector {
	return &Detector{
		confirm:    confirm,
		trigger:    trigger,
		priceField: priceField,
		allowShort: allowShort,
	}
}

// State returns the current TrendState.
func (d *Detector) State() TrendState { return d.state }

// Reset returns the detector to DirectionNone.
func (d *Detector) Reset() { d.state = TrendState{} }

// Evaluate advances the state machine by one bar and reports an entry when
// the trigger fires. The bar that confirms a trend never fires on its own.
func (d *Detector) Evaluate(c Cursor) (EntryDecision, bool) {
	if d.state.Direction == DirectionNone {
		switch {
		case d.confirm.Confirm(c, DirectionBullish):
			d.state = TrendState{Direction: DirectionBullish, Armed: true}
		case d.allowShort && d.confirm.Confirm(c, DirectionBearish):
			d.state = TrendState{Direction: DirectionBearish, Armed: true}
		}
		return EntryDecision{}, false
	}

	cl := d.trigger.Classify(c, d.state.Direction)
	switch cl.Pattern {
	case PatternPullback:
		d.state.PullbackSeen = true
	case PatternReclaim:
		if !d.state.PullbackSeen {
			return EntryDecision{}, false
		}
		price, err := c.Field(d.priceField, 0)
		if err != nil {
			d.Reset()
			return EntryDecision{}, false
		}
		dec := EntryDecision{
			Side:      d.state.Direction.EntrySide(),
			Price:     price,
			Reference: cl.Reference,
		}
		d.Reset()
		return dec, true
	case PatternBroken:
		d.Reset()
	}
	return EntryDecision{}, false
}
