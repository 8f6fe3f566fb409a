package engine

import "math"

// BudgetInput is the account snapshot a BudgetPolicy sees when a closing
// order is sized.
type BudgetInput struct {
	Starting      float64
	Current       float64
	Cash          float64
	PositionValue float64
}

// BudgetPolicy recomputes max_trade_value for the next entry.
type BudgetPolicy interface {
	Next(in BudgetInput) float64
	Validate() error
}

// FixedBudget keeps the starting budget for every trade.
type FixedBudget struct{}

func (FixedBudget) Next(in BudgetInput) float64 { return in.Starting }
func (FixedBudget) Validate() error             { return nil }

// CashFraction budgets a fraction of cash. AddStarting adds the starting
// amount to cash before the fraction is taken; MarkToMarket adds the value of
// the position being closed.
type CashFraction struct {
	Fraction     float64
	AddStarting  bool
	MarkToMarket bool
}

func (c CashFraction) Next(in BudgetInput) float64 {
	base := in.Cash
	if c.AddStarting {
		base += in.Starting
	}
	if c.MarkToMarket {
		base += in.PositionValue
	}
	return base * c.Fraction
}

func (c CashFraction) Validate() error {
	if c.Fraction <= 0 || c.Fraction > 1 {
		return configErr("budget.fraction", "must be in (0, 1], got %v", c.Fraction)
	}
	return nil
}

// Reinvest budgets the starting amount plus the cash on hand before the
// closing proceeds arrive.
type Reinvest struct{}

func (Reinvest) Next(in BudgetInput) float64 { return in.Starting + in.Cash }
func (Reinvest) Validate() error             { return nil }

// Compound budgets the full marked-to-market account value.
type Compound struct{}

func (Compound) Next(in BudgetInput) float64 { return in.Cash + in.PositionValue }
func (Compound) Validate() error             { return nil }

// Sizer converts cash and price into share quantities. Its budget is the
// only state carried from one trade to the next and belongs to a single
// engine.
type Sizer struct {
	policy   BudgetPolicy
	starting float64
	budget   float64
}

// NewSizer returns a Sizer whose first budget is starting.
func NewSizer(policy BudgetPolicy, starting float64) (*Sizer, error) {
	if policy == nil {
		policy = FixedBudget{}
	}
	if starting <= 0 || math.IsNaN(starting) || math.IsInf(starting, 0) {
		return nil, configErr("starting_budget", "must be positive, got %v", starting)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Sizer{policy: policy, starting: starting, budget: starting}, nil
}

// Budget returns the current max_trade_value.
func (s *Sizer) Budget() float64 { return s.budget }

// EntrySize returns floor(budget/price) capped by floor(cash/price), or 0
// when no whole share is affordable.
func (s *Sizer) EntrySize(cash, price float64) int64 {
	if price <= 0 || cash <= 0 || s.budget <= 0 {
		return 0
	}
	size := math.Floor(s.budget / price)
	if limit := math.Floor(cash / price); limit < size {
		size = limit
	}
	if size < 1 {
		return 0
	}
	return int64(size)
}

// ExitSize returns the whole position and recomputes the budget for the
// next entry. The recomputation also runs with no position, and repeated
// calls against an unchanged account yield the same budget.
func (s *Sizer) ExitSize(cash, price float64, position int64) int64 {
	s.budget = s.policy.Next(BudgetInput{
		Starting:      s.starting,
		Current:       s.budget,
		Cash:          cash,
		PositionValue: float64(position) * price,
	})
	if position < 0 {
		return -position
	}
	return position
}
