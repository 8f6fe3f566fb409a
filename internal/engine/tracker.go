package engine

import (
	"fmt"

	"trendline/internal/domain"
)

// TrackerState is the state of the OrderTracker.
type TrackerState int

const (
	NoOrder TrackerState = iota
	Pending
	Filled
	Rejected
)

func (s TrackerState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Filled:
		return "filled"
	case Rejected:
		return "rejected"
	}
	return "no_order"
}

// OrderTracker enforces that at most one order is outstanding.
//
//	NoOrder -> Pending(side) -> Filled(side) | Rejected -> NoOrder
//
// Filled and Rejected are transient: the engine consumes the outcome and
// calls Settle to return to NoOrder.
type OrderTracker struct {
	state   TrackerState
	orderID string
	side    domain.OrderSide
}

// State returns the current state.
func (t *OrderTracker) State() TrackerState { return t.state }

// Idle reports whether a new order may be started.
func (t *OrderTracker) Idle() bool { return t.state == NoOrder }

// OrderID returns the tracked order, or "" when idle.
func (t *OrderTracker) OrderID() string { return t.orderID }

// Side returns the side of the tracked order.
func (t *OrderTracker) Side() domain.OrderSide { return t.side }

// Begin moves to Pending for a just-submitted order.
func (t *OrderTracker) Begin(orderID string, side domain.OrderSide) error {
	if t.state != NoOrder {
		return fmt.Errorf("%w: %s", ErrOrderOutstanding, t.orderID)
	}
	t.state = Pending
	t.orderID = orderID
	t.side = side
	return nil
}

// Apply feeds one notification into the state machine and returns the new
// state. Submitted and Accepted leave it Pending.
func (t *OrderTracker) Apply(u domain.OrderUpdate) (TrackerState, error) {
	if t.state != Pending || u.OrderID != t.orderID {
		return t.state, fmt.Errorf("%w: %s", ErrUnknownOrder, u.OrderID)
	}
	switch u.Status {
	case domain.OrderStatusSubmitted, domain.OrderStatusAccepted:
	case domain.OrderStatusCompleted:
		t.state = Filled
	case domain.OrderStatusCanceled, domain.OrderStatusMargin, domain.OrderStatusRejected:
		t.state = Rejected
	default:
		return t.state, fmt.Errorf("unexpected order status %q", u.Status)
	}
	return t.state, nil
}

// Settle returns a Filled or Rejected tracker to NoOrder.
func (t *OrderTracker) Settle() {
	if t.state == Filled || t.state == Rejected {
		*t = OrderTracker{}
	}
}
