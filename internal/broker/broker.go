// Package broker defines the Broker interface used by the decision engine to
// request orders and read account state, and provides a simulator for
// backtesting.
package broker

import (
	"context"
	"errors"

	"trendline/internal/domain"
)

var (
	// ErrOrderNotFound is returned when an order ID is unknown to the broker.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotCancelable is returned when cancelling an order that already
	// reached a terminal status.
	ErrNotCancelable = errors.New("order is not cancelable")
)

// Broker abstracts brokerage operations for order execution and account state.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// SubmitOrder sends an order to the brokerage. The returned order carries
	// the broker-assigned ID. Status changes are delivered asynchronously to
	// the NotifyFunc registered with the broker.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetPosition returns the current position in symbol. A flat position
	// has Qty 0.
	GetPosition(ctx context.Context, symbol string) (domain.Position, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}

// NotifyFunc receives order-status notifications. Notifications for one
// order arrive in issuance order with exactly one terminal status.
type NotifyFunc func(domain.OrderUpdate)
