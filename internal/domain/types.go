// Package domain defines the core value types shared across the trendline
// packages: bars, orders, order updates, positions, closed trades and
// engine events.
package domain

import (
	"errors"
	"time"
)

// ErrOutOfHistory is returned by bar and indicator accessors when an offset
// reaches further back than the available history.
var ErrOutOfHistory = errors.New("offset beyond available history")

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Market identifies the market a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketAU Market = "au"
)

// Bar is one sampled period of price and volume for a symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Field names a price or volume attribute of a Bar.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// Value returns the bar attribute named by f. The second return value is
// false for unknown fields.
func (b Bar) Value(f Field) (float64, bool) {
	switch f {
	case FieldOpen:
		return b.Open, true
	case FieldHigh:
		return b.High, true
	case FieldLow:
		return b.Low, true
	case FieldClose:
		return b.Close, true
	case FieldVolume:
		return float64(b.Volume), true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side that closes a position opened by s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusMargin    OrderStatus = "margin"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further updates follow this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCanceled, OrderStatusMargin, OrderStatusRejected:
		return true
	}
	return false
}

// Order is a request to change the position in one symbol.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	Qty            int64
	FilledQty      int64
	FilledAvgPrice float64
	Commission     float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderUpdate is an order-status notification delivered by a broker.
// ExecutedPrice, ExecutedSize and Commission are only set on Completed.
type OrderUpdate struct {
	OrderID       string
	Side          OrderSide
	Status        OrderStatus
	Time          time.Time
	ExecutedPrice float64
	ExecutedSize  int64
	Commission    float64
}

// ---------------------------------------------------------------------------
// Positions and trades
// ---------------------------------------------------------------------------

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// SideOf returns the position side produced by opening with an order side.
func SideOf(s OrderSide) PositionSide {
	if s == OrderSideSell {
		return PositionSideShort
	}
	return PositionSideLong
}

// Position is the current holding in one symbol. Qty is signed: positive for
// long, negative for short.
type Position struct {
	Symbol          string
	Qty             int64
	Side            PositionSide
	EntryPrice      float64
	EntryCommission float64
	OpenedAt        time.Time
}

// Open reports whether the position holds any shares.
func (p Position) Open() bool { return p.Qty != 0 }

// AccountInfo is a snapshot of an account's financial metrics.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitDuration   ExitReason = "max_duration"
)

// Trade is a closed round trip: an opening fill and the fill that flattened it.
type Trade struct {
	Symbol     string
	Side       PositionSide
	Qty        int64
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	GrossPnL   float64
	NetPnL     float64
	Commission float64
	BarsHeld   int
	ExitReason ExitReason
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventKind classifies an engine event.
type EventKind string

const (
	EventBar    EventKind = "bar"
	EventSignal EventKind = "signal"
	EventOrder  EventKind = "order"
	EventTrade  EventKind = "trade"
)

// Event is a structured log entry emitted by the engine on every evaluated
// bar and every order-status transition. Attrs values are restricted to
// string, float64, int64 and bool.
type Event struct {
	Time    time.Time
	Kind    EventKind
	Message string
	Attrs   map[string]any
}
