package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trendline/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for backtesting a single
// instrument. Market orders queue until the next call to ProcessBar and fill
// at that bar's open. A buy whose cost exceeds available cash is reported
// with status Margin.
type SimulatorBroker struct {
	mu         sync.Mutex
	symbol     string
	cash       float64
	position   domain.Position
	orders     map[string]*domain.Order
	queue      []string
	lastPrice  float64
	now        time.Time
	commission CommissionScheme
	notify     NotifyFunc
}

// SimulatorOption configures a SimulatorBroker.
type SimulatorOption func(*SimulatorBroker)

// WithCommission sets the commission scheme. The default charges nothing.
func WithCommission(c CommissionScheme) SimulatorOption {
	return func(b *SimulatorBroker) { b.commission = c }
}

// NewSimulatorBroker creates a SimulatorBroker for symbol holding cash and no
// position.
func NewSimulatorBroker(symbol string, cash float64, opts ...SimulatorOption) *SimulatorBroker {
	b := &SimulatorBroker{
		symbol:     symbol,
		cash:       cash,
		position:   domain.Position{Symbol: symbol},
		orders:     make(map[string]*domain.Order),
		commission: PercentCommission(0),
		notify:     func(domain.OrderUpdate) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Subscribe registers the receiver for order notifications.
func (b *SimulatorBroker) Subscribe(fn NotifyFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = fn
}

// SubmitOrder records the order and queues it for execution on the next bar.
// Invalid orders are rejected through the notification channel rather than
// with an error, the way a real broker reports them.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, fmt.Errorf("nil order")
	}

	b.mu.Lock()
	o := *order
	o.ID = uuid.NewString()
	o.Type = domain.OrderTypeMarket
	o.CreatedAt = b.now
	o.UpdatedAt = b.now
	b.orders[o.ID] = &o

	var updates []domain.OrderUpdate
	if o.Qty <= 0 || (o.Side != domain.OrderSideBuy && o.Side != domain.OrderSideSell) || (o.Symbol != "" && o.Symbol != b.symbol) {
		o.Status = domain.OrderStatusRejected
		updates = append(updates, b.update(&o))
	} else {
		o.Status = domain.OrderStatusSubmitted
		updates = append(updates, b.update(&o))
		o.Status = domain.OrderStatusAccepted
		updates = append(updates, b.update(&o))
		b.queue = append(b.queue, o.ID)
	}
	placed := o
	notify := b.notify
	b.mu.Unlock()

	for _, u := range updates {
		notify(u)
	}
	return &placed, nil
}

// CancelOrder cancels a queued order.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
	}
	if o.Status.Terminal() {
		b.mu.Unlock()
		return fmt.Errorf("cancel %s (%s): %w", orderID, o.Status, ErrNotCancelable)
	}
	for i, id := range b.queue {
		if id == orderID {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			break
		}
	}
	o.Status = domain.OrderStatusCanceled
	o.UpdatedAt = b.now
	u := b.update(o)
	notify := b.notify
	b.mu.Unlock()

	notify(u)
	return nil
}

// GetPosition returns the simulated position for symbol.
func (b *SimulatorBroker) GetPosition(_ context.Context, symbol string) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if symbol != b.symbol {
		return domain.Position{Symbol: symbol}, nil
	}
	return b.position, nil
}

// GetAccount returns the simulated account, marking the position to the last
// processed close.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &domain.AccountInfo{
		Equity:      b.equity(),
		Cash:        b.cash,
		BuyingPower: b.cash,
	}, nil
}

// Value returns cash plus the position marked at the last close.
func (b *SimulatorBroker) Value() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equity()
}

// Order returns a copy of the order with the given ID.
func (b *SimulatorBroker) Order(id string) (domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// ProcessBar executes every queued order at the bar's open, then marks the
// account to the bar's close. Notifications are delivered after the state
// change, outside the lock.
func (b *SimulatorBroker) ProcessBar(bar domain.Bar) {
	b.mu.Lock()
	b.now = bar.Timestamp
	var updates []domain.OrderUpdate
	for _, id := range b.queue {
		o := b.orders[id]
		b.execute(o, bar.Open)
		updates = append(updates, b.update(o))
	}
	b.queue = b.queue[:0]
	b.lastPrice = bar.Close
	notify := b.notify
	b.mu.Unlock()

	for _, u := range updates {
		notify(u)
	}
}

// execute fills o at price or marks it Margin. Must be called with mu held.
func (b *SimulatorBroker) execute(o *domain.Order, price float64) {
	o.UpdatedAt = b.now
	if price <= 0 {
		o.Status = domain.OrderStatusRejected
		return
	}

	value := price * float64(o.Qty)
	comm := b.commission.Commission(o.Qty, price)

	switch o.Side {
	case domain.OrderSideBuy:
		if value+comm > b.cash {
			o.Status = domain.OrderStatusMargin
			return
		}
		b.cash -= value + comm
	case domain.OrderSideSell:
		if comm > b.cash+value {
			o.Status = domain.OrderStatusMargin
			return
		}
		b.cash += value - comm
	}

	b.applyFill(o.Side, o.Qty, price, comm)
	o.Status = domain.OrderStatusCompleted
	o.FilledQty = o.Qty
	o.FilledAvgPrice = price
	o.Commission = comm
}

// applyFill updates the position after a fill. Must be called with mu held.
func (b *SimulatorBroker) applyFill(side domain.OrderSide, qty int64, price, comm float64) {
	p := &b.position
	delta := side.Sign() * qty
	next := p.Qty + delta

	switch {
	case p.Qty == 0:
		p.EntryPrice = price
		p.EntryCommission = comm
		p.OpenedAt = b.now
	case (p.Qty > 0) == (delta > 0):
		p.EntryPrice = (p.EntryPrice*float64(abs(p.Qty)) + price*float64(qty)) / float64(abs(next))
		p.EntryCommission += comm
	case next != 0 && (next > 0) != (p.Qty > 0):
		// Flipped through zero: the remainder opens at this price.
		p.EntryPrice = price
		p.EntryCommission = comm
		p.OpenedAt = b.now
	}

	p.Qty = next
	switch {
	case next > 0:
		p.Side = domain.PositionSideLong
	case next < 0:
		p.Side = domain.PositionSideShort
	default:
		*p = domain.Position{Symbol: b.symbol}
	}
}

func (b *SimulatorBroker) equity() float64 {
	return b.cash + float64(b.position.Qty)*b.lastPrice
}

func (b *SimulatorBroker) update(o *domain.Order) domain.OrderUpdate {
	u := domain.OrderUpdate{
		OrderID: o.ID,
		Side:    o.Side,
		Status:  o.Status,
		Time:    b.now,
	}
	if o.Status == domain.OrderStatusCompleted {
		u.ExecutedPrice = o.FilledAvgPrice
		u.ExecutedSize = o.FilledQty
		u.Commission = o.Commission
	}
	return u
}
