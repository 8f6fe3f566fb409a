// Package engine is the per-bar trade decision core: trend confirmation,
// entry triggering, position sizing, risk exits and the single outstanding
// order invariant that coordinates it with broker notifications.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"trendline/internal/broker"
	"trendline/internal/domain"
)

// Config holds the scalar engine parameters.
type Config struct {
	Symbol         string
	AllowShort     bool
	StartingBudget float64
	RiskMultiple   float64
	MaxDuration    int
	// PricePrecision is the number of decimals stop and target levels are
	// rounded to. Negative disables rounding.
	PricePrecision int32
	PriceField     domain.Field
}

// Policies are the replaceable parts of a strategy.
type Policies struct {
	Confirm Confirmer
	Trigger Trigger
	Stop    StopPolicy
	Budget  BudgetPolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder sets the event sink. The default discards events.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithLogger sets the logger used for absorbed per-bar errors.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine evaluates one instrument bar by bar. OnBar must not be called
// concurrently; Notify may be called from any goroutine.
type Engine struct {
	cfg     Config
	broker  broker.Broker
	detect  *Detector
	sizer   *Sizer
	risk    *RiskManager
	tracker OrderTracker
	rec     Recorder
	log     *slog.Logger

	mu    sync.Mutex
	inbox []domain.OrderUpdate

	position      domain.Position
	pendingLevels *RiskLevels
	pendingReason domain.ExitReason
	trades        []domain.Trade
}

// New validates the configuration and builds an Engine. Every error it
// returns for bad parameters is a *ConfigError.
func New(cfg Config, p Policies, b broker.Broker, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(cfg.Symbol) == "" {
		return nil, configErr("symbol", "is required")
	}
	if b == nil {
		return nil, configErr("broker", "is required")
	}
	if p.Confirm == nil {
		return nil, configErr("confirm", "policy is required")
	}
	if p.Trigger == nil {
		return nil, configErr("trigger", "policy is required")
	}
	if err := p.Confirm.Validate(); err != nil {
		return nil, err
	}
	if err := p.Trigger.Validate(); err != nil {
		return nil, err
	}
	if cfg.PriceField == "" {
		cfg.PriceField = domain.FieldClose
	}
	sizer, err := NewSizer(p.Budget, cfg.StartingBudget)
	if err != nil {
		return nil, err
	}
	risk, err := NewRiskManager(p.Stop, cfg.RiskMultiple, cfg.MaxDuration, cfg.PricePrecision)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		broker: b,
		detect: NewDetector(p.Confirm, p.Trigger, cfg.PriceField, cfg.AllowShort),
		sizer:  sizer,
		risk:   risk,
		rec:    RecorderFunc(func(context.Context, domain.Event) {}),
		log:    slog.Default().With("component", "engine"),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("symbol", cfg.Symbol)
	return e, nil
}

// Notify queues a broker notification. Queued notifications are consumed at
// the start of the next OnBar call.
func (e *Engine) Notify(u domain.OrderUpdate) {
	e.mu.Lock()
	e.inbox = append(e.inbox, u)
	e.mu.Unlock()
}

// OnBar runs one evaluation pass and returns the orders it submitted.
func (e *Engine) OnBar(ctx context.Context, c Cursor) []domain.Order {
	e.drain(ctx)

	price, err := c.Field(e.cfg.PriceField, 0)
	if err != nil {
		e.log.Warn("bar has no price", "time", c.Time(), "error", err)
		return nil
	}
	e.record(ctx, domain.Event{
		Time:    c.Time(),
		Kind:    domain.EventBar,
		Message: fmt.Sprintf("Close, %.2f", price),
		Attrs:   map[string]any{"price": price},
	})

	if !e.tracker.Idle() {
		return nil
	}
	if e.position.Open() {
		return e.evaluateExit(ctx, c, price)
	}
	return e.evaluateEntry(ctx, c)
}

func (e *Engine) evaluateExit(ctx context.Context, c Cursor, price float64) []domain.Order {
	reason, exit := e.risk.Step(price)
	if !exit {
		return nil
	}
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.log.Warn("account unavailable", "error", err)
		return nil
	}
	size := e.sizer.ExitSize(acct.Cash, price, e.position.Qty)
	side := domain.OrderSideSell
	if e.position.Qty < 0 {
		side = domain.OrderSideBuy
	}
	o, ok := e.submit(ctx, c, side, size, price)
	if !ok {
		return nil
	}
	e.pendingReason = reason
	return []domain.Order{o}
}

func (e *Engine) evaluateEntry(ctx context.Context, c Cursor) []domain.Order {
	dec, fired := e.detect.Evaluate(c)
	if !fired {
		return nil
	}
	levels, err := e.risk.Plan(c, dec)
	if err != nil {
		e.log.Info("entry skipped", "time", c.Time(), "error", err)
		return nil
	}
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.log.Warn("account unavailable", "error", err)
		return nil
	}
	size := e.sizer.EntrySize(acct.Cash, dec.Price)
	if size <= 0 {
		e.log.Debug("entry skipped", "time", c.Time(), "error",
			fmt.Errorf("%w: cash %.2f budget %.2f price %.2f", ErrInvalidSizing, acct.Cash, e.sizer.Budget(), dec.Price))
		return nil
	}
	o, ok := e.submit(ctx, c, dec.Side, size, dec.Price)
	if !ok {
		return nil
	}
	e.pendingLevels = &levels
	return []domain.Order{o}
}

func (e *Engine) submit(ctx context.Context, c Cursor, side domain.OrderSide, size int64, price float64) (domain.Order, bool) {
	e.record(ctx, domain.Event{
		Time:    c.Time(),
		Kind:    domain.EventSignal,
		Message: fmt.Sprintf("%s CREATE, %.2f", strings.ToUpper(string(side)), price),
		Attrs:   map[string]any{"side": string(side), "size": size, "price": price},
	})
	req := &domain.Order{
		Symbol:    e.cfg.Symbol,
		Side:      side,
		Type:      domain.OrderTypeMarket,
		Qty:       size,
		CreatedAt: c.Time(),
	}
	o, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		e.log.Warn("submit order", "side", side, "size", size, "error", err)
		return domain.Order{}, false
	}
	if err := e.tracker.Begin(o.ID, side); err != nil {
		e.log.Error("order tracker", "error", err)
		return domain.Order{}, false
	}
	return *o, true
}

// drain applies every queued notification in arrival order.
func (e *Engine) drain(ctx context.Context) {
	e.mu.Lock()
	updates := e.inbox
	e.inbox = nil
	e.mu.Unlock()

	for _, u := range updates {
		state, err := e.tracker.Apply(u)
		if err != nil {
			e.log.Warn("notification ignored", "order_id", u.OrderID, "status", u.Status, "error", err)
			continue
		}
		switch state {
		case Pending:
			e.recordOrder(ctx, u, fmt.Sprintf("Order %s", title(string(u.Status))))
		case Filled:
			e.consumeFill(ctx, u)
			e.tracker.Settle()
		case Rejected:
			e.recordOrder(ctx, u, "Order Canceled/Margin/Rejected")
			e.log.Info("order rejected", "order_id", u.OrderID, "error",
				fmt.Errorf("%w: %s", ErrOrderRejected, u.Status))
			e.pendingLevels = nil
			e.pendingReason = ""
			e.tracker.Settle()
		}
	}
}

func (e *Engine) consumeFill(ctx context.Context, u domain.OrderUpdate) {
	e.recordOrder(ctx, u, fmt.Sprintf("%s EXECUTED, Size: %d, Price: %.2f, Cost: %.2f, Comm %.2f",
		strings.ToUpper(string(u.Side)), u.ExecutedSize, u.ExecutedPrice,
		u.ExecutedPrice*float64(u.ExecutedSize), u.Commission))

	if !e.position.Open() {
		e.position = domain.Position{
			Symbol:          e.cfg.Symbol,
			Qty:             u.Side.Sign() * u.ExecutedSize,
			Side:            domain.SideOf(u.Side),
			EntryPrice:      u.ExecutedPrice,
			EntryCommission: u.Commission,
			OpenedAt:        u.Time,
		}
		if e.pendingLevels != nil {
			e.risk.Activate(*e.pendingLevels)
			e.pendingLevels = nil
		}
		return
	}

	pos := e.position
	qty := pos.Qty
	if qty < 0 {
		qty = -qty
	}
	gross := (u.ExecutedPrice - pos.EntryPrice) * float64(pos.Qty)
	comm := pos.EntryCommission + u.Commission
	held := 0
	if l, ok := e.risk.Levels(); ok {
		held = l.BarsHeld
	}
	t := domain.Trade{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Qty:        qty,
		EntryTime:  pos.OpenedAt,
		ExitTime:   u.Time,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  u.ExecutedPrice,
		GrossPnL:   gross,
		NetPnL:     gross - comm,
		Commission: comm,
		BarsHeld:   held,
		ExitReason: e.pendingReason,
	}
	e.trades = append(e.trades, t)

	e.position = domain.Position{}
	e.pendingReason = ""
	e.risk.Clear()
	e.detect.Reset()

	e.record(ctx, domain.Event{
		Time:    u.Time,
		Kind:    domain.EventTrade,
		Message: fmt.Sprintf("OPERATION PROFIT, GROSS %.2f, NET %.2f", t.GrossPnL, t.NetPnL),
		Attrs: map[string]any{
			"side":        string(t.Side),
			"qty":         t.Qty,
			"entry_price": t.EntryPrice,
			"exit_price":  t.ExitPrice,
			"gross":       t.GrossPnL,
			"net":         t.NetPnL,
			"commission":  t.Commission,
			"bars_held":   int64(t.BarsHeld),
			"exit_reason": string(t.ExitReason),
		},
	})
}

func (e *Engine) recordOrder(ctx context.Context, u domain.OrderUpdate, msg string) {
	e.record(ctx, domain.Event{
		Time:    u.Time,
		Kind:    domain.EventOrder,
		Message: msg,
		Attrs: map[string]any{
			"order_id":   u.OrderID,
			"side":       string(u.Side),
			"status":     string(u.Status),
			"price":      u.ExecutedPrice,
			"size":       u.ExecutedSize,
			"commission": u.Commission,
		},
	})
}

func (e *Engine) record(ctx context.Context, ev domain.Event) {
	for k, v := range ev.Attrs {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			delete(ev.Attrs, k)
		}
	}
	e.rec.Record(ctx, ev)
}

// Position returns the engine's view of the open position.
func (e *Engine) Position() domain.Position { return e.position }

// Trades returns the closed round trips so far.
func (e *Engine) Trades() []domain.Trade {
	out := make([]domain.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// TrendState returns the detector state.
func (e *Engine) TrendState() TrendState { return e.detect.State() }

// Levels returns the active risk levels. They exist iff a position is open.
func (e *Engine) Levels() (RiskLevels, bool) { return e.risk.Levels() }

// Tracker returns the order tracker state.
func (e *Engine) Tracker() TrackerState { return e.tracker.State() }

// Budget returns the sizer's current max_trade_value.
func (e *Engine) Budget() float64 { return e.sizer.Budget() }

// IsConfigError reports whether err is a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
