// Package store persists bars, backtest runs and their orders, trades and
// events.
package store

import (
	"context"
	"errors"
	"time"

	"trendline/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for market, merging with bars
	// already stored for the same timestamps.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end] in time order. Zero start or end leaves that side open.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// Run is one persisted backtest.
type Run struct {
	ID          string
	Strategy    string
	Symbol      string
	Market      string
	Start       time.Time
	End         time.Time
	Cash        float64
	Config      string // strategy YAML
	Status      string // running, done, failed
	FinalValue  float64
	TotalReturn float64
	MaxDrawdown float64
	TradeCount  int
	CreatedAt   time.Time
	FinishedAt  time.Time
}

// RunStore persists backtest runs and what happened during them.
type RunStore interface {
	// CreateRun inserts a run in the running state.
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun records the outcome of a run.
	FinishRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// SaveOrder inserts or updates an order belonging to a run.
	SaveOrder(ctx context.Context, runID string, order *domain.Order) error

	// ListOrders returns a run's orders in creation order.
	ListOrders(ctx context.Context, runID string) ([]domain.Order, error)

	// SaveTrades appends closed trades to a run.
	SaveTrades(ctx context.Context, runID string, trades []domain.Trade) error

	// ListTrades returns a run's trades in exit order.
	ListTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// SaveEvent appends one engine event to a run.
	SaveEvent(ctx context.Context, runID string, ev domain.Event) error

	// ListEvents returns a run's events of the given kinds in the order they
	// were recorded. No kinds means all kinds.
	ListEvents(ctx context.Context, runID string, kinds ...domain.EventKind) ([]domain.Event, error)
}
