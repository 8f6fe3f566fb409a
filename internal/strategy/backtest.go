package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"trendline/internal/broker"
	"trendline/internal/config"
	"trendline/internal/domain"
	"trendline/internal/engine"
	"trendline/internal/feed"
	"trendline/internal/store"
)

// ErrNoBars is returned when the requested range holds no data.
var ErrNoBars = errors.New("no bars in range")

// Params selects the data, account and strategy for one backtest.
type Params struct {
	RunID       string // generated when empty
	Symbol      string
	Market      string
	Start       time.Time
	End         time.Time
	Cash        float64
	Timeframe   string
	Compression int
	Commission  config.Commission
	Strategy    config.Strategy

	// Recorder receives every engine event in addition to the run store.
	Recorder engine.Recorder
}

// ParamsFromConfig builds Params from the backtest and strategy sections.
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	start, end, err := cfg.Backtest.DateRange()
	if err != nil {
		return Params{}, err
	}
	if !end.IsZero() {
		// End dates are inclusive; daily bars may be stamped after midnight UTC.
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return Params{
		Symbol:      cfg.Backtest.Symbol,
		Market:      cfg.Backtest.Market,
		Start:       start,
		End:         end,
		Cash:        cfg.Backtest.Cash,
		Timeframe:   cfg.Backtest.Timeframe,
		Compression: cfg.Backtest.Compression,
		Commission:  cfg.Backtest.Commission,
		Strategy:    cfg.Strategy,
	}, nil
}

// Result is the outcome of a backtest.
type Result struct {
	RunID        string
	Metrics      Metrics
	Trades       []domain.Trade
	Orders       []domain.Order
	OpenPosition *domain.Position // nil when flat at the end of data
	Equity       []float64        // account value after each bar
}

// Backtester replays historical bar data through an engine and computes
// performance metrics.
type Backtester struct {
	bars store.BarStore
	runs store.RunStore
	log  *slog.Logger
}

// BacktesterOption configures a Backtester.
type BacktesterOption func(*Backtester)

// WithRunStore persists runs, orders, trades and events.
func WithRunStore(rs store.RunStore) BacktesterOption {
	return func(bt *Backtester) { bt.runs = rs }
}

// WithBacktestLogger sets the logger. The default is slog.Default().
func WithBacktestLogger(l *slog.Logger) BacktesterOption {
	return func(bt *Backtester) { bt.log = l }
}

// NewBacktester creates a Backtester that reads bars from barStore.
func NewBacktester(barStore store.BarStore, opts ...BacktesterOption) *Backtester {
	bt := &Backtester{bars: barStore, log: slog.Default()}
	for _, opt := range opts {
		opt(bt)
	}
	return bt
}

// Run loads the requested bars and replays them.
func (bt *Backtester) Run(ctx context.Context, p Params) (*Result, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("backtest: symbol is required")
	}
	bars, err := bt.bars.ReadBars(ctx, p.Symbol, p.Market, p.Start, p.End)
	if err != nil {
		return nil, fmt.Errorf("backtest %s: %w", p.Symbol, err)
	}
	return bt.RunBars(ctx, p, bars)
}

// RunBars replays bars through a freshly built engine. Each step first lets
// the simulator fill orders queued on the previous bar at this bar's open,
// then hands the bar to the engine.
func (bt *Backtester) RunBars(ctx context.Context, p Params, bars []domain.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest %s: %w", p.Symbol, ErrNoBars)
	}
	tf, err := feed.ParseTimeframe(p.Timeframe)
	if err != nil {
		return nil, err
	}
	compression := p.Compression
	if compression == 0 {
		compression = 1
	}
	bars, err = feed.Resample(bars, tf, compression)
	if err != nil {
		return nil, err
	}
	comm, err := broker.ParseCommission(p.Commission.Kind, p.Commission.Value)
	if err != nil {
		return nil, err
	}
	if p.Cash <= 0 {
		return nil, &engine.ConfigError{Field: "cash", Reason: fmt.Sprintf("must be positive, got %v", p.Cash)}
	}
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	log := bt.log.With("run", p.RunID, "symbol", p.Symbol)

	symbol := bars[0].Symbol
	if symbol == "" {
		symbol = p.Symbol
	}
	series := feed.NewSeries(symbol, bars)
	sim := broker.NewSimulatorBroker(symbol, p.Cash, broker.WithCommission(comm))

	var recorders engine.MultiRecorder
	if p.Recorder != nil {
		recorders = append(recorders, p.Recorder)
	}
	if bt.runs != nil {
		recorders = append(recorders, &store.EventRecorder{Store: bt.runs, RunID: p.RunID, Log: log})
	}
	eng, err := Build(p.Strategy, series, sim, p.Cash, engine.WithRecorder(recorders), engine.WithLogger(log))
	if err != nil {
		return nil, err
	}
	sim.Subscribe(eng.Notify)

	run, err := bt.createRun(ctx, p)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: p.RunID, Equity: make([]float64, 0, series.Len())}
	var orderIDs []string
	for i, bar := range series.Bars() {
		if err := ctx.Err(); err != nil {
			bt.failRun(run, err, log)
			return nil, err
		}
		sim.ProcessBar(bar)
		for _, o := range eng.OnBar(ctx, series.At(i)) {
			orderIDs = append(orderIDs, o.ID)
		}
		res.Equity = append(res.Equity, sim.Value())
	}

	for _, id := range orderIDs {
		if o, ok := sim.Order(id); ok {
			res.Orders = append(res.Orders, o)
		}
	}
	res.Trades = eng.Trades()
	if pos := eng.Position(); pos.Qty != 0 {
		res.OpenPosition = &pos
	}
	res.Metrics = ComputeMetrics(p.Cash, res.Equity, res.Trades, periodsPerYear(tf, compression))

	if err := bt.finishRun(ctx, run, res); err != nil {
		return res, err
	}
	log.Info("backtest complete",
		"bars", series.Len(),
		"trades", res.Metrics.TotalTrades,
		"final_value", Money(res.Metrics.FinalValue),
		"return", res.Metrics.TotalReturn)
	return res, nil
}

func (bt *Backtester) createRun(ctx context.Context, p Params) (*store.Run, error) {
	if bt.runs == nil {
		return nil, nil
	}
	cfg, err := yaml.Marshal(p.Strategy)
	if err != nil {
		return nil, fmt.Errorf("encode strategy: %w", err)
	}
	run := &store.Run{
		ID:       p.RunID,
		Strategy: p.Strategy.Preset,
		Symbol:   p.Symbol,
		Market:   p.Market,
		Start:    p.Start,
		End:      p.End,
		Cash:     p.Cash,
		Config:   string(cfg),
	}
	if err := bt.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (bt *Backtester) finishRun(ctx context.Context, run *store.Run, res *Result) error {
	if run == nil {
		return nil
	}
	for i := range res.Orders {
		if err := bt.runs.SaveOrder(ctx, run.ID, &res.Orders[i]); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
	}
	if err := bt.runs.SaveTrades(ctx, run.ID, res.Trades); err != nil {
		return fmt.Errorf("save trades: %w", err)
	}
	run.Status = "done"
	run.FinalValue = res.Metrics.FinalValue
	run.TotalReturn = res.Metrics.TotalReturn
	run.MaxDrawdown = res.Metrics.MaxDrawdown
	run.TradeCount = res.Metrics.TotalTrades
	if err := bt.runs.FinishRun(ctx, run); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// failRun marks the run failed. The caller's context may already be done.
func (bt *Backtester) failRun(run *store.Run, cause error, log *slog.Logger) {
	if run == nil {
		return
	}
	run.Status = "failed"
	if err := bt.runs.FinishRun(context.Background(), run); err != nil {
		log.Warn("mark run failed", "cause", cause, "error", err)
	}
}
