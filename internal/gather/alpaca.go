package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"trendline/internal/config"
	"trendline/internal/domain"
	"trendline/internal/store"
	"trendline/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*AlpacaBarGatherer)(nil)

// BarSource is the part of the Alpaca market-data client the gatherer uses.
// *marketdata.Client satisfies it.
type BarSource interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewAlpacaClient builds a market-data client from the alpaca config section.
func NewAlpacaClient(cfg config.Alpaca) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return marketdata.NewClient(opts)
}

// AlpacaOptions configures an AlpacaBarGatherer.
type AlpacaOptions struct {
	Symbols         []string
	Market          domain.Market
	Start           time.Time
	Feed            string // iex or sip
	BatchSize       int    // symbols per request
	RateLimitPerMin int
	MaxAttempts     int
	RetryDelay      time.Duration
	ProgressDir     string // where resume state is kept; empty disables it
	Now             func() time.Time
}

// OptionsFromConfig fills AlpacaOptions from the gather and storage sections.
func OptionsFromConfig(cfg *config.Config, symbols []string) (AlpacaOptions, error) {
	start, err := time.Parse("2006-01-02", cfg.Gather.StartDate)
	if err != nil {
		return AlpacaOptions{}, fmt.Errorf("gather.start_date: %w", err)
	}
	return AlpacaOptions{
		Symbols:         symbols,
		Market:          domain.MarketUS,
		Start:           start,
		Feed:            cfg.Gather.Feed,
		RateLimitPerMin: cfg.Gather.RateLimitPerMin,
		MaxAttempts:     cfg.Gather.MaxAttempts,
		ProgressDir:     cfg.Storage.DataDir,
	}, nil
}

// AlpacaBarGatherer downloads split-adjusted daily bars for a list of
// symbols through the Alpaca market-data API. Each symbol resumes from the
// day after its last stored bar.
type AlpacaBarGatherer struct {
	src      BarSource
	store    store.BarStore
	opts     AlpacaOptions
	limiter  *util.RateLimiter
	sessions *util.Sessions
	log      *slog.Logger
}

// NewAlpacaBarGatherer creates a gatherer reading from src and writing to s.
func NewAlpacaBarGatherer(src BarSource, s store.BarStore, opts AlpacaOptions) *AlpacaBarGatherer {
	if opts.Market == "" {
		opts.Market = domain.MarketUS
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	symbols := make([]string, 0, len(opts.Symbols))
	for _, sym := range opts.Symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	opts.Symbols = symbols
	return &AlpacaBarGatherer{
		src:      src,
		store:    s,
		opts:     opts,
		limiter:  util.NewRateLimiter(opts.RateLimitPerMin, max(opts.RateLimitPerMin/10, 1)),
		sessions: util.NewSessions(opts.Market),
		log:      slog.Default().With("gatherer", "alpaca-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *AlpacaBarGatherer) Name() string { return "alpaca-daily" }

// Run downloads every symbol up to the last closed session. A pass that
// already completed for that session is skipped.
func (g *AlpacaBarGatherer) Run(ctx context.Context) error {
	if len(g.opts.Symbols) == 0 {
		return fmt.Errorf("alpaca gather: no symbols")
	}
	end := g.sessions.LastClosed(g.opts.Now())
	session := end.Format("2006-01-02")

	prog, err := loadProgress(g.opts.ProgressDir)
	if err != nil {
		return err
	}
	if prog.done(session) {
		g.log.Info("already completed", "session", session)
		return nil
	}
	prog.begin(session)

	// Group symbols by the day they resume from so one request serves many.
	pending := make(map[time.Time][]string)
	for _, sym := range g.opts.Symbols {
		if prog.isEmpty(sym) {
			continue
		}
		from, err := g.resumeFrom(ctx, sym)
		if err != nil {
			return err
		}
		if from.After(end) {
			continue
		}
		pending[from] = append(pending[from], sym)
	}

	var written, empty int
	for from, symbols := range pending {
		for i := 0; i < len(symbols); i += g.opts.BatchSize {
			batch := symbols[i:min(i+g.opts.BatchSize, len(symbols))]
			bars, err := g.fetch(ctx, batch, from, end)
			if err != nil {
				if saveErr := prog.save(); saveErr != nil {
					g.log.Warn("saving progress", "error", saveErr)
				}
				return err
			}
			if err := g.store.WriteBars(ctx, string(g.opts.Market), bars); err != nil {
				return fmt.Errorf("writing bars: %w", err)
			}
			missing := missingSymbols(batch, bars)
			prog.markEmpty(missing...)
			written += len(bars)
			empty += len(missing)
			g.log.Info("batch done", "from", from.Format("2006-01-02"), "symbols", len(batch), "bars", len(bars), "empty", len(missing))
		}
	}

	prog.complete(session)
	if err := prog.save(); err != nil {
		return err
	}
	g.log.Info("complete", "session", session, "bars", written, "empty", empty)
	return nil
}

// resumeFrom returns the first day to request for symbol.
func (g *AlpacaBarGatherer) resumeFrom(ctx context.Context, symbol string) (time.Time, error) {
	bars, err := g.store.ReadBars(ctx, symbol, string(g.opts.Market), g.opts.Start, time.Time{})
	if err != nil {
		return time.Time{}, fmt.Errorf("reading stored bars for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return g.opts.Start, nil
	}
	last := bars[len(bars)-1].Timestamp
	return time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1), nil
}

func (g *AlpacaBarGatherer) fetch(ctx context.Context, symbols []string, from, end time.Time) ([]domain.Bar, error) {
	var out map[string][]marketdata.Bar
	err := util.Retry(ctx, g.opts.MaxAttempts, g.opts.RetryDelay, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		out, err = g.src.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Start:      from,
			End:        end.Add(time.Hour),
			Feed:       g.opts.Feed,
			Adjustment: marketdata.Split,
		})
		if err != nil {
			g.log.Warn("GetMultiBars failed", "symbols", len(symbols), "error", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %d symbols from %s: %w", len(symbols), from.Format("2006-01-02"), err)
	}

	var bars []domain.Bar
	for symbol, abs := range out {
		for _, ab := range abs {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}

func missingSymbols(batch []string, bars []domain.Bar) []string {
	hit := make(map[string]bool, len(batch))
	for _, b := range bars {
		hit[b.Symbol] = true
	}
	var missing []string
	for _, sym := range batch {
		if !hit[sym] {
			missing = append(missing, sym)
		}
	}
	return missing
}
