package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"trendline/internal/config"
	"trendline/internal/domain"
	"trendline/internal/engine"
	"trendline/internal/store"
	"trendline/internal/strategy"
	"trendline/internal/strategy/builtins"
	"trendline/internal/util"
)

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func main() {
	var overrides stringList
	cfgPath := flag.String("config", "", "config file (default $TRENDLINE_CONFIG or "+config.DefaultPath+")")
	symbol := flag.String("symbol", "", "symbol to replay (overrides backtest.symbol)")
	market := flag.String("market", "", "market: us or au")
	start := flag.String("start", "", "first day, YYYY-MM-DD")
	end := flag.String("end", "", "last day, YYYY-MM-DD")
	cash := flag.Float64("cash", 0, "starting cash")
	timeframe := flag.String("timeframe", "", "daily, weekly or monthly")
	compression := flag.Int("compression", 0, "merge this many timeframe periods into one bar")
	strat := flag.String("strategy", "", "registered strategy name (default: the config's strategy section)")
	noStore := flag.Bool("no-store", false, "do not persist the run to SQLite")
	quiet := flag.Bool("quiet", false, "do not print engine events")
	flag.Var(&overrides, "set", "strategy override key=value, repeatable (e.g. -set stop.lookback=20)")
	flag.Parse()

	cfg, err := config.LoadResolved(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	bt := &cfg.Backtest
	setString(&bt.Symbol, *symbol)
	setString(&bt.Market, *market)
	setString(&bt.Start, *start)
	setString(&bt.End, *end)
	setString(&bt.Timeframe, *timeframe)
	if *cash > 0 {
		bt.Cash = *cash
	}
	if *compression > 0 {
		bt.Compression = *compression
	}

	extra, err := config.ParseOverrides(overrides)
	if err != nil {
		log.Fatal(err)
	}
	if *strat != "" {
		cfg.Strategy, err = builtins.NewRegistry().Resolve(*strat, extra)
	} else {
		cfg.Strategy, err = config.Overlay(cfg.Strategy, "", extra)
	}
	if err != nil {
		log.Fatalf("strategy: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	params, err := strategy.ParamsFromConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if !*quiet {
		params.Recorder = engine.RecorderFunc(printEvent)
	}

	var opts []strategy.BacktesterOption
	opts = append(opts, strategy.WithBacktestLogger(logger))
	if !*noStore {
		runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening run store: %v", err)
		}
		defer runs.Close()
		opts = append(opts, strategy.WithRunStore(runs))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backtester := strategy.NewBacktester(store.NewParquetStore(cfg.Storage.DataDir), opts...)
	res, err := backtester.Run(ctx, params)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
	printSummary(os.Stdout, params, res)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// printEvent writes one event in "date, message" form. Bar closes are left
// to debug logging.
func printEvent(_ context.Context, ev domain.Event) {
	if ev.Kind == domain.EventBar {
		return
	}
	fmt.Printf("%s, %s\n", ev.Time.Format("2006-01-02"), ev.Message)
}

func printSummary(w *os.File, p strategy.Params, res *strategy.Result) {
	m := res.Metrics
	fmt.Fprintf(w, "\nRun:                   %s\n", res.RunID)
	fmt.Fprintf(w, "Strategy:              %s on %s\n", p.Strategy.Preset, p.Symbol)
	fmt.Fprintf(w, "Starting Portfolio Value: %s\n", strategy.Money(m.StartValue))
	fmt.Fprintf(w, "Final Portfolio Value:    %s\n", strategy.Money(m.FinalValue))
	fmt.Fprintf(w, "Total return:          %.2f%%\n", m.TotalReturn*100)
	fmt.Fprintf(w, "Max drawdown:          %.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "Trades:                %d (win rate %.1f%%)\n", m.TotalTrades, m.WinRate*100)
	fmt.Fprintf(w, "Profit factor:         %.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "Sharpe:                %.2f\n", m.Sharpe)
	if pos := res.OpenPosition; pos != nil {
		fmt.Fprintf(w, "Open position:         %d @ %s since %s\n", pos.Qty, strategy.Money(pos.EntryPrice), pos.OpenedAt.Format("2006-01-02"))
	}
}
