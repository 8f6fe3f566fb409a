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
	"trendline/internal/gather"
	"trendline/internal/store"
	"trendline/internal/util"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: trendline-data <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  alpaca     Download daily bars from Alpaca\n")
	fmt.Fprintf(os.Stderr, "  import     Import Yahoo-format CSV files\n")
	fmt.Fprintf(os.Stderr, "  symbols    List stored symbols for a market\n")
	fmt.Fprintf(os.Stderr, "\nRun 'trendline-data <command> -h' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	market := fs.String("market", "", "market: us or au (default backtest.market)")

	var (
		symbols, start *string
		symbol         *string
		adjust         *bool
	)
	switch cmd {
	case "alpaca":
		symbols = fs.String("symbols", "", "comma-separated symbols (default backtest.symbol)")
		start = fs.String("start", "", "first day to download, YYYY-MM-DD (default gather.start_date)")
	case "import":
		symbol = fs.String("symbol", "", "symbol for a single file (default: derived from the file name)")
		adjust = fs.Bool("adjust", true, "scale prices by Adj Close")
	case "symbols":
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	fs.Parse(args)

	cfg, err := config.LoadResolved(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))
	if *market == "" {
		*market = cfg.Backtest.Market
	}
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "alpaca":
		list := splitSymbols(*symbols)
		if len(list) == 0 && cfg.Backtest.Symbol != "" {
			list = []string{cfg.Backtest.Symbol}
		}
		if *start != "" {
			cfg.Gather.StartDate = *start
		}
		opts, err := gather.OptionsFromConfig(cfg, list)
		if err != nil {
			log.Fatal(err)
		}
		opts.Market = domain.Market(*market)
		g := gather.NewAlpacaBarGatherer(gather.NewAlpacaClient(cfg.Alpaca), pstore, opts)
		if err := g.Run(ctx); err != nil {
			log.Fatalf("%s: %v", g.Name(), err)
		}

	case "import":
		imp := &gather.CSVImporter{
			Store:  pstore,
			Market: domain.Market(*market),
			Paths:  fs.Args(),
			Symbol: *symbol,
			Adjust: *adjust,
		}
		if err := imp.Run(ctx); err != nil {
			log.Fatalf("%s: %v", imp.Name(), err)
		}

	case "symbols":
		list, err := pstore.ListSymbols(ctx, *market)
		if err != nil {
			log.Fatal(err)
		}
		for _, s := range list {
			fmt.Println(s)
		}
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
