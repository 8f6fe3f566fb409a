package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"trendline/internal/config"
	"trendline/pkg/trendline"
)

const version = "0.1.0"

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: trendline-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  strategies   List strategies known to the server\n")
	fmt.Fprintf(os.Stderr, "  run          Run a backtest on the server and stream its events\n")
	fmt.Fprintf(os.Stderr, "  get-run ID   Show a stored run\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("trendline-cli %s\n", version)
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	addr := fs.String("addr", "localhost:9090", "server address")

	var (
		req       trendline.BacktestRequest
		overrides stringList
		kinds     string
	)
	if cmd == "run" {
		fs.StringVar(&req.Symbol, "symbol", "", "symbol to replay")
		fs.StringVar(&req.Market, "market", "", "market: us or au")
		fs.StringVar(&req.Start, "start", "", "first day, YYYY-MM-DD")
		fs.StringVar(&req.End, "end", "", "last day, YYYY-MM-DD")
		fs.Float64Var(&req.Cash, "cash", 0, "starting cash")
		fs.StringVar(&req.Timeframe, "timeframe", "", "daily, weekly or monthly")
		fs.IntVar(&req.Compression, "compression", 0, "periods per bar")
		fs.StringVar(&req.Strategy, "strategy", "", "strategy name")
		fs.StringVar(&req.Commission, "commission", "", "none, percent or fixed")
		fs.Float64Var(&req.CommissionValue, "commission-value", 0, "commission rate or amount")
		fs.StringVar(&kinds, "kinds", "signal,order,trade", "comma-separated event kinds to stream")
		fs.Var(&overrides, "set", "strategy override key=value, repeatable")
	}
	fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := trendline.Dial(*addr)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	switch cmd {
	case "strategies":
		list, err := client.ListStrategies(ctx)
		if err != nil {
			fatal(err)
		}
		for _, s := range list {
			fmt.Printf("%-18s %s\n", s.Name, s.Description)
		}

	case "run":
		if req.Overrides, err = config.ParseOverrides(overrides); err != nil {
			fatal(err)
		}
		for _, k := range strings.Split(kinds, ",") {
			if k = strings.TrimSpace(k); k != "" {
				req.Kinds = append(req.Kinds, k)
			}
		}
		sum, err := client.RunBacktest(ctx, req, func(ev trendline.Event) {
			fmt.Printf("%s, %s\n", ev.Time.Format("2006-01-02"), ev.Message)
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("\nRun %s: %s on %s, %d bars\n", sum.RunID, sum.Strategy, sum.Symbol, sum.Bars)
		fmt.Printf("Starting Portfolio Value: %.2f\n", sum.StartValue)
		fmt.Printf("Final Portfolio Value:    %.2f\n", sum.FinalValue)
		fmt.Printf("Return %.2f%%, drawdown %.2f%%, %d trades, win rate %.1f%%, sharpe %.2f\n",
			sum.TotalReturn*100, sum.MaxDrawdown*100, sum.TotalTrades, sum.WinRate*100, sum.Sharpe)
		if sum.OpenQty != 0 {
			fmt.Printf("Open position: %d\n", sum.OpenQty)
		}

	case "get-run":
		if fs.NArg() != 1 {
			fatal(fmt.Errorf("get-run needs exactly one run ID"))
		}
		run, err := client.GetRun(ctx, fs.Arg(0))
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s  %s  %s/%s  %s\n", run.ID, run.Strategy, run.Market, run.Symbol, run.Status)
		fmt.Printf("cash %.2f  final %.2f  return %.2f%%  drawdown %.2f%%  trades %d\n",
			run.Cash, run.FinalValue, run.TotalReturn*100, run.MaxDrawdown*100, run.TradeCount)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "trendline-cli: %v\n", err)
	os.Exit(1)
}
