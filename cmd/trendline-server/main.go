package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"trendline/internal/api"
	"trendline/internal/config"
	"trendline/internal/httpapi"
	"trendline/internal/store"
	"trendline/internal/strategy/builtins"
	"trendline/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $TRENDLINE_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	cfg, err := config.LoadResolved(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run store: %v", err)
	}
	defer runs.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := api.NewBacktestService(cfg, builtins.NewRegistry(), bars, runs, logger)
	grpcServer := api.NewServer(svc, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcServer.ListenAndServe(ctx, cfg.Server.Addr()); err != nil {
			slog.Error("grpc server", "error", err)
			cancel()
		}
	}()

	if cfg.Server.HTTPPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			browser := httpapi.NewRunServer(runs, bars, logger)
			if err := browser.ListenAndServe(ctx, cfg.Server.HTTPAddr()); err != nil {
				slog.Error("http server", "error", err)
				cancel()
			}
		}()
	}

	slog.Info("trendline-server started", "grpc", cfg.Server.Addr(), "http_port", cfg.Server.HTTPPort)
	wg.Wait()
	slog.Info("trendline-server stopped")
}
