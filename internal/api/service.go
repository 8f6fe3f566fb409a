package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"trendline/internal/config"
	"trendline/internal/domain"
	"trendline/internal/engine"
	"trendline/internal/store"
	"trendline/internal/strategy"
	"trendline/pkg/trendline"
)

// BacktestServer is the server API for the trendline.v1.Backtest service.
type BacktestServer interface {
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunBacktest(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes the backtest service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: trendline.ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListStrategies",
			Handler: unary(trendline.MethodListStrategies, func(s BacktestServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return s.ListStrategies
			}),
		},
		{
			MethodName: "GetRun",
			Handler: unary(trendline.MethodGetRun, func(s BacktestServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return s.GetRun
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "RunBacktest",
			Handler:       runBacktestHandler,
			ServerStreams: true,
		},
	},
	Metadata: "trendline/v1/backtest",
}

func unary(method string, pick func(BacktestServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		fn := pick(srv.(BacktestServer))
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*structpb.Struct))
		})
	}
}

func runBacktestHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BacktestServer).RunBacktest(in, stream)
}

// Compile-time interface check.
var _ BacktestServer = (*BacktestService)(nil)

// BacktestService runs backtests on request. Defaults for omitted request
// fields come from the server's configuration.
type BacktestService struct {
	cfg      *config.Config
	registry *strategy.Registry
	bars     store.BarStore
	runs     store.RunStore // may be nil
	log      *slog.Logger
}

// NewBacktestService creates the service.
func NewBacktestService(cfg *config.Config, registry *strategy.Registry, bars store.BarStore, runs store.RunStore, log *slog.Logger) *BacktestService {
	if log == nil {
		log = slog.Default()
	}
	return &BacktestService{cfg: cfg, registry: registry, bars: bars, runs: runs, log: log.With("service", "backtest")}
}

// ListStrategies returns every registered strategy.
func (s *BacktestService) ListStrategies(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	var list []trendline.StrategyInfo
	for _, name := range s.registry.List() {
		st, _ := s.registry.Get(name)
		list = append(list, trendline.StrategyInfo{Name: name, Description: st.Description()})
	}
	return trendline.StrategiesStruct(list), nil
}

// GetRun returns a persisted run by its "id" field.
func (s *BacktestService) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.Unimplemented, "run store not configured")
	}
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, err := s.runs.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "run %s not found", id)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return trendline.RunInfo{
		ID:          run.ID,
		Strategy:    run.Strategy,
		Symbol:      run.Symbol,
		Market:      run.Market,
		Status:      run.Status,
		Cash:        run.Cash,
		FinalValue:  run.FinalValue,
		TotalReturn: run.TotalReturn,
		MaxDrawdown: run.MaxDrawdown,
		TradeCount:  run.TradeCount,
		CreatedAt:   run.CreatedAt,
	}.Struct(), nil
}

// RunBacktest replays the requested range, streaming engine events as they
// are recorded and a summary at the end. A failed send aborts the run.
func (s *BacktestService) RunBacktest(in *structpb.Struct, stream grpc.ServerStream) error {
	req, err := trendline.ParseBacktestRequest(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	p, err := s.params(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	kinds := make(map[string]bool, len(req.Kinds))
	for _, k := range req.Kinds {
		kinds[strings.ToLower(k)] = true
	}
	var sendErr error
	p.Recorder = engine.RecorderFunc(func(_ context.Context, ev domain.Event) {
		if sendErr != nil || (len(kinds) > 0 && !kinds[string(ev.Kind)]) {
			return
		}
		msg := trendline.Event{Time: ev.Time, Kind: string(ev.Kind), Message: ev.Message, Attrs: ev.Attrs}
		if err := stream.SendMsg(msg.Struct()); err != nil {
			sendErr = err
			cancel()
		}
	})

	opts := []strategy.BacktesterOption{strategy.WithBacktestLogger(s.log)}
	if s.runs != nil {
		opts = append(opts, strategy.WithRunStore(s.runs))
	}
	res, err := strategy.NewBacktester(s.bars, opts...).Run(ctx, p)
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		return toStatus(err)
	}

	sum := trendline.Summary{
		RunID:        res.RunID,
		Symbol:       p.Symbol,
		Strategy:     p.Strategy.Preset,
		Bars:         len(res.Equity),
		StartValue:   res.Metrics.StartValue,
		FinalValue:   res.Metrics.FinalValue,
		TotalReturn:  res.Metrics.TotalReturn,
		MaxDrawdown:  res.Metrics.MaxDrawdown,
		TotalTrades:  res.Metrics.TotalTrades,
		WinRate:      res.Metrics.WinRate,
		ProfitFactor: res.Metrics.ProfitFactor,
		Sharpe:       res.Metrics.Sharpe,
	}
	if res.OpenPosition != nil {
		sum.OpenQty = res.OpenPosition.Qty
	}
	return stream.SendMsg(sum.Struct())
}

// params merges the request over the configured backtest defaults.
func (s *BacktestService) params(req trendline.BacktestRequest) (strategy.Params, error) {
	bt := s.cfg.Backtest
	if req.Symbol != "" {
		bt.Symbol = req.Symbol
	}
	if req.Market != "" {
		bt.Market = req.Market
	}
	if req.Start != "" {
		bt.Start = req.Start
	}
	if req.End != "" {
		bt.End = req.End
	}
	if req.Cash != 0 {
		bt.Cash = req.Cash
	}
	if req.Timeframe != "" {
		bt.Timeframe = req.Timeframe
	}
	if req.Compression != 0 {
		bt.Compression = req.Compression
	}
	if req.Commission != "" {
		bt.Commission = config.Commission{Kind: req.Commission, Value: req.CommissionValue}
	}
	if bt.Symbol == "" {
		return strategy.Params{}, fmt.Errorf("symbol is required")
	}

	var (
		strat config.Strategy
		err   error
	)
	if req.Strategy != "" {
		strat, err = s.registry.Resolve(req.Strategy, req.Overrides)
	} else {
		strat, err = config.Overlay(s.cfg.Strategy, "", req.Overrides)
	}
	if err != nil {
		return strategy.Params{}, err
	}

	cfg := *s.cfg
	cfg.Backtest = bt
	cfg.Strategy = strat
	return strategy.ParamsFromConfig(&cfg)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, strategy.ErrNoBars):
		return status.Error(codes.NotFound, err.Error())
	case engine.IsConfigError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
