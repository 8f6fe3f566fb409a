// Package trendline is the Go client for the trendline backtest service.
//
// The service is registered by hand rather than generated from a .proto
// file; every message on the wire is a google.protobuf.Struct whose shape is
// described by the types in this file.
package trendline

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "trendline.v1.Backtest"

	MethodRunBacktest    = "/" + ServiceName + "/RunBacktest"
	MethodListStrategies = "/" + ServiceName + "/ListStrategies"
	MethodGetRun         = "/" + ServiceName + "/GetRun"
)

// BacktestRequest asks the server to run one backtest. Zero fields take the
// server's configured defaults.
type BacktestRequest struct {
	Symbol          string
	Market          string
	Start           string // YYYY-MM-DD
	End             string // YYYY-MM-DD, inclusive
	Cash            float64
	Timeframe       string
	Compression     int
	Strategy        string         // registered strategy name
	Overrides       map[string]any // strategy keys, as in the YAML config
	Commission      string         // none, percent, fixed
	CommissionValue float64
	Kinds           []string // event kinds to stream; empty streams all
}

// Struct encodes the request.
func (r BacktestRequest) Struct() (*structpb.Struct, error) {
	m := map[string]any{
		"symbol":           r.Symbol,
		"market":           r.Market,
		"start":            r.Start,
		"end":              r.End,
		"cash":             r.Cash,
		"timeframe":        r.Timeframe,
		"compression":      r.Compression,
		"strategy":         r.Strategy,
		"commission":       r.Commission,
		"commission_value": r.CommissionValue,
	}
	if len(r.Overrides) > 0 {
		m["overrides"] = r.Overrides
	}
	if len(r.Kinds) > 0 {
		kinds := make([]any, len(r.Kinds))
		for i, k := range r.Kinds {
			kinds[i] = k
		}
		m["kinds"] = kinds
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return s, nil
}

// ParseBacktestRequest decodes a request message.
func ParseBacktestRequest(s *structpb.Struct) (BacktestRequest, error) {
	m := s.AsMap()
	r := BacktestRequest{
		Symbol:          str(m, "symbol"),
		Market:          str(m, "market"),
		Start:           str(m, "start"),
		End:             str(m, "end"),
		Cash:            num(m, "cash"),
		Timeframe:       str(m, "timeframe"),
		Compression:     int(num(m, "compression")),
		Strategy:        str(m, "strategy"),
		Commission:      str(m, "commission"),
		CommissionValue: num(m, "commission_value"),
	}
	if v, ok := m["overrides"]; ok && v != nil {
		o, ok := v.(map[string]any)
		if !ok {
			return r, fmt.Errorf("overrides: want an object, got %T", v)
		}
		r.Overrides = o
	}
	if v, ok := m["kinds"].([]any); ok {
		for _, k := range v {
			if s, ok := k.(string); ok {
				r.Kinds = append(r.Kinds, s)
			}
		}
	}
	return r, nil
}

// Event is one engine event streamed during a run.
type Event struct {
	Time    time.Time
	Kind    string
	Message string
	Attrs   map[string]any
}

// Struct encodes the event as a stream message. Attribute values that
// protobuf cannot carry are sent as their string form.
func (e Event) Struct() *structpb.Struct {
	attrs := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(e.Attrs))}
	for k, v := range e.Attrs {
		attrs.Fields[k] = Value(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":    structpb.NewStringValue("event"),
		"time":    structpb.NewStringValue(e.Time.UTC().Format(time.RFC3339)),
		"kind":    structpb.NewStringValue(e.Kind),
		"message": structpb.NewStringValue(e.Message),
		"attrs":   structpb.NewStructValue(attrs),
	}}
}

// Value converts v to a protobuf value, falling back to fmt formatting for
// types structpb does not know.
func Value(v any) *structpb.Value {
	if pv, err := structpb.NewValue(v); err == nil {
		return pv
	}
	return structpb.NewStringValue(fmt.Sprint(v))
}

// Summary closes a RunBacktest stream.
type Summary struct {
	RunID        string
	Symbol       string
	Strategy     string
	Bars         int
	StartValue   float64
	FinalValue   float64
	TotalReturn  float64
	MaxDrawdown  float64
	TotalTrades  int
	WinRate      float64
	ProfitFactor float64
	Sharpe       float64
	OpenQty      int64 // position left open at the end of data
}

// Struct encodes the summary as a stream message.
func (s Summary) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":          structpb.NewStringValue("summary"),
		"run_id":        structpb.NewStringValue(s.RunID),
		"symbol":        structpb.NewStringValue(s.Symbol),
		"strategy":      structpb.NewStringValue(s.Strategy),
		"bars":          structpb.NewNumberValue(float64(s.Bars)),
		"start_value":   structpb.NewNumberValue(s.StartValue),
		"final_value":   structpb.NewNumberValue(s.FinalValue),
		"total_return":  structpb.NewNumberValue(s.TotalReturn),
		"max_drawdown":  structpb.NewNumberValue(s.MaxDrawdown),
		"total_trades":  structpb.NewNumberValue(float64(s.TotalTrades)),
		"win_rate":      structpb.NewNumberValue(s.WinRate),
		"profit_factor": structpb.NewNumberValue(s.ProfitFactor),
		"sharpe":        structpb.NewNumberValue(s.Sharpe),
		"open_qty":      structpb.NewNumberValue(float64(s.OpenQty)),
	}}
}

// DecodeStreamMessage returns the event or the summary carried by msg.
// Exactly one of the results is non-nil on success.
func DecodeStreamMessage(msg *structpb.Struct) (*Event, *Summary, error) {
	m := msg.AsMap()
	switch t := str(m, "type"); t {
	case "event":
		ev := &Event{Kind: str(m, "kind"), Message: str(m, "message")}
		if ts := str(m, "time"); ts != "" {
			parsed, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, nil, fmt.Errorf("event time: %w", err)
			}
			ev.Time = parsed
		}
		ev.Attrs, _ = m["attrs"].(map[string]any)
		return ev, nil, nil
	case "summary":
		return nil, &Summary{
			RunID:        str(m, "run_id"),
			Symbol:       str(m, "symbol"),
			Strategy:     str(m, "strategy"),
			Bars:         int(num(m, "bars")),
			StartValue:   num(m, "start_value"),
			FinalValue:   num(m, "final_value"),
			TotalReturn:  num(m, "total_return"),
			MaxDrawdown:  num(m, "max_drawdown"),
			TotalTrades:  int(num(m, "total_trades")),
			WinRate:      num(m, "win_rate"),
			ProfitFactor: num(m, "profit_factor"),
			Sharpe:       num(m, "sharpe"),
			OpenQty:      int64(num(m, "open_qty")),
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown message type %q", t)
	}
}

// StrategyInfo describes a registered strategy.
type StrategyInfo struct {
	Name        string
	Description string
}

// StrategiesStruct encodes a ListStrategies response.
func StrategiesStruct(list []StrategyInfo) *structpb.Struct {
	values := make([]*structpb.Value, len(list))
	for i, s := range list {
		values[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":        structpb.NewStringValue(s.Name),
			"description": structpb.NewStringValue(s.Description),
		}})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"strategies": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func parseStrategies(s *structpb.Struct) []StrategyInfo {
	list, _ := s.AsMap()["strategies"].([]any)
	out := make([]StrategyInfo, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, StrategyInfo{Name: str(m, "name"), Description: str(m, "description")})
	}
	return out
}

// RunInfo is a persisted backtest run.
type RunInfo struct {
	ID          string
	Strategy    string
	Symbol      string
	Market      string
	Status      string
	Cash        float64
	FinalValue  float64
	TotalReturn float64
	MaxDrawdown float64
	TradeCount  int
	CreatedAt   time.Time
}

// Struct encodes a GetRun response.
func (r RunInfo) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":           structpb.NewStringValue(r.ID),
		"strategy":     structpb.NewStringValue(r.Strategy),
		"symbol":       structpb.NewStringValue(r.Symbol),
		"market":       structpb.NewStringValue(r.Market),
		"status":       structpb.NewStringValue(r.Status),
		"cash":         structpb.NewNumberValue(r.Cash),
		"final_value":  structpb.NewNumberValue(r.FinalValue),
		"total_return": structpb.NewNumberValue(r.TotalReturn),
		"max_drawdown": structpb.NewNumberValue(r.MaxDrawdown),
		"trade_count":  structpb.NewNumberValue(float64(r.TradeCount)),
		"created_at":   structpb.NewStringValue(r.CreatedAt.UTC().Format(time.RFC3339)),
	}}
}

func parseRunInfo(s *structpb.Struct) RunInfo {
	m := s.AsMap()
	created, _ := time.Parse(time.RFC3339, str(m, "created_at"))
	return RunInfo{
		ID:          str(m, "id"),
		Strategy:    str(m, "strategy"),
		Symbol:      str(m, "symbol"),
		Market:      str(m, "market"),
		Status:      str(m, "status"),
		Cash:        num(m, "cash"),
		FinalValue:  num(m, "final_value"),
		TotalReturn: num(m, "total_return"),
		MaxDrawdown: num(m, "max_drawdown"),
		TradeCount:  int(num(m, "trade_count")),
		CreatedAt:   created,
	}
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}
