package trendline

import (
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestDialDefaultsToPlaintext(t *testing.T) {
	c, err := Dial("localhost:9090")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if c.conn == nil || c.closer == nil {
		t.Fatal("expected a connection")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBacktestRequestRoundTrip(t *testing.T) {
	req := BacktestRequest{
		Symbol:      "CBA",
		Market:      "au",
		Start:       "2020-01-01",
		Cash:        25000,
		Compression: 2,
		Strategy:    "scalping",
		Overrides:   map[string]any{"max_duration": 10.0},
		Kinds:       []string{"trade", "order"},
	}
	s, err := req.Struct()
	if err != nil {
		t.Fatalf("Struct: %v", err)
	}
	got, err := ParseBacktestRequest(s)
	if err != nil {
		t.Fatalf("ParseBacktestRequest: %v", err)
	}
	if got.Symbol != "CBA" || got.Market != "au" || got.Cash != 25000 || got.Compression != 2 {
		t.Errorf("decoded %+v", got)
	}
	if got.Overrides["max_duration"] != 10.0 {
		t.Errorf("overrides = %v", got.Overrides)
	}
	if len(got.Kinds) != 2 || got.Kinds[1] != "order" {
		t.Errorf("kinds = %v", got.Kinds)
	}
}

func TestParseBacktestRequestBadOverrides(t *testing.T) {
	s, _ := structpb.NewStruct(map[string]any{"overrides": "max_duration=10"})
	if _, err := ParseBacktestRequest(s); err == nil {
		t.Error("expected error for non-object overrides")
	}
}

type side string

func TestEventStructFallsBackToString(t *testing.T) {
	ev := Event{
		Time:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Kind:    "order",
		Message: "BUY EXECUTED",
		Attrs:   map[string]any{"side": side("buy"), "size": int64(10)},
	}
	got, sum, err := DecodeStreamMessage(ev.Struct())
	if err != nil || sum != nil {
		t.Fatalf("DecodeStreamMessage: %v, %v", err, sum)
	}
	if got.Attrs["side"] != "buy" || got.Attrs["size"] != 10.0 {
		t.Errorf("attrs = %v", got.Attrs)
	}
	if !got.Time.Equal(ev.Time) || got.Kind != "order" {
		t.Errorf("event = %+v", got)
	}
}

func TestSummaryDecode(t *testing.T) {
	want := Summary{RunID: "r1", Bars: 120, FinalValue: 10500, TotalTrades: 4, OpenQty: -3}
	ev, got, err := DecodeStreamMessage(want.Struct())
	if err != nil || ev != nil {
		t.Fatalf("DecodeStreamMessage: %v, %v", err, ev)
	}
	if *got != want {
		t.Errorf("summary = %+v, want %+v", *got, want)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	s, _ := structpb.NewStruct(map[string]any{"type": "heartbeat"})
	if _, _, err := DecodeStreamMessage(s); err == nil {
		t.Error("expected error")
	}
}

func TestStrategiesRoundTrip(t *testing.T) {
	list := []StrategyInfo{{Name: "a", Description: "first"}, {Name: "b"}}
	got := parseStrategies(StrategiesStruct(list))
	if len(got) != 2 || got[0] != list[0] || got[1] != list[1] {
		t.Errorf("got %v", got)
	}
}
