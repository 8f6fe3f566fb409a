package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"trendline/internal/domain"
	"trendline/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore, *store.ParquetStore) {
	t.Helper()
	dir := t.TempDir()
	runs, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	bars := store.NewParquetStore(dir)
	srv := httptest.NewServer(NewRunServer(runs, bars, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		runs.Close()
	})
	return srv, runs, bars
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestRunEndpoints(t *testing.T) {
	srv, runs, _ := newTestServer(t)
	ctx := context.Background()

	run := &store.Run{ID: "r1", Strategy: "triple-ema", Symbol: "CBA", Market: "au", Cash: 10000, Config: "preset: triple-ema\n"}
	if err := runs.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	exit := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	if err := runs.SaveTrades(ctx, "r1", []domain.Trade{{
		Symbol: "CBA", Side: domain.PositionSideLong, Qty: 10, ExitTime: exit,
		EntryPrice: 100, ExitPrice: 110, GrossPnL: 100, NetPnL: 98, ExitReason: domain.ExitTakeProfit,
	}}); err != nil {
		t.Fatalf("SaveTrades: %v", err)
	}
	for _, ev := range []domain.Event{
		{Time: exit, Kind: domain.EventBar, Message: "Close, 110.00"},
		{Time: exit, Kind: domain.EventTrade, Message: "OPERATION PROFIT, GROSS 100.00, NET 98.00"},
	} {
		if err := runs.SaveEvent(ctx, "r1", ev); err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}

	var list []RunJSON
	if code := getJSON(t, srv.URL+"/api/runs", &list); code != http.StatusOK {
		t.Fatalf("runs status = %d", code)
	}
	if len(list) != 1 || list[0].ID != "r1" || list[0].Config != "" {
		t.Errorf("runs = %+v", list)
	}

	var detail RunJSON
	getJSON(t, srv.URL+"/api/runs/r1", &detail)
	if detail.Status != "running" || detail.Config == "" {
		t.Errorf("run detail = %+v", detail)
	}

	var trades []TradeJSON
	getJSON(t, srv.URL+"/api/runs/r1/trades", &trades)
	if len(trades) != 1 || trades[0].NetPnL != 98 || trades[0].ExitReason != "take_profit" {
		t.Errorf("trades = %+v", trades)
	}

	var events []EventJSON
	getJSON(t, srv.URL+"/api/runs/r1/events?kind=trade", &events)
	if len(events) != 1 || events[0].Kind != "trade" {
		t.Errorf("events = %+v", events)
	}

	if code := getJSON(t, srv.URL+"/api/runs/missing/trades", nil); code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", code)
	}
	if code := getJSON(t, srv.URL+"/api/runs?limit=x", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
}

func TestBarEndpoints(t *testing.T) {
	srv, _, bars := newTestServer(t)
	var in []domain.Bar
	for d := 1; d <= 5; d++ {
		in = append(in, domain.Bar{Symbol: "CBA", Timestamp: time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC), Close: float64(100 + d)})
	}
	if err := bars.WriteBars(context.Background(), "au", in); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	var symbols []string
	getJSON(t, srv.URL+"/api/symbols/au", &symbols)
	if len(symbols) != 1 || symbols[0] != "CBA" {
		t.Errorf("symbols = %v", symbols)
	}

	var got []BarJSON
	getJSON(t, srv.URL+"/api/bars/au/CBA?start=2024-03-02&end=2024-03-04", &got)
	if len(got) != 3 || got[0].Close != 102 || got[2].Close != 104 {
		t.Errorf("bars = %+v", got)
	}

	if code := getJSON(t, srv.URL+"/api/bars/au/CBA?start=yesterday", nil); code != http.StatusBadRequest {
		t.Errorf("bad start status = %d, want 400", code)
	}
}
