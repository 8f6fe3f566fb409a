// Package httpapi serves persisted backtest runs and stored bars as JSON for
// browsers and scripts.
package httpapi

import (
	"time"

	"trendline/internal/domain"
	"trendline/internal/store"
)

// RunJSON is the JSON representation of a backtest run.
type RunJSON struct {
	ID          string  `json:"id"`
	Strategy    string  `json:"strategy"`
	Symbol      string  `json:"symbol"`
	Market      string  `json:"market"`
	Start       string  `json:"start,omitempty"`
	End         string  `json:"end,omitempty"`
	Cash        float64 `json:"cash"`
	Status      string  `json:"status"`
	FinalValue  float64 `json:"finalValue"`
	TotalReturn float64 `json:"totalReturn"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	TradeCount  int     `json:"tradeCount"`
	CreatedAt   int64   `json:"createdAt"` // Unix ms
	FinishedAt  int64   `json:"finishedAt,omitempty"`
	Config      string  `json:"config,omitempty"` // strategy YAML, detail view only
}

// TradeJSON is one closed trade.
type TradeJSON struct {
	Side       string  `json:"side"`
	Qty        int64   `json:"qty"`
	EntryTime  int64   `json:"entryTime"`
	ExitTime   int64   `json:"exitTime"`
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	GrossPnL   float64 `json:"grossPnl"`
	NetPnL     float64 `json:"netPnl"`
	Commission float64 `json:"commission"`
	BarsHeld   int     `json:"barsHeld"`
	ExitReason string  `json:"exitReason"`
}

// OrderJSON is one order placed during a run.
type OrderJSON struct {
	ID             string  `json:"id"`
	Side           string  `json:"side"`
	Status         string  `json:"status"`
	Qty            int64   `json:"qty"`
	FilledQty      int64   `json:"filledQty"`
	FilledAvgPrice float64 `json:"filledAvgPrice"`
	Commission     float64 `json:"commission"`
	CreatedAt      int64   `json:"createdAt"`
}

// EventJSON is one engine event.
type EventJSON struct {
	Time    int64          `json:"time"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// BarJSON is one stored bar.
type BarJSON struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func unixMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func day(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func convertRun(r store.Run, detail bool) RunJSON {
	out := RunJSON{
		ID:          r.ID,
		Strategy:    r.Strategy,
		Symbol:      r.Symbol,
		Market:      r.Market,
		Start:       day(r.Start),
		End:         day(r.End),
		Cash:        r.Cash,
		Status:      r.Status,
		FinalValue:  r.FinalValue,
		TotalReturn: r.TotalReturn,
		MaxDrawdown: r.MaxDrawdown,
		TradeCount:  r.TradeCount,
		CreatedAt:   unixMS(r.CreatedAt),
		FinishedAt:  unixMS(r.FinishedAt),
	}
	if detail {
		out.Config = r.Config
	}
	return out
}

func convertTrade(t domain.Trade) TradeJSON {
	return TradeJSON{
		Side:       string(t.Side),
		Qty:        t.Qty,
		EntryTime:  unixMS(t.EntryTime),
		ExitTime:   unixMS(t.ExitTime),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		GrossPnL:   t.GrossPnL,
		NetPnL:     t.NetPnL,
		Commission: t.Commission,
		BarsHeld:   t.BarsHeld,
		ExitReason: string(t.ExitReason),
	}
}

func convertOrder(o domain.Order) OrderJSON {
	return OrderJSON{
		ID:             o.ID,
		Side:           string(o.Side),
		Status:         string(o.Status),
		Qty:            o.Qty,
		FilledQty:      o.FilledQty,
		FilledAvgPrice: o.FilledAvgPrice,
		Commission:     o.Commission,
		CreatedAt:      unixMS(o.CreatedAt),
	}
}

func convertEvent(e domain.Event) EventJSON {
	return EventJSON{Time: unixMS(e.Time), Kind: string(e.Kind), Message: e.Message, Attrs: e.Attrs}
}

func convertBar(b domain.Bar) BarJSON {
	return BarJSON{Time: unixMS(b.Timestamp), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
}
