package domain

import (
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	// Verify Order can be instantiated with zero values.
	order := Order{}
	if order.ID != "" || order.Side != "" || order.Status != "" {
		t.Error("expected empty ID/Side/Status for zero-value Order")
	}
	if order.Qty != 0 || order.FilledQty != 0 || order.FilledAvgPrice != 0 {
		t.Error("expected zero Qty/FilledQty/FilledAvgPrice for zero-value Order")
	}

	// Verify enum constants are defined correctly.
	if OrderSideBuy != "buy" {
		t.Errorf("OrderSideBuy = %q, want %q", OrderSideBuy, "buy")
	}
	if MarketUS != "us" {
		t.Error("Market constants have unexpected values")
	}

	pos := Position{Symbol: "CBA", Qty: 10, Side: PositionSideLong, OpenedAt: time.Now()}
	if !pos.Open() {
		t.Error("position with Qty 10 should be open")
	}
	if (Position{}).Open() {
		t.Error("zero-value position should not be open")
	}
}

func TestBarValue(t *testing.T) {
	bar := Bar{Open: 1, High: 4, Low: 0.5, Close: 2, Volume: 300}
	tests := []struct {
		field Field
		want  float64
	}{
		{FieldOpen, 1},
		{FieldHigh, 4},
		{FieldLow, 0.5},
		{FieldClose, 2},
		{FieldVolume, 300},
	}
	for _, tt := range tests {
		got, ok := bar.Value(tt.field)
		if !ok || got != tt.want {
			t.Errorf("Value(%s) = %v, %v; want %v, true", tt.field, got, ok, tt.want)
		}
	}
	if _, ok := bar.Value("vwap"); ok {
		t.Error("Value(vwap) should report unknown field")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := map[OrderStatus]bool{
		OrderStatusSubmitted: false,
		OrderStatusAccepted:  false,
		OrderStatusCompleted: true,
		OrderStatusCanceled:  true,
		OrderStatusMargin:    true,
		OrderStatusRejected:  true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestOrderSideHelpers(t *testing.T) {
	if OrderSideBuy.Opposite() != OrderSideSell || OrderSideSell.Opposite() != OrderSideBuy {
		t.Error("Opposite did not swap sides")
	}
	if OrderSideBuy.Sign() != 1 || OrderSideSell.Sign() != -1 {
		t.Error("Sign returned unexpected values")
	}
	if SideOf(OrderSideSell) != PositionSideShort {
		t.Errorf("SideOf(sell) = %q, want %q", SideOf(OrderSideSell), PositionSideShort)
	}
}
