package types

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderPending, false},
		{OrderOpen, false},
		{OrderPartiallyFilled, false},
		{OrderFilled, true},
		{OrderCancelled, true},
		{OrderRejected, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestMarketPriceRouting(t *testing.T) {
	t.Parallel()

	m := &Market{YesTokenID: "TY", NoTokenID: "TN"}

	if !m.SetPrice("TY", 0.62) {
		t.Fatal("SetPrice(TY) = false, want true")
	}
	if !m.SetPrice("TN", 0.38) {
		t.Fatal("SetPrice(TN) = false, want true")
	}
	if m.SetPrice("other", 0.5) {
		t.Error("SetPrice(other) = true, want false")
	}

	if p, ok := m.PriceOf("TY"); !ok || p != 0.62 {
		t.Errorf("PriceOf(TY) = %v, %v, want 0.62, true", p, ok)
	}
	if p, ok := m.PriceOf("TN"); !ok || p != 0.38 {
		t.Errorf("PriceOf(TN) = %v, %v, want 0.38, true", p, ok)
	}
	if _, ok := m.PriceOf("other"); ok {
		t.Error("PriceOf(other) ok = true, want false")
	}
}

func TestMarketOutcome(t *testing.T) {
	t.Parallel()

	m := &Market{YesTokenID: "TY", NoTokenID: "TN"}

	if got := m.Outcome("TY"); got != "YES" {
		t.Errorf("Outcome(TY) = %q, want YES", got)
	}
	if got := m.Outcome("TN"); got != "NO" {
		t.Errorf("Outcome(TN) = %q, want NO", got)
	}
	if got := m.Outcome("zzz"); got != "" {
		t.Errorf("Outcome(zzz) = %q, want empty", got)
	}
	if !m.HasToken("TY") || !m.HasToken("TN") || m.HasToken("zzz") {
		t.Error("HasToken routing wrong")
	}
}

func TestTradeValue(t *testing.T) {
	t.Parallel()

	tr := Trade{
		Price: decimal.NewFromFloat(0.40),
		Size:  decimal.NewFromInt(100),
	}
	want := decimal.NewFromInt(40)
	if !tr.Value().Equal(want) {
		t.Errorf("Value() = %s, want %s", tr.Value(), want)
	}
}

func TestOrderRemaining(t *testing.T) {
	t.Parallel()

	o := &Order{
		Size:       decimal.NewFromInt(100),
		FilledSize: decimal.NewFromInt(30),
	}
	if !o.Remaining().Equal(decimal.NewFromInt(70)) {
		t.Errorf("Remaining() = %s, want 70", o.Remaining())
	}
}

func TestOrderBookDerived(t *testing.T) {
	t.Parallel()

	book := OrderBook{
		TokenID: "TY",
		Bids:    []PriceLevel{{Price: 0.48, Size: 100}, {Price: 0.47, Size: 50}},
		Asks:    []PriceLevel{{Price: 0.52, Size: 80}},
	}

	bid, ok := book.BestBid()
	if !ok || bid != 0.48 {
		t.Errorf("BestBid() = %v, %v, want 0.48, true", bid, ok)
	}
	ask, ok := book.BestAsk()
	if !ok || ask != 0.52 {
		t.Errorf("BestAsk() = %v, %v, want 0.52, true", ask, ok)
	}
	mid, ok := book.Mid()
	if !ok || math.Abs(mid-0.50) > 1e-10 {
		t.Errorf("Mid() = %v, %v, want 0.50, true", mid, ok)
	}
	spread, ok := book.Spread()
	if !ok || math.Abs(spread-0.04) > 1e-10 {
		t.Errorf("Spread() = %v, %v, want 0.04, true", spread, ok)
	}
}

func TestOrderBookEmptySides(t *testing.T) {
	t.Parallel()

	book := OrderBook{Asks: []PriceLevel{{Price: 0.52, Size: 80}}}

	if _, ok := book.BestBid(); ok {
		t.Error("BestBid() on empty bids should report false")
	}
	if _, ok := book.Mid(); ok {
		t.Error("Mid() with empty bids should report false")
	}
	if _, ok := book.Spread(); ok {
		t.Error("Spread() with empty bids should report false")
	}
}
