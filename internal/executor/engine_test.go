package executor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

var testLogger = slog.New(slog.NewTextHandler(&strings.Builder{}, nil))

func newPaperEngine(t *testing.T, slippage float64) *Engine {
	t.Helper()
	return New(Config{
		Mode:            types.ModePaper,
		StartingBalance: 10000,
		Slippage:        slippage,
	}, nil, nil, testLogger)
}

func buy(token string, price, size float64) types.OrderIntent {
	return types.OrderIntent{MarketID: "M1", TokenID: token, Side: types.BUY, Type: types.LIMIT, Price: price, Size: size}
}

func sell(token string, price, size float64) types.OrderIntent {
	return types.OrderIntent{MarketID: "M1", TokenID: token, Side: types.SELL, Type: types.LIMIT, Price: price, Size: size}
}

func mustEqual(t *testing.T, name string, got decimal.Decimal, want float64) {
	t.Helper()
	if !got.Equal(decimal.NewFromFloat(want)) {
		t.Errorf("%s = %s, want %v", name, got, want)
	}
}

func TestBuySellCycle(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	order, err := eng.Submit(ctx, buy("T1", 0.40, 100))
	if err != nil {
		t.Fatalf("BUY error: %v", err)
	}
	if order.Status != types.OrderFilled {
		t.Errorf("BUY status = %s, want FILLED", order.Status)
	}
	if !strings.HasPrefix(order.ID, "paper_") {
		t.Errorf("paper order id = %q, want paper_ prefix", order.ID)
	}
	mustEqual(t, "balance after BUY", eng.Balance(), 9960)

	pos, ok := eng.Position("T1")
	if !ok {
		t.Fatal("position missing after BUY")
	}
	mustEqual(t, "position size", pos.Size, 100)
	mustEqual(t, "avg entry", pos.AvgEntryPrice, 0.40)

	order, err = eng.Submit(ctx, sell("T1", 0.50, 100))
	if err != nil {
		t.Fatalf("SELL error: %v", err)
	}
	if order.Status != types.OrderFilled {
		t.Errorf("SELL status = %s, want FILLED", order.Status)
	}
	mustEqual(t, "balance after SELL", eng.Balance(), 10010)

	if _, ok := eng.Position("T1"); ok {
		t.Error("flat position must be removed from the map")
	}
	mustEqual(t, "realized pnl", eng.RealizedPnL(), 10)
}

func TestOverSellRejected(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	if _, err := eng.Submit(ctx, buy("T1", 0.40, 100)); err != nil {
		t.Fatal(err)
	}
	balanceBefore := eng.Balance()
	tradesBefore := len(eng.Trades())

	_, err := eng.Submit(ctx, sell("T1", 0.50, 150))
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("err = %v, want ErrInsufficientPosition", err)
	}

	if !eng.Balance().Equal(balanceBefore) {
		t.Error("balance changed on rejected order")
	}
	if len(eng.Trades()) != tradesBefore {
		t.Error("trade recorded for rejected order")
	}
	pos, _ := eng.Position("T1")
	mustEqual(t, "position size unchanged", pos.Size, 100)
}

func TestPreTradeChecks(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		intent  types.OrderIntent
		wantErr error
	}{
		{"zero size", buy("T1", 0.50, 0), ErrInvalidSize},
		{"negative size", buy("T1", 0.50, -5), ErrInvalidSize},
		{"price zero", buy("T1", 0, 10), ErrInvalidPrice},
		{"price one", buy("T1", 1, 10), ErrInvalidPrice},
		{"price above one", buy("T1", 1.2, 10), ErrInvalidPrice},
		{"insufficient funds", buy("T1", 0.50, 100000), ErrInsufficientFunds},
		{"sell without position", sell("T9", 0.50, 1), ErrInsufficientPosition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Submit(ctx, tt.intent)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarketOrderSlippage(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0.01)
	ctx := context.Background()

	// MARKET buys pay up by the slippage factor.
	intent := buy("T1", 0.50, 100)
	intent.Type = types.MARKET
	if _, err := eng.Submit(ctx, intent); err != nil {
		t.Fatal(err)
	}
	// fill at 0.50 * 1.01 = 0.505, cost 50.5
	mustEqual(t, "balance after MARKET buy", eng.Balance(), 10000-50.5)

	// MARKET sells sell down.
	out := sell("T1", 0.50, 100)
	out.Type = types.MARKET
	if _, err := eng.Submit(ctx, out); err != nil {
		t.Fatal(err)
	}
	// fill at 0.50 * 0.99 = 0.495, proceeds 49.5
	mustEqual(t, "balance after MARKET sell", eng.Balance(), 10000-50.5+49.5)
}

func TestLimitOrderIgnoresSlippage(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0.05)
	ctx := context.Background()

	if _, err := eng.Submit(ctx, buy("T1", 0.40, 100)); err != nil {
		t.Fatal(err)
	}
	mustEqual(t, "balance", eng.Balance(), 9960)
}

func TestAccountingInvariant(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	intents := []types.OrderIntent{
		buy("T1", 0.40, 100),
		buy("T1", 0.50, 50),
		sell("T1", 0.55, 120),
		buy("T2", 0.30, 200),
		sell("T2", 0.25, 80),
		sell("T1", 0.60, 30),
	}
	for i, intent := range intents {
		if _, err := eng.Submit(ctx, intent); err != nil {
			t.Fatalf("intent %d: %v", i, err)
		}
	}

	// balance + Σ(size × avg_entry) − starting == realized, exactly.
	holdings := decimal.Zero
	for _, pos := range eng.Positions() {
		holdings = holdings.Add(pos.Size.Mul(pos.AvgEntryPrice))
	}
	lhs := eng.Balance().Add(holdings).Sub(decimal.NewFromInt(10000))
	if !lhs.Equal(eng.RealizedPnL()) {
		t.Errorf("accounting identity broken: balance+holdings-starting=%s realized=%s", lhs, eng.RealizedPnL())
	}

	// The cash leg alone must equal the signed trade sum.
	signedSum := decimal.Zero
	for _, tr := range eng.Trades() {
		if tr.Side == types.BUY {
			signedSum = signedSum.Sub(tr.Value())
		} else {
			signedSum = signedSum.Add(tr.Value())
		}
	}
	if !eng.Balance().Sub(decimal.NewFromInt(10000)).Equal(signedSum) {
		t.Errorf("cash drift: balance delta=%s signed trade sum=%s",
			eng.Balance().Sub(decimal.NewFromInt(10000)), signedSum)
	}
}

func TestAvgEntryWeighting(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	eng.Submit(ctx, buy("T1", 0.40, 100))
	eng.Submit(ctx, buy("T1", 0.60, 100))

	pos, _ := eng.Position("T1")
	mustEqual(t, "avg entry", pos.AvgEntryPrice, 0.50)
	mustEqual(t, "size", pos.Size, 200)

	// Partial sell keeps the average entry of the remaining lot.
	eng.Submit(ctx, sell("T1", 0.70, 50))
	pos, _ = eng.Position("T1")
	mustEqual(t, "avg entry after partial sell", pos.AvgEntryPrice, 0.50)
	mustEqual(t, "size after partial sell", pos.Size, 150)
	mustEqual(t, "realized", eng.RealizedPnL(), 10) // (0.70-0.50)*50
}

func TestRealizedSurvivesFlatPosition(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	eng.Submit(ctx, buy("T1", 0.40, 100))
	eng.Submit(ctx, sell("T1", 0.50, 100))
	eng.Submit(ctx, buy("T1", 0.45, 10))
	eng.Submit(ctx, sell("T1", 0.40, 10))

	// +10 from the first round trip, −0.5 from the second.
	mustEqual(t, "realized", eng.RealizedPnL(), 9.5)
}

func TestCancelSemantics(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	order, err := eng.Submit(ctx, buy("T1", 0.40, 100))
	if err != nil {
		t.Fatal(err)
	}

	// Paper orders fill synchronously: terminal, so Cancel is a false no-op.
	ok, err := eng.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if ok {
		t.Error("Cancel on FILLED order = true, want false")
	}

	if _, err := eng.Cancel(ctx, "nope"); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("Cancel unknown = %v, want ErrUnknownOrder", err)
	}
}

func TestCancelPartiallyFilled(t *testing.T) {
	t.Parallel()

	venue := &stubVenue{nextID: "venue-1"}
	eng := New(Config{Mode: types.ModeLive, StartingBalance: 10000}, nil, venue, testLogger)
	ctx := context.Background()

	if _, err := eng.Submit(ctx, buy("T1", 0.40, 100)); err != nil {
		t.Fatal(err)
	}

	price, size := 0.40, 50.0
	if err := eng.HandleOrderUpdate(types.OrderUpdate{
		OrderID: "venue-1",
		Kind:    types.OrderEventFill,
		Price:   &price,
		Size:    &size,
		FillSeq: 1,
	}); err != nil {
		t.Fatal(err)
	}

	// Only PENDING and OPEN orders are cancellable.
	ok, err := eng.Cancel(ctx, "venue-1")
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if ok {
		t.Error("Cancel on PARTIALLY_FILLED order = true, want false")
	}
	if len(venue.cancels) != 0 {
		t.Errorf("venue cancel requested for uncancellable order: %v", venue.cancels)
	}
	order, _ := eng.Order("venue-1")
	if order.Status != types.OrderPartiallyFilled {
		t.Errorf("status = %s, want PARTIALLY_FILLED unchanged", order.Status)
	}
}

func TestCancelOpenLiveOrder(t *testing.T) {
	t.Parallel()

	venue := &stubVenue{nextID: "venue-1"}
	eng := New(Config{Mode: types.ModeLive, StartingBalance: 10000}, nil, venue, testLogger)
	ctx := context.Background()

	if _, err := eng.Submit(ctx, buy("T1", 0.40, 100)); err != nil {
		t.Fatal(err)
	}

	ok, err := eng.Cancel(ctx, "venue-1")
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if !ok {
		t.Error("Cancel on OPEN order = false, want true")
	}
	if len(venue.cancels) != 1 || venue.cancels[0] != "venue-1" {
		t.Errorf("venue cancels = %v, want [venue-1]", venue.cancels)
	}
	order, _ := eng.Order("venue-1")
	if order.Status != types.OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", order.Status)
	}
}

func TestFillListenerFires(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)

	var fills []types.Trade
	eng.SetFillListener(func(order types.Order, trade types.Trade) {
		if order.Status != types.OrderFilled {
			t.Errorf("listener sees status %s, want FILLED", order.Status)
		}
		fills = append(fills, trade)
	})

	eng.Submit(context.Background(), buy("T1", 0.40, 100))
	if len(fills) != 1 {
		t.Fatalf("listener fired %d times, want 1", len(fills))
	}
	mustEqual(t, "trade value", fills[0].Value(), 40)
}

func TestFillListenerMaySubmit(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	first := true
	eng.SetFillListener(func(order types.Order, trade types.Trade) {
		if first {
			first = false
			// A follow-up submit from the fill callback must not deadlock.
			if _, err := eng.Submit(ctx, buy("T2", 0.30, 10)); err != nil {
				t.Errorf("nested submit: %v", err)
			}
		}
	})

	if _, err := eng.Submit(ctx, buy("T1", 0.40, 100)); err != nil {
		t.Fatal(err)
	}
	if len(eng.Trades()) != 2 {
		t.Errorf("trades = %d, want 2", len(eng.Trades()))
	}
}

// failingPersister always errors; persistence failures must not disturb
// engine state.
type failingPersister struct{}

func (failingPersister) SaveOrder(types.Order) error       { return errors.New("disk gone") }
func (failingPersister) SaveTrade(types.Trade) error       { return errors.New("disk gone") }
func (failingPersister) SavePosition(types.Position) error { return errors.New("disk gone") }

func TestPersistenceFailureNonFatal(t *testing.T) {
	t.Parallel()
	eng := New(Config{Mode: types.ModePaper, StartingBalance: 10000}, failingPersister{}, nil, testLogger)

	order, err := eng.Submit(context.Background(), buy("T1", 0.40, 100))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if order.Status != types.OrderFilled {
		t.Errorf("status = %s, want FILLED", order.Status)
	}
	mustEqual(t, "balance", eng.Balance(), 9960)
}

func TestLiveFillDedup(t *testing.T) {
	t.Parallel()

	venue := &stubVenue{nextID: "venue-1"}
	eng := New(Config{Mode: types.ModeLive, StartingBalance: 10000}, nil, venue, testLogger)
	ctx := context.Background()

	if _, err := eng.Submit(ctx, buy("T1", 0.40, 100)); err != nil {
		t.Fatal(err)
	}
	mustEqual(t, "balance before fills", eng.Balance(), 10000)

	price, size := 0.40, 50.0
	fill := types.OrderUpdate{
		OrderID: "venue-1",
		Kind:    types.OrderEventFill,
		Price:   &price,
		Size:    &size,
		FillSeq: 1,
	}
	if err := eng.HandleOrderUpdate(fill); err != nil {
		t.Fatal(err)
	}
	// Redelivery of the same sequence must be a no-op.
	if err := eng.HandleOrderUpdate(fill); err != nil {
		t.Fatal(err)
	}
	mustEqual(t, "balance after dedup", eng.Balance(), 10000-20)

	fill.FillSeq = 2
	if err := eng.HandleOrderUpdate(fill); err != nil {
		t.Fatal(err)
	}
	mustEqual(t, "balance after second fill", eng.Balance(), 10000-40)

	order, _ := eng.Order("venue-1")
	if order.Status != types.OrderFilled {
		t.Errorf("status = %s, want FILLED after both fills", order.Status)
	}
}

func TestLiveVenueRejection(t *testing.T) {
	t.Parallel()

	venue := &stubVenue{placeErr: errors.New("order would cross")}
	eng := New(Config{Mode: types.ModeLive, StartingBalance: 10000}, nil, venue, testLogger)

	_, err := eng.Submit(context.Background(), buy("T1", 0.40, 100))
	if !errors.Is(err, ErrVenueRejected) {
		t.Fatalf("err = %v, want ErrVenueRejected", err)
	}
	if len(eng.OpenOrders()) != 0 {
		t.Error("rejected order must not be inserted")
	}
}

func TestEquityOnDemand(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	eng.Submit(ctx, buy("T1", 0.40, 100))

	// Marked at last price 0.55: equity = 9960 + 100*0.55
	equity := eng.Equity(map[string]float64{"T1": 0.55})
	mustEqual(t, "equity", equity, 9960+55)

	// Without a mark the position falls back to avg entry.
	equity = eng.Equity(nil)
	mustEqual(t, "equity at entry", equity, 10000)
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()
	eng := newPaperEngine(t, 0)
	ctx := context.Background()

	eng.Submit(ctx, buy("T1", 0.40, 100))
	eng.Submit(ctx, sell("T1", 0.50, 40))

	stats := eng.StatsSnapshot(nil)
	if stats.TradeCount != 2 {
		t.Errorf("TradeCount = %d, want 2", stats.TradeCount)
	}
	mustEqual(t, "volume", stats.Volume, 40+20)
	if stats.OpenPositions != 1 {
		t.Errorf("OpenPositions = %d, want 1", stats.OpenPositions)
	}
	mustEqual(t, "realized", stats.RealizedPnL, 4)
}

type stubVenue struct {
	nextID   string
	placeErr error
	cancels  []string
}

func (s *stubVenue) PlaceOrder(_ context.Context, _ types.OrderIntent) (string, error) {
	if s.placeErr != nil {
		return "", s.placeErr
	}
	return s.nextID, nil
}

func (s *stubVenue) CancelOrder(_ context.Context, orderID string) error {
	s.cancels = append(s.cancels, orderID)
	return nil
}
