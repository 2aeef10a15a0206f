package harness

import (
	"context"

	"polytrader/pkg/types"
)

// Strategy is the contract user code implements. OnPriceUpdate is the only
// required callback; everything else is an optional capability the harness
// probes for with a type assertion (see the interfaces below).
//
// All callbacks run serially in the dispatch goroutine, so strategies do not
// need to be thread-safe. A callback that blocks will block all market
// updates.
type Strategy interface {
	Name() string
	OnPriceUpdate(market *types.Market, tokenID string, price float64)
}

// Starter is called once before the event loop begins. Returning an error
// aborts the run.
type Starter interface {
	OnStart(ctx context.Context) error
}

// Stopper is called once during shutdown, after the event loop has exited.
type Stopper interface {
	OnStop()
}

// BookHandler receives full order book snapshots.
type BookHandler interface {
	OnOrderBookUpdate(market *types.Market, book types.OrderBook)
}

// TradeHandler receives the public trade tape.
type TradeHandler interface {
	OnMarketTrade(market *types.Market, trade types.MarketTrade)
}

// FillHandler is notified when one of the strategy's own orders fills.
// Engine state (balance, position) is already updated when it runs, and the
// strategy may submit follow-up orders from inside the callback.
type FillHandler interface {
	OnFill(order types.Order, trade types.Trade)
}

// Heartbeater replaces the harness's default heartbeat status line.
type Heartbeater interface {
	OnHeartbeat()
}

// ErrorHandler observes panics recovered from other callbacks. The harness
// keeps running either way.
type ErrorHandler interface {
	OnError(err error)
}
