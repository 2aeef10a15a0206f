// Package harness runs a strategy against the live event stream: it resolves
// configured market references, subscribes both streaming channels, dispatches
// typed events into the strategy, reconciles fills with the execution engine,
// and emits a periodic heartbeat.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/executor"
	"polytrader/internal/stream"
	"polytrader/internal/venue"
	"polytrader/pkg/types"
)

// ErrNoMarkets is returned when none of the configured references resolve.
var ErrNoMarkets = errors.New("no markets resolved")

// Resolver looks up configured market references. Satisfied by
// venue.MetadataClient.
type Resolver interface {
	Resolve(ctx context.Context, ref venue.MarketRef) ([]types.Market, error)
}

// Stream is the slice of the multiplexer the harness needs. Satisfied by
// stream.Multiplexer.
type Stream interface {
	Events() <-chan types.MarketEvent
	SubscribeMarket(tokenIDs []string) error
	SubscribeUser(conditionIDs []string) error
	MarketState() stream.ChannelState
	UserState() stream.ChannelState
	Run(ctx context.Context) error
}

// Harness owns the dispatch loop. All strategy callbacks and engine writes
// happen on its goroutine.
type Harness struct {
	cfg      config.HarnessConfig
	resolver Resolver
	stream   Stream
	engine   *executor.Engine
	strategy Strategy
	logger   *slog.Logger

	markets map[string]*types.Market // by market ID
	byToken map[string]*types.Market // by either outcome token ID
}

// New assembles a harness. The engine's fill listener is claimed here: fills
// flow engine → harness → strategy.
func New(cfg config.HarnessConfig, resolver Resolver, st Stream, engine *executor.Engine, strat Strategy, logger *slog.Logger) *Harness {
	h := &Harness{
		cfg:      cfg,
		resolver: resolver,
		stream:   st,
		engine:   engine,
		strategy: strat,
		logger:   logger.With("component", "harness", "strategy", strat.Name()),
		markets:  make(map[string]*types.Market),
		byToken:  make(map[string]*types.Market),
	}
	engine.SetFillListener(h.handleFill)
	return h
}

// Market returns a loaded market by ID.
func (h *Harness) Market(id string) (*types.Market, bool) {
	m, ok := h.markets[id]
	return m, ok
}

// Run executes the full lifecycle: load, wire, subscribe, dispatch, stop.
// It blocks until ctx is cancelled or the stream fails fatally.
func (h *Harness) Run(ctx context.Context) error {
	if err := h.loadMarkets(ctx); err != nil {
		return err
	}
	if err := h.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if starter, ok := h.strategy.(Starter); ok {
		if err := starter.OnStart(ctx); err != nil {
			return fmt.Errorf("strategy start: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamErr := make(chan error, 1)
	go func() { streamErr <- h.stream.Run(runCtx) }()

	interval := h.cfg.HeartbeatInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case err := <-streamErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				runErr = fmt.Errorf("stream: %w", err)
			}
			break loop

		case <-heartbeat.C:
			h.emitHeartbeat()

		case ev, ok := <-h.stream.Events():
			if !ok {
				break loop
			}
			h.dispatch(ev)
		}
	}

	// Drain events the stream already queued so an in-flight fill is not
	// dropped between cancellation and the strategy's stop callback.
drain:
	for {
		select {
		case ev, ok := <-h.stream.Events():
			if !ok {
				break drain
			}
			h.dispatch(ev)
		default:
			break drain
		}
	}

	if stopper, ok := h.strategy.(Stopper); ok {
		h.safeCall("on_stop", stopper.OnStop)
	}
	h.logger.Info("harness stopped")
	return runErr
}

// loadMarkets resolves every configured reference. Unresolvable references
// are logged and skipped; only zero resolutions is fatal.
func (h *Harness) loadMarkets(ctx context.Context) error {
	for _, raw := range h.cfg.Markets {
		ref, err := venue.ParseMarketRef(raw)
		if err != nil {
			h.logger.Warn("skipping malformed market reference", "ref", raw, "error", err)
			continue
		}
		resolved, err := h.resolver.Resolve(ctx, ref)
		if err != nil {
			h.logger.Warn("market reference did not resolve", "ref", raw, "error", err)
			continue
		}
		for i := range resolved {
			m := &resolved[i]
			if _, dup := h.markets[m.ID]; dup {
				continue
			}
			h.markets[m.ID] = m
			h.byToken[m.YesTokenID] = m
			h.byToken[m.NoTokenID] = m
			h.logger.Info("market loaded",
				"market_id", m.ID,
				"slug", m.Slug,
				"question", m.Question,
			)
		}
	}
	if len(h.markets) == 0 {
		return ErrNoMarkets
	}
	return nil
}

// subscribe submits both outcome tokens of every market to the market
// channel and the condition IDs to the user channel.
func (h *Harness) subscribe() error {
	var tokens []string
	var conditions []string
	for _, m := range h.markets {
		tokens = append(tokens, m.YesTokenID, m.NoTokenID)
		if m.ConditionID != "" {
			conditions = append(conditions, m.ConditionID)
		}
	}
	if err := h.stream.SubscribeMarket(tokens); err != nil {
		return err
	}
	return h.stream.SubscribeUser(conditions)
}

// dispatch routes one stream event. Unknown tokens and orders are logged and
// dropped; a panicking callback never takes the loop down.
func (h *Harness) dispatch(ev types.MarketEvent) {
	switch e := ev.(type) {
	case types.PriceChange:
		market, ok := h.byToken[e.TokenID]
		if !ok {
			h.logger.Debug("price for unknown token", "token_id", e.TokenID)
			return
		}
		market.SetPrice(e.TokenID, e.Price)
		h.safeCall("on_price_update", func() {
			h.strategy.OnPriceUpdate(market, e.TokenID, e.Price)
		})

	case types.BookSnapshot:
		handler, ok := h.strategy.(BookHandler)
		if !ok {
			return
		}
		market, known := h.byToken[e.TokenID]
		if !known {
			return
		}
		h.safeCall("on_orderbook_update", func() {
			handler.OnOrderBookUpdate(market, e.Book)
		})

	case types.MarketTrade:
		handler, ok := h.strategy.(TradeHandler)
		if !ok {
			return
		}
		market, known := h.byToken[e.TokenID]
		if !known {
			return
		}
		h.safeCall("on_market_trade", func() {
			handler.OnMarketTrade(market, e)
		})

	case types.OrderUpdate:
		if err := h.engine.HandleOrderUpdate(e); err != nil {
			if errors.Is(err, executor.ErrUnknownOrder) {
				h.logger.Debug("order update for unknown order", "order_id", e.OrderID)
				return
			}
			h.logger.Warn("order update rejected", "order_id", e.OrderID, "error", err)
		}
	}
}

// handleFill runs as the engine's fill listener, on whichever goroutine
// finalized the fill: the dispatch goroutine for streamed fills, or the
// caller of Submit for synchronous paper fills.
func (h *Harness) handleFill(order types.Order, trade types.Trade) {
	h.logger.Info("fill dispatched",
		"order_id", order.ID,
		"token_id", order.TokenID,
		"side", order.Side,
		"price", trade.Price,
		"size", trade.Size,
	)
	if handler, ok := h.strategy.(FillHandler); ok {
		h.safeCall("on_fill", func() { handler.OnFill(order, trade) })
	}
}

// emitHeartbeat calls the strategy's heartbeat if it defines one, otherwise
// logs a status line.
func (h *Harness) emitHeartbeat() {
	if hb, ok := h.strategy.(Heartbeater); ok {
		h.safeCall("on_heartbeat", hb.OnHeartbeat)
		return
	}
	stats := h.engine.StatsSnapshot(h.markPrices())
	h.logger.Info("heartbeat",
		"markets", len(h.markets),
		"market_socket", h.stream.MarketState().String(),
		"user_socket", h.stream.UserState().String(),
		"balance", stats.Balance,
		"equity", stats.Equity,
		"realized_pnl", stats.RealizedPnL,
		"open_orders", stats.OpenOrders,
		"positions", stats.OpenPositions,
	)
}

// markPrices collects the last-known price per token for equity marking.
func (h *Harness) markPrices() map[string]float64 {
	marks := make(map[string]float64, 2*len(h.markets))
	for _, m := range h.markets {
		if m.YesPrice > 0 {
			marks[m.YesTokenID] = m.YesPrice
		}
		if m.NoPrice > 0 {
			marks[m.NoTokenID] = m.NoPrice
		}
	}
	return marks
}

// safeCall invokes a strategy callback, converting a panic into a logged
// error (and an OnError notification when the strategy handles those).
func (h *Harness) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("strategy callback %s panicked: %v", name, r)
			h.logger.Error("strategy callback panicked", "callback", name, "panic", r)
			if handler, ok := h.strategy.(ErrorHandler); ok {
				handler.OnError(err)
			}
		}
	}()
	fn()
}
