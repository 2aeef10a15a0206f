// Package executor implements the execution engine: pre-trade checks, the
// paper fill simulator, live order forwarding, and the balance / position /
// trade accounting both modes share. The aim is that paper and live are
// operationally indistinguishable to a strategy.
//
// Accounting uses decimals throughout so the invariant
//
//	balance + Σ(position.size × avg_entry) + realized − starting_balance
//	  == signed sum of trade values
//
// holds exactly, not just within float tolerance.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

// Pre-trade and venue error taxonomy. Submit returns these synchronously;
// no state changes on rejection.
var (
	ErrInvalidSize          = errors.New("order size must be positive")
	ErrInvalidPrice         = errors.New("order price must be inside (0, 1)")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrVenueRejected        = errors.New("venue rejected order")
	ErrUnknownOrder         = errors.New("unknown order")
)

// Persister is the narrow storage port the engine writes through.
// Persistence failures are logged and swallowed; in-memory state stays
// authoritative for the running process.
type Persister interface {
	SaveOrder(order types.Order) error
	SaveTrade(trade types.Trade) error
	SavePosition(pos types.Position) error
}

// Venue forwards live orders. Unused in paper mode.
type Venue interface {
	PlaceOrder(ctx context.Context, intent types.OrderIntent) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
}

// FillListener is invoked after every fill, once the order, balance, and
// position deltas have been applied but before persistence.
type FillListener func(order types.Order, trade types.Trade)

// Config tunes the engine.
type Config struct {
	Mode            types.ExecutionMode
	StartingBalance float64
	Slippage        float64 // MARKET orders only: buys pay up, sells sell down
	FillDelayMs     int     // logged for observability, never awaited
}

// Engine owns the order, trade, and position state. It is called from the
// harness dispatch goroutine; the mutex exists for read access from the
// heartbeat and CLI paths, not for concurrent writers.
type Engine struct {
	mu sync.Mutex

	mode     types.ExecutionMode
	slippage decimal.Decimal
	delayMs  int

	startingBalance decimal.Decimal
	balance         decimal.Decimal
	orders          map[string]*types.Order
	trades          []types.Trade
	positions       map[string]*types.Position // keyed by token ID
	realized        decimal.Decimal            // survives flat-position deletion

	fillSeq map[string]int64 // per-order redelivery high-water mark

	persister Persister // optional
	venue     Venue     // live mode only
	onFill    FillListener

	logger *slog.Logger
}

// New creates an engine. persister and venue may be nil (no persistence,
// paper mode respectively).
func New(cfg Config, persister Persister, venue Venue, logger *slog.Logger) *Engine {
	starting := decimal.NewFromFloat(cfg.StartingBalance)
	return &Engine{
		mode:            cfg.Mode,
		slippage:        decimal.NewFromFloat(cfg.Slippage),
		delayMs:         cfg.FillDelayMs,
		startingBalance: starting,
		balance:         starting,
		orders:          make(map[string]*types.Order),
		positions:       make(map[string]*types.Position),
		fillSeq:         make(map[string]int64),
		persister:       persister,
		venue:           venue,
		logger:          logger.With("component", "executor"),
	}
}

// SetFillListener registers the post-fill callback. Must be called before
// the first Submit.
func (e *Engine) SetFillListener(fn FillListener) {
	e.onFill = fn
}

// fillResult captures one applied fill so the listener and persistence can
// run after the engine mutex is released. A strategy is allowed to submit a
// follow-up order from its fill callback.
type fillResult struct {
	order types.Order
	trade types.Trade
	pos   types.Position
}

// Submit runs the pre-trade checks in order and, on acceptance, inserts the
// order. Paper mode simulates the fill synchronously; live mode forwards to
// the venue and the fill arrives later via the user channel.
func (e *Engine) Submit(ctx context.Context, intent types.OrderIntent) (*types.Order, error) {
	e.mu.Lock()
	order, fill, err := e.submitLocked(ctx, intent)
	e.mu.Unlock()

	if fill != nil {
		e.finishFill(*fill)
	}
	return order, err
}

func (e *Engine) submitLocked(ctx context.Context, intent types.OrderIntent) (*types.Order, *fillResult, error) {
	if intent.Size <= 0 {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSize, intent.Size)
	}
	if intent.Price <= 0 || intent.Price >= 1 {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPrice, intent.Price)
	}

	price := decimal.NewFromFloat(intent.Price)
	size := decimal.NewFromFloat(intent.Size)

	switch intent.Side {
	case types.BUY:
		cost := price.Mul(size)
		if cost.GreaterThan(e.balance) {
			return nil, nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, e.balance)
		}
	case types.SELL:
		pos, ok := e.positions[intent.TokenID]
		if !ok || pos.Size.LessThan(size) {
			held := decimal.Zero
			if ok {
				held = pos.Size
			}
			return nil, nil, fmt.Errorf("%w: selling %s, holding %s", ErrInsufficientPosition, size, held)
		}
	default:
		return nil, nil, fmt.Errorf("%w: side %q", ErrVenueRejected, intent.Side)
	}

	now := time.Now().UTC()
	order := &types.Order{
		MarketID:  intent.MarketID,
		TokenID:   intent.TokenID,
		Side:      intent.Side,
		Type:      intent.Type,
		Price:     price,
		Size:      size,
		Status:    types.OrderOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if e.mode == types.ModeLive {
		venueID, err := e.venue.PlaceOrder(ctx, intent)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrVenueRejected, err)
		}
		order.ID = venueID
		e.orders[order.ID] = order
		e.logger.Info("order placed",
			"order_id", order.ID,
			"side", order.Side,
			"price", intent.Price,
			"size", intent.Size,
		)
		return snapshotOrder(order), nil, nil
	}

	order.ID = paperID()
	order.IsPaper = true
	e.orders[order.ID] = order

	fillPrice := price
	if intent.Type == types.MARKET && !e.slippage.IsZero() {
		if intent.Side == types.BUY {
			fillPrice = price.Mul(decimal.NewFromInt(1).Add(e.slippage))
		} else {
			fillPrice = price.Mul(decimal.NewFromInt(1).Sub(e.slippage))
		}
	}

	if e.delayMs > 0 {
		e.logger.Debug("paper fill delay elapsed (simulated)", "order_id", order.ID, "delay_ms", e.delayMs)
	}
	fill := e.applyFillLocked(order, fillPrice, size)
	return snapshotOrder(order), &fill, nil
}

// HandleOrderUpdate reconciles a user-channel event against engine state.
// Redelivered fills (at-least-once on reconnect) are deduplicated by order
// id plus the venue's monotone fill sequence.
func (e *Engine) HandleOrderUpdate(up types.OrderUpdate) error {
	e.mu.Lock()

	order, ok := e.orders[up.OrderID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, up.OrderID)
	}

	switch up.Kind {
	case types.OrderEventFill:
		if up.FillSeq <= e.fillSeq[up.OrderID] && up.FillSeq != 0 {
			e.mu.Unlock()
			e.logger.Debug("duplicate fill ignored", "order_id", up.OrderID, "seq", up.FillSeq)
			return nil
		}
		if up.Price == nil || up.Size == nil {
			e.mu.Unlock()
			return fmt.Errorf("%w: fill for %s missing price or size", ErrUnknownOrder, up.OrderID)
		}
		if up.FillSeq != 0 {
			e.fillSeq[up.OrderID] = up.FillSeq
		}
		fill := e.applyFillLocked(order, decimal.NewFromFloat(*up.Price), decimal.NewFromFloat(*up.Size))
		e.mu.Unlock()
		e.finishFill(fill)
		return nil

	case types.OrderEventCancel:
		if order.Status.Terminal() {
			e.mu.Unlock()
			return nil
		}
		order.Status = types.OrderCancelled
		order.UpdatedAt = time.Now().UTC()
		snapshot := *snapshotOrder(order)
		e.mu.Unlock()
		e.persistOrder(snapshot)
		return nil

	case types.OrderEventPlacement:
		// Placement acknowledgements carry nothing new for orders we created.
	}
	e.mu.Unlock()
	return nil
}

// Cancel requests cancellation. Only PENDING and OPEN orders are cancellable;
// anything else (terminal states, partially filled) is a no-op returning
// false, not an error. Live orders are only marked CANCELLED on venue
// acknowledgement.
func (e *Engine) Cancel(ctx context.Context, orderID string) (bool, error) {
	e.mu.Lock()

	order, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if order.Status != types.OrderPending && order.Status != types.OrderOpen {
		e.mu.Unlock()
		return false, nil
	}

	if e.mode == types.ModeLive {
		if err := e.venue.CancelOrder(ctx, orderID); err != nil {
			e.mu.Unlock()
			return false, fmt.Errorf("cancel order %s: %w", orderID, err)
		}
	}

	order.Status = types.OrderCancelled
	order.UpdatedAt = time.Now().UTC()
	snapshot := *snapshotOrder(order)
	e.mu.Unlock()

	e.persistOrder(snapshot)
	e.logger.Info("order cancelled", "order_id", orderID)
	return true, nil
}

// applyFillLocked applies the in-memory half of the fixed side-effect order:
// trade → order → balance → position. The listener and persistence halves run
// in finishFill once the mutex is released.
func (e *Engine) applyFillLocked(order *types.Order, fillPrice, fillSize decimal.Decimal) fillResult {
	now := time.Now().UTC()

	trade := types.Trade{
		ID:         paperTradeID(order.IsPaper),
		OrderID:    order.ID,
		MarketID:   order.MarketID,
		TokenID:    order.TokenID,
		Side:       order.Side,
		Price:      fillPrice,
		Size:       fillSize,
		ExecutedAt: now,
	}
	e.trades = append(e.trades, trade)

	order.FilledSize = order.FilledSize.Add(fillSize)
	if order.FilledSize.GreaterThanOrEqual(order.Size) {
		order.Status = types.OrderFilled
		order.FilledAt = now
	} else {
		order.Status = types.OrderPartiallyFilled
	}
	order.UpdatedAt = now

	value := fillPrice.Mul(fillSize)
	if order.Side == types.BUY {
		e.balance = e.balance.Sub(value)
	} else {
		e.balance = e.balance.Add(value)
	}

	pos := e.updatePositionLocked(order, fillPrice, fillSize, now)

	e.logger.Info("fill",
		"order_id", order.ID,
		"side", order.Side,
		"price", fillPrice,
		"size", fillSize,
		"balance", e.balance,
	)

	return fillResult{order: *snapshotOrder(order), trade: trade, pos: pos}
}

// finishFill notifies the strategy, then persists. A persistence failure is
// non-fatal; the in-memory deltas already applied are the source of truth.
func (e *Engine) finishFill(fill fillResult) {
	if e.onFill != nil {
		e.onFill(fill.order, fill.trade)
	}

	e.persistOrder(fill.order)
	if e.persister != nil {
		if err := e.persister.SaveTrade(fill.trade); err != nil {
			e.logger.Warn("persist trade failed", "trade_id", fill.trade.ID, "error", err)
		}
		if err := e.persister.SavePosition(fill.pos); err != nil {
			e.logger.Warn("persist position failed", "token_id", fill.pos.TokenID, "error", err)
		}
	}
}

// updatePositionLocked returns the resulting position; a zero-size result is
// returned for persistence (delete) but removed from the map.
func (e *Engine) updatePositionLocked(order *types.Order, fillPrice, fillSize decimal.Decimal, now time.Time) types.Position {
	pos, ok := e.positions[order.TokenID]
	if !ok {
		pos = &types.Position{
			TokenID:  order.TokenID,
			MarketID: order.MarketID,
			OpenedAt: now,
		}
		e.positions[order.TokenID] = pos
	}

	if order.Side == types.BUY {
		// avg entry = size-weighted mean of unmatched buy fills
		total := pos.AvgEntryPrice.Mul(pos.Size).Add(fillPrice.Mul(fillSize))
		pos.Size = pos.Size.Add(fillSize)
		pos.AvgEntryPrice = total.Div(pos.Size)
	} else {
		pnl := fillPrice.Sub(pos.AvgEntryPrice).Mul(fillSize)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		e.realized = e.realized.Add(pnl)
		pos.Size = pos.Size.Sub(fillSize)
	}
	pos.UpdatedAt = now

	result := *pos
	if pos.Size.IsZero() {
		delete(e.positions, order.TokenID)
	}
	return result
}

func (e *Engine) persistOrder(order types.Order) {
	if e.persister == nil {
		return
	}
	if err := e.persister.SaveOrder(order); err != nil {
		e.logger.Warn("persist order failed", "order_id", order.ID, "error", err)
	}
}

// Balance returns the current cash balance.
func (e *Engine) Balance() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// RealizedPnL returns the cumulative realized profit across all positions,
// including ones that have since gone flat.
func (e *Engine) RealizedPnL() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realized
}

// Equity computes balance + Σ(position.size × mark) on demand from
// authoritative state. Positions without a mark price fall back to their
// average entry.
func (e *Engine) Equity(marks map[string]float64) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	equity := e.balance
	for tokenID, pos := range e.positions {
		mark := pos.AvgEntryPrice
		if m, ok := marks[tokenID]; ok {
			mark = decimal.NewFromFloat(m)
		}
		equity = equity.Add(pos.Size.Mul(mark))
	}
	return equity
}

// Position returns a copy of the position for one token.
func (e *Engine) Position(tokenID string) (types.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[tokenID]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions.
func (e *Engine) Positions() []types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// Order returns a copy of a known order.
func (e *Engine) Order(orderID string) (types.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok {
		return types.Order{}, false
	}
	return *snapshotOrder(order), true
}

// OpenOrders returns copies of all non-terminal orders.
func (e *Engine) OpenOrders() []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Order
	for _, order := range e.orders {
		if !order.Status.Terminal() {
			out = append(out, *snapshotOrder(order))
		}
	}
	return out
}

// Trades returns a copy of the trade log in execution order.
func (e *Engine) Trades() []types.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Trade(nil), e.trades...)
}

// Stats is a point-in-time summary of engine state.
type Stats struct {
	Mode          types.ExecutionMode
	Balance       decimal.Decimal
	Equity        decimal.Decimal
	RealizedPnL   decimal.Decimal
	TradeCount    int
	Volume        decimal.Decimal
	OpenOrders    int
	OpenPositions int
}

// StatsSnapshot summarizes the engine using the given mark prices.
func (e *Engine) StatsSnapshot(marks map[string]float64) Stats {
	equity := e.Equity(marks)

	e.mu.Lock()
	defer e.mu.Unlock()

	volume := decimal.Zero
	for _, tr := range e.trades {
		volume = volume.Add(tr.Value())
	}
	open := 0
	for _, order := range e.orders {
		if !order.Status.Terminal() {
			open++
		}
	}
	return Stats{
		Mode:          e.mode,
		Balance:       e.balance,
		Equity:        equity,
		RealizedPnL:   e.realized,
		TradeCount:    len(e.trades),
		Volume:        volume,
		OpenOrders:    open,
		OpenPositions: len(e.positions),
	}
}

func snapshotOrder(o *types.Order) *types.Order {
	cp := *o
	return &cp
}

func paperID() string {
	return "paper_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func paperTradeID(isPaper bool) string {
	if isPaper {
		return "ptrade_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	return "trade_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
