// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading runtime — order and
// trade records, market metadata, decoded stream events, and the wire shapes
// exchanged with the venue. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	LIMIT  OrderType = "LIMIT"  // fills at the stated price
	MARKET OrderType = "MARKET" // fills at the stated price adjusted for slippage
)

// OrderStatus tracks an order through its lifecycle. Transitions are monotone:
// PENDING → OPEN → {PARTIALLY_FILLED, FILLED, CANCELLED, REJECTED}.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// ExecutionMode selects between local fill simulation and the live venue.
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Market is the internal representation of a binary prediction market.
// Built by the metadata client at startup; after that the only field the
// runtime mutates is the last-known outcome prices, driven by stream events.
// A binary market has exactly two outcome tokens (YES and NO) whose prices
// live in [0, 1].
type Market struct {
	ID          string // venue market ID
	ConditionID string // condition ID grouping the token pair (user channel subscription key)
	Slug        string // human-readable URL slug
	Question    string // the prediction question

	YesTokenID string // token ID for the YES outcome
	NoTokenID  string // token ID for the NO outcome

	YesPrice float64 // last-known YES price
	NoPrice  float64 // last-known NO price

	Volume    float64 // lifetime volume in USD
	Liquidity float64 // total USD liquidity on the book
	Closed    bool    // market has been resolved
	Active    bool    // market is live
	EndDate   time.Time
}

// HasToken reports whether tokenID is one of the market's outcome tokens.
func (m *Market) HasToken(tokenID string) bool {
	return tokenID == m.YesTokenID || tokenID == m.NoTokenID
}

// Outcome returns "YES" or "NO" for one of the market's token IDs,
// or "" when the token does not belong to this market.
func (m *Market) Outcome(tokenID string) string {
	switch tokenID {
	case m.YesTokenID:
		return "YES"
	case m.NoTokenID:
		return "NO"
	}
	return ""
}

// PriceOf returns the last-known price for the given outcome token.
func (m *Market) PriceOf(tokenID string) (float64, bool) {
	switch tokenID {
	case m.YesTokenID:
		return m.YesPrice, true
	case m.NoTokenID:
		return m.NoPrice, true
	}
	return 0, false
}

// SetPrice updates the last-known price for the given outcome token.
func (m *Market) SetPrice(tokenID string, price float64) bool {
	switch tokenID {
	case m.YesTokenID:
		m.YesPrice = price
		return true
	case m.NoTokenID:
		m.NoPrice = price
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Orders, trades, positions
// ————————————————————————————————————————————————————————————————————————

// OrderIntent is what a strategy asks the execution engine to do.
// Prices and sizes are plain floats on the strategy side; the engine
// converts them to decimals once the intent passes pre-trade checks.
type OrderIntent struct {
	MarketID string
	TokenID  string
	Side     Side
	Type     OrderType
	Price    float64 // must be inside (0, 1)
	Size     float64 // must be > 0
}

// Order is an intent that has been accepted by the execution engine.
// Money fields are decimals so accounting stays exact across fills.
type Order struct {
	ID         string          // engine-assigned (paper) or venue-assigned (live)
	MarketID   string
	TokenID    string
	Side       Side
	Type       OrderType
	Price      decimal.Decimal
	Size       decimal.Decimal
	FilledSize decimal.Decimal // invariant: FilledSize <= Size
	Status     OrderStatus
	IsPaper    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FilledAt   time.Time // zero until fully filled
}

// Remaining returns the unfilled portion of the order.
func (o *Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// Trade is an immutable execution record referencing its parent order.
type Trade struct {
	ID         string
	OrderID    string
	MarketID   string
	TokenID    string
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	Fee        decimal.Decimal // zero unless the venue reports one
	ExecutedAt time.Time
}

// Value returns price × size.
func (t Trade) Value() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// Position is the per-token holding aggregate. AvgEntryPrice is the
// size-weighted mean of buy fills not yet matched by sells. A position whose
// size reaches zero is deleted rather than kept as an empty row.
type Position struct {
	TokenID       string
	MarketID      string
	Size          decimal.Decimal
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// MarketValue returns size × mark for the given mark price.
func (p Position) MarketValue(mark float64) decimal.Decimal {
	return p.Size.Mul(decimal.NewFromFloat(mark))
}

// ————————————————————————————————————————————————————————————————————————
// Stream events
// ————————————————————————————————————————————————————————————————————————

// MarketEvent is the tagged union produced by the stream decoder.
// Variants: PriceChange, BookSnapshot, MarketTrade, OrderUpdate.
type MarketEvent interface {
	marketEvent()
}

// PriceChange reports a new last price for one outcome token.
// BestBid/BestAsk are nil when the frame did not carry them.
type PriceChange struct {
	MarketID  string
	TokenID   string
	Price     float64
	BestBid   *float64
	BestAsk   *float64
	Timestamp time.Time
}

// BookSnapshot is a full order book image for one outcome token.
type BookSnapshot struct {
	MarketID  string
	TokenID   string
	Book      OrderBook
	Timestamp time.Time
}

// MarketTrade reports an execution on the venue (not necessarily ours).
type MarketTrade struct {
	ID        string
	MarketID  string
	TokenID   string
	Side      Side
	Price     float64
	Size      float64
	Timestamp time.Time
}

// OrderEventKind discriminates user-channel order lifecycle events.
type OrderEventKind string

const (
	OrderEventPlacement OrderEventKind = "order"
	OrderEventFill      OrderEventKind = "order_fill"
	OrderEventCancel    OrderEventKind = "order_cancel"
)

// OrderUpdate is a user-channel lifecycle event for one of our orders.
// Price and Size are nil when the frame did not carry them. FillSeq is the
// venue's per-order fill counter, used to deduplicate redelivered fills.
type OrderUpdate struct {
	OrderID   string
	Kind      OrderEventKind
	MarketID  string
	TokenID   string
	Side      Side
	Price     *float64
	Size      *float64
	FillSeq   int64
	Timestamp time.Time
}

func (PriceChange) marketEvent()  {}
func (BookSnapshot) marketEvent() {}
func (MarketTrade) marketEvent()  {}
func (OrderUpdate) marketEvent()  {}

// ————————————————————————————————————————————————————————————————————————
// Wire shapes
// ————————————————————————————————————————————————————————————————————————

// WSAuth carries the L2 API credential triplet for the user channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSSubscribeMsg is the subscription frame sent after connecting.
// Market channel: {type:"MARKET", assets_ids:[…], initial_dump:true, auth?}.
// User channel:   {type:"USER", auth:{…}, markets:[…]}.
type WSSubscribeMsg struct {
	Auth        *WSAuth  `json:"auth,omitempty"`
	Type        string   `json:"type"`
	Markets     []string `json:"markets,omitempty"`
	AssetIDs    []string `json:"assets_ids,omitempty"`
	InitialDump bool     `json:"initial_dump,omitempty"`
}
