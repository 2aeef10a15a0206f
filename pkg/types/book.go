package types

// PriceLevel is a single bid or ask level in the order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a point-in-time view of one outcome token's order book.
// Bids are sorted descending by price, asks ascending, so index 0 is
// top-of-book on both sides. Books are passed by value; nobody mutates
// a snapshot after the decoder produces it.
type OrderBook struct {
	TokenID string
	Bids    []PriceLevel
	Asks    []PriceLevel
}

// BestBid returns the highest bid, or false when the bid side is empty.
func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask, or false when the ask side is empty.
func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// Mid returns (bestBid + bestAsk) / 2, or false when either side is empty.
func (b OrderBook) Mid() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Spread returns bestAsk − bestBid, or false when either side is empty.
func (b OrderBook) Spread() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask - bid, true
}
