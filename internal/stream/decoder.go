// Package stream implements the real-time data plane: the frame decoder that
// normalizes the venue's wire formats into typed events, and the multiplexer
// that owns the two WebSocket channels feeding them in.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"polytrader/pkg/types"
)

// ErrDecodeFailed marks frames that could not be parsed at all. Malformed
// frames are logged and skipped by the caller; they never stop the stream.
var ErrDecodeFailed = errors.New("frame decode failed")

// Decode turns one raw text frame into zero or more typed events.
//
// Two price_change shapes are accepted transparently: the legacy single-object
// form (asset_id/price/bid/ask at top level) and the batched form carrying a
// price_changes array. A frame may itself be a JSON array of objects; the
// array is flattened and each object decoded independently, with non-object
// elements silently dropped. Unknown event types produce zero events.
func Decode(data []byte) ([]types.MarketEvent, error) {
	payload := bytes.TrimSpace(data)
	if len(payload) == 0 || bytes.Equal(payload, []byte("PONG")) || bytes.Equal(payload, []byte("PING")) {
		return nil, nil
	}

	switch payload[0] {
	case '{':
		return decodeObject(payload)
	case '[':
		var elements []json.RawMessage
		if err := json.Unmarshal(payload, &elements); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		var events []types.MarketEvent
		var firstErr error
		for _, el := range elements {
			el = bytes.TrimSpace(el)
			if len(el) == 0 || el[0] != '{' {
				continue
			}
			evs, err := decodeObject(el)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			events = append(events, evs...)
		}
		return events, firstErr
	default:
		return nil, fmt.Errorf("%w: unexpected payload %q", ErrDecodeFailed, truncate(payload, 64))
	}
}

// wireFrame is the superset of fields across all event shapes the venue sends.
type wireFrame struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Timestamp wireNumber `json:"timestamp"`

	// price_change, legacy shape
	Price   wireNumber `json:"price"`
	Bid     wireNumber `json:"bid"`
	Ask     wireNumber `json:"ask"`
	BestBid wireNumber `json:"best_bid"`
	BestAsk wireNumber `json:"best_ask"`

	// price_change, batched shape; pointer so a present-but-empty array is
	// distinguishable from the legacy single-object shape
	PriceChanges *[]wirePriceChange `json:"price_changes"`

	// book (newer frames use bids/asks, older ones buys/sells)
	Bids  []wireLevel `json:"bids"`
	Asks  []wireLevel `json:"asks"`
	Buys  []wireLevel `json:"buys"`
	Sells []wireLevel `json:"sells"`

	// trade / order lifecycle
	ID       string     `json:"id"`
	OrderID  string     `json:"order_id"`
	Side     string     `json:"side"`
	Size     wireNumber `json:"size"`
	Sequence wireNumber `json:"sequence"`
}

type wirePriceChange struct {
	AssetID string     `json:"asset_id"`
	Price   wireNumber `json:"price"`
	BestBid wireNumber `json:"best_bid"`
	BestAsk wireNumber `json:"best_ask"`
}

type wireLevel struct {
	Price wireNumber `json:"price"`
	Size  wireNumber `json:"size"`
}

func decodeObject(data []byte) ([]types.MarketEvent, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	switch f.EventType {
	case "price_change":
		if f.PriceChanges != nil {
			events := make([]types.MarketEvent, 0, len(*f.PriceChanges))
			for _, pc := range *f.PriceChanges {
				events = append(events, types.PriceChange{
					MarketID:  f.Market,
					TokenID:   pc.AssetID,
					Price:     pc.Price.Float(),
					BestBid:   pc.BestBid.FloatPtr(),
					BestAsk:   pc.BestAsk.FloatPtr(),
					Timestamp: f.Timestamp.Time(),
				})
			}
			return events, nil
		}
		ev := types.PriceChange{
			MarketID:  f.Market,
			TokenID:   f.AssetID,
			Price:     f.Price.Float(),
			BestBid:   f.Bid.FloatPtr(),
			BestAsk:   f.Ask.FloatPtr(),
			Timestamp: f.Timestamp.Time(),
		}
		// Some legacy senders already use best_bid/best_ask field names.
		if ev.BestBid == nil {
			ev.BestBid = f.BestBid.FloatPtr()
		}
		if ev.BestAsk == nil {
			ev.BestAsk = f.BestAsk.FloatPtr()
		}
		return []types.MarketEvent{ev}, nil

	case "book":
		bids, asks := f.Bids, f.Asks
		if len(bids) == 0 && len(asks) == 0 {
			bids, asks = f.Buys, f.Sells
		}
		return []types.MarketEvent{types.BookSnapshot{
			MarketID: f.Market,
			TokenID:  f.AssetID,
			Book: types.OrderBook{
				TokenID: f.AssetID,
				Bids:    toLevels(bids),
				Asks:    toLevels(asks),
			},
			Timestamp: f.Timestamp.Time(),
		}}, nil

	case "trade":
		return []types.MarketEvent{types.MarketTrade{
			ID:        f.ID,
			MarketID:  f.Market,
			TokenID:   f.AssetID,
			Side:      types.Side(f.Side),
			Price:     f.Price.Float(),
			Size:      f.Size.Float(),
			Timestamp: f.Timestamp.Time(),
		}}, nil

	case "order", "order_fill", "order_cancel":
		orderID := f.OrderID
		if orderID == "" {
			orderID = f.ID
		}
		return []types.MarketEvent{types.OrderUpdate{
			OrderID:   orderID,
			Kind:      types.OrderEventKind(f.EventType),
			MarketID:  f.Market,
			TokenID:   f.AssetID,
			Side:      types.Side(f.Side),
			Price:     f.Price.FloatPtr(),
			Size:      f.Size.FloatPtr(),
			FillSeq:   int64(f.Sequence.Float()),
			Timestamp: f.Timestamp.Time(),
		}}, nil

	default:
		// Informational frames (tick_size_change, best_bid_ask, ...) carry
		// nothing the runtime consumes.
		return nil, nil
	}
}

func toLevels(levels []wireLevel) []types.PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]types.PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = types.PriceLevel{Price: l.Price.Float(), Size: l.Size.Float()}
	}
	return out
}

// wireNumber accepts a JSON number, a quoted number, or null. The venue
// quotes most numeric fields to preserve decimal precision.
type wireNumber string

func (n *wireNumber) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	if s == "null" {
		s = ""
	}
	*n = wireNumber(s)
	return nil
}

// Present reports whether the field carried a value.
func (n wireNumber) Present() bool { return n != "" }

// Float parses the value, defaulting to 0 when absent or unparseable.
func (n wireNumber) Float() float64 {
	v, _ := strconv.ParseFloat(string(n), 64)
	return v
}

// FloatPtr returns nil when the field was absent, distinguishing a missing
// quote from a zero quote.
func (n wireNumber) FloatPtr() *float64 {
	if !n.Present() {
		return nil
	}
	v := n.Float()
	return &v
}

// Time interprets the value as a millisecond epoch (the venue's convention),
// falling back to seconds for small values. Zero time when absent.
func (n wireNumber) Time() time.Time {
	if !n.Present() {
		return time.Time{}
	}
	v := n.Float()
	if v <= 0 {
		return time.Time{}
	}
	if v < 1e12 {
		return time.Unix(int64(v), 0).UTC()
	}
	return time.UnixMilli(int64(v)).UTC()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
