package venue

import (
	"fmt"
	"net/url"
	"strings"
)

// RefKind distinguishes how a configured market reference should be resolved.
type RefKind int

const (
	RefMarketSlug RefKind = iota // bare slug, try market then event
	RefEventSlug                 // slug taken from an /event/ URL
	RefID                        // numeric Gamma market ID
)

// MarketRef is a parsed market reference from config: a full venue URL, a
// bare slug, or a numeric market ID.
type MarketRef struct {
	Kind  RefKind
	Value string
}

// ParseMarketRef normalizes one configured market reference. Accepted forms:
//
//	https://polymarket.com/event/<slug>[/<market-slug>]
//	https://polymarket.com/market/<slug>
//	<slug>
//	<numeric id>
func ParseMarketRef(raw string) (MarketRef, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return MarketRef{}, fmt.Errorf("empty market reference")
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return MarketRef{}, fmt.Errorf("parse market URL %q: %w", raw, err)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 2 || parts[1] == "" {
			return MarketRef{}, fmt.Errorf("market URL %q has no slug", raw)
		}
		switch parts[0] {
		case "event":
			// /event/<event-slug>/<market-slug> pins one market of the event.
			if len(parts) >= 3 && parts[2] != "" {
				return MarketRef{Kind: RefMarketSlug, Value: parts[2]}, nil
			}
			return MarketRef{Kind: RefEventSlug, Value: parts[1]}, nil
		case "market":
			return MarketRef{Kind: RefMarketSlug, Value: parts[1]}, nil
		}
		return MarketRef{}, fmt.Errorf("unrecognized market URL %q", raw)
	}

	if isDigits(s) {
		return MarketRef{Kind: RefID, Value: s}, nil
	}
	return MarketRef{Kind: RefMarketSlug, Value: s}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
