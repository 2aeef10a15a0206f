// Package venue implements the REST clients for the prediction-market venue:
// market metadata lookups (Gamma API), live order placement and cancellation
// (CLOB API), and the L1/L2 authentication both require.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/pkg/types"
)

// MetadataClient resolves market references against the Gamma metadata API.
type MetadataClient struct {
	http   *resty.Client
	rl     *TokenBucket
	logger *slog.Logger
}

// NewMetadataClient creates a metadata client with retry and pacing.
// Requests retry on transport errors, 429s, and 5xx responses.
func NewMetadataClient(baseURL string, logger *slog.Logger) *MetadataClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &MetadataClient{
		http:   httpClient,
		rl:     NewTokenBucket(1, 10),
		logger: logger.With("component", "metadata"),
	}
}

// gammaMarket is the JSON shape returned by the Gamma API. The clobTokenIds
// and outcomePrices fields arrive either as JSON arrays or as strings
// containing JSON arrays depending on the endpoint; jsonStringList absorbs
// both.
type gammaMarket struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	ConditionID   string         `json:"conditionId"`
	Slug          string         `json:"slug"`
	Active        bool           `json:"active"`
	Closed        bool           `json:"closed"`
	EndDate       string         `json:"endDate"`
	Liquidity     jsonFloat      `json:"liquidity"`
	Volume        jsonFloat      `json:"volume"`
	OutcomePrices jsonStringList `json:"outcomePrices"`
	ClobTokenIds  jsonStringList `json:"clobTokenIds"`
}

type gammaEvent struct {
	ID      string        `json:"id"`
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Markets []gammaMarket `json:"markets"`
}

// jsonStringList decodes either ["a","b"] or "[\"a\",\"b\"]".
type jsonStringList []string

func (l *jsonStringList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		if inner == "" {
			*l = nil
			return nil
		}
		return json.Unmarshal([]byte(inner), (*[]string)(l))
	}
	return json.Unmarshal(data, (*[]string)(l))
}

// jsonFloat decodes a number that may arrive as a JSON string.
type jsonFloat float64

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = jsonFloat(v)
		return nil
	}
	return json.Unmarshal(data, (*float64)(f))
}

// GetMarketBySlug fetches a single market by its URL slug.
func (c *MetadataClient) GetMarketBySlug(ctx context.Context, slug string) (*types.Market, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var page []gammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&page).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("get market %q: %w", slug, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get market %q: status %d: %s", slug, resp.StatusCode(), resp.String())
	}
	if len(page) == 0 {
		return nil, fmt.Errorf("market %q not found", slug)
	}
	return convertMarket(page[0])
}

// GetMarketByID fetches a single market by its numeric Gamma ID.
func (c *MetadataClient) GetMarketByID(ctx context.Context, id string) (*types.Market, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var gm gammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&gm).
		Get("/markets/" + id)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("market %s not found", id)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get market %s: status %d: %s", id, resp.StatusCode(), resp.String())
	}
	return convertMarket(gm)
}

// GetEventMarkets fetches all markets under an event slug. Event pages on the
// venue group several binary markets; subscribing to an event means
// subscribing to each of them.
func (c *MetadataClient) GetEventMarkets(ctx context.Context, slug string) ([]types.Market, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var events []gammaEvent
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&events).
		Get("/events")
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get event %q: status %d: %s", slug, resp.StatusCode(), resp.String())
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("event %q not found", slug)
	}

	var markets []types.Market
	for _, gm := range events[0].Markets {
		m, err := convertMarket(gm)
		if err != nil {
			c.logger.Warn("skipping unusable event market", "market_id", gm.ID, "error", err)
			continue
		}
		markets = append(markets, *m)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("event %q has no tradeable markets", slug)
	}
	return markets, nil
}

// Resolve looks up a parsed market reference. Event references may yield
// several markets; market and ID references yield exactly one.
func (c *MetadataClient) Resolve(ctx context.Context, ref MarketRef) ([]types.Market, error) {
	switch ref.Kind {
	case RefID:
		m, err := c.GetMarketByID(ctx, ref.Value)
		if err != nil {
			return nil, err
		}
		return []types.Market{*m}, nil
	case RefEventSlug:
		return c.GetEventMarkets(ctx, ref.Value)
	case RefMarketSlug:
		m, err := c.GetMarketBySlug(ctx, ref.Value)
		if err == nil {
			return []types.Market{*m}, nil
		}
		// Bare slugs are ambiguous between market and event pages.
		if markets, evErr := c.GetEventMarkets(ctx, ref.Value); evErr == nil {
			return markets, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("unknown market reference %q", ref.Value)
}

// convertMarket maps the Gamma wire shape onto the runtime market type.
// A market without both outcome token IDs is unusable for streaming.
func convertMarket(gm gammaMarket) (*types.Market, error) {
	if len(gm.ClobTokenIds) < 2 {
		return nil, fmt.Errorf("market %s: missing outcome token IDs", gm.ID)
	}

	m := &types.Market{
		ID:          gm.ID,
		ConditionID: gm.ConditionID,
		Slug:        gm.Slug,
		Question:    gm.Question,
		YesTokenID:  gm.ClobTokenIds[0],
		NoTokenID:   gm.ClobTokenIds[1],
		Volume:      float64(gm.Volume),
		Liquidity:   float64(gm.Liquidity),
		Closed:      gm.Closed,
		Active:      gm.Active,
	}

	if len(gm.OutcomePrices) >= 2 {
		if p, err := strconv.ParseFloat(gm.OutcomePrices[0], 64); err == nil {
			m.YesPrice = p
		}
		if p, err := strconv.ParseFloat(gm.OutcomePrices[1], 64); err == nil {
			m.NoPrice = p
		}
	}
	if gm.EndDate != "" {
		if end, err := time.Parse(time.RFC3339, gm.EndDate); err == nil {
			m.EndDate = end
		}
	}
	return m, nil
}
