package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/pkg/types"
)

// Client is the CLOB trading REST client used in live mode. It wraps a resty
// HTTP client with rate limiting, retry, and L2 auth; it satisfies the
// execution engine's venue port.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a trading client. Requests retry on transport errors,
// 429s, and 5xx responses.
func NewClient(baseURL string, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "clob"),
	}
}

// signedOrder is the on-chain order shape the CLOB API expects.
type signedOrder struct {
	Maker         string     `json:"maker"`
	Signer        string     `json:"signer"`
	Taker         string     `json:"taker"`
	TokenID       string     `json:"tokenId"`
	MakerAmount   *big.Int   `json:"makerAmount"`
	TakerAmount   *big.Int   `json:"takerAmount"`
	Side          types.Side `json:"side"`
	Expiration    string     `json:"expiration"`
	Nonce         string     `json:"nonce"`
	FeeRateBps    string     `json:"feeRateBps"`
	SignatureType int        `json:"signatureType"`
}

type orderPayload struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

type orderResponse struct {
	Success bool   `json:"success"`
	ErrMsg  string `json:"errorMsg"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
}

// buildOrderPayload converts an order intent into the SignedOrder + metadata
// the REST API expects: human-readable price/size become big.Int maker/taker
// amounts, the maker is the funder wallet (proxy), the signer the EOA, and
// the taker the zero address (open order, anyone can fill).
func (c *Client) buildOrderPayload(intent types.OrderIntent) orderPayload {
	makerAmt, takerAmt := PriceToAmounts(intent.Price, intent.Size, intent.Side)

	orderType := "GTC"
	if intent.Type == types.MARKET {
		orderType = "FOK"
	}

	return orderPayload{
		Order: signedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       intent.TokenID,
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          intent.Side,
			Expiration:    "0",
			Nonce:         "0",
			FeeRateBps:    "0",
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: orderType,
	}
}

// PlaceOrder submits one order and returns the venue-assigned order ID.
func (c *Client) PlaceOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	payload := c.buildOrderPayload(intent)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return "", fmt.Errorf("l2 headers: %w", err)
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return "", fmt.Errorf("order rejected: %s", result.ErrMsg)
	}

	c.logger.Info("order placed",
		"order_id", result.OrderID,
		"token_id", intent.TokenID,
		"side", intent.Side,
		"price", intent.Price,
		"size", intent.Size,
	)
	return result.OrderID, nil
}

// CancelOrder cancels one order by venue ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"orderID":%q}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	var result struct {
		Canceled  []string          `json:"canceled"`
		NotCancel map[string]string `json:"not_canceled"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if reason, ok := result.NotCancel[orderID]; ok {
		return fmt.Errorf("cancel order %s refused: %s", orderID, reason)
	}

	c.logger.Info("order cancelled", "order_id", orderID)
	return nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication and installs
// them on the auth provider.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
