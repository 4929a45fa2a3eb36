// Package bithumb is the aggressor venue REST adapter.
package bithumb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// Bithumb API Constants
const (
	BaseURL       = "https://api.bithumb.com"
	StatusSuccess = "0000"
	DefaultDepth  = 5
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Base      domain.Asset
	Quote     domain.Asset
	Depth     int
	Timeout   time.Duration
	UserAgent string
}

// Client is the Bithumb REST API Client (Boundary Layer). It implements
// OrderBookSource, BalanceSource and AggressorTradeGateway.
type Client struct {
	opts       Options
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

var (
	_ domain.OrderBookSource       = (*Client)(nil)
	_ domain.BalanceSource         = (*Client)(nil)
	_ domain.AggressorTradeGateway = (*Client)(nil)
)

// NewClient creates a new Bithumb API client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: NewSigner(opts.APIKey, opts.APISecret),
		logger: slog.Default().With("module", "bithumb_client"),
	}
}

// envelope is common to every answer
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type orderbookData struct {
	Timestamp string `json:"timestamp"`
	Bids      []struct {
		Price    string `json:"price"`
		Quantity string `json:"quantity"`
	} `json:"bids"`
	Asks []struct {
		Price    string `json:"price"`
		Quantity string `json:"quantity"`
	} `json:"asks"`
}

type placeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	OrderID string `json:"order_id"`
}

// ======================================================================================
// Market Data
// ======================================================================================

// FetchTopOfBook reads the public order book with the configured depth.
func (c *Client) FetchTopOfBook(ctx context.Context) (*domain.TopOfBook, error) {
	path := fmt.Sprintf("/public/orderbook/%s_%s", c.opts.Base, c.opts.Quote)
	reqURL := c.opts.BaseURL + path + "?count=" + strconv.Itoa(c.opts.Depth)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req, path)
	if err != nil {
		return nil, err
	}
	return parseOrderbook(body)
}

func parseOrderbook(body []byte) (*domain.TopOfBook, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("bithumb orderbook: %w", err)
	}
	if env.Status != StatusSuccess {
		return nil, domain.NewNetworkError("bithumb orderbook", fmt.Errorf("status=%s msg=%s", env.Status, env.Message))
	}

	var data orderbookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("bithumb orderbook: %w: %v", domain.ErrMalformedResponse, err)
	}
	ms, err := strconv.ParseInt(data.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bithumb orderbook: timestamp %q: %w", data.Timestamp, domain.ErrMalformedResponse)
	}

	bids := make([]domain.Level, 0, len(data.Bids))
	for _, l := range data.Bids {
		lvl, err := parseLevel(l.Price, l.Quantity)
		if err != nil {
			return nil, err
		}
		bids = append(bids, lvl)
	}
	asks := make([]domain.Level, 0, len(data.Asks))
	for _, l := range data.Asks {
		lvl, err := parseLevel(l.Price, l.Quantity)
		if err != nil {
			return nil, err
		}
		asks = append(asks, lvl)
	}
	return domain.NewTopOfBook(domain.VenueAggressor, bids, asks, time.UnixMilli(ms))
}

func parseLevel(price, quantity string) (domain.Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Level{}, fmt.Errorf("bithumb orderbook: price %q: %w", price, domain.ErrMalformedResponse)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return domain.Level{}, fmt.Errorf("bithumb orderbook: quantity %q: %w", quantity, domain.ErrMalformedResponse)
	}
	return domain.Level{Price: p, Amount: q}, nil
}

// ======================================================================================
// Account
// ======================================================================================

// FetchBalances returns total and available of the base and quote assets.
func (c *Client) FetchBalances(ctx context.Context) (domain.Balances, error) {
	env, err := c.private(ctx, "/info/balance", url.Values{"currency": {string(c.opts.Base)}})
	if err != nil {
		return nil, err
	}
	if env.Status != StatusSuccess {
		return nil, domain.NewNetworkError("bithumb balance", fmt.Errorf("status=%s msg=%s", env.Status, env.Message))
	}

	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("bithumb balance: %w: %v", domain.ErrMalformedResponse, err)
	}

	out := make(domain.Balances, 2)
	for _, asset := range []domain.Asset{c.opts.Base, c.opts.Quote} {
		key := strings.ToLower(string(asset))
		total, err := decimal.NewFromString(data["total_"+key])
		if err != nil {
			return nil, fmt.Errorf("bithumb balance total_%s: %w", key, domain.ErrMalformedResponse)
		}
		avail, err := decimal.NewFromString(data["available_"+key])
		if err != nil {
			return nil, fmt.Errorf("bithumb balance available_%s: %w", key, domain.ErrMalformedResponse)
		}
		out[asset] = domain.Balance{Total: total, Available: avail}
	}
	return out, nil
}

// ExecuteMarketableOrder places a limit order priced through the book so it
// fills immediately. A venue refusal is reported in the result, not as an
// error.
func (c *Client) ExecuteMarketableOrder(ctx context.Context, action domain.Action, price, amount decimal.Decimal) (domain.ExecutionResult, error) {
	orderType := "bid"
	if action == domain.ActionSell {
		orderType = "ask"
	}
	params := url.Values{
		"order_currency":   {string(c.opts.Base)},
		"payment_currency": {string(c.opts.Quote)},
		"units":            {amount.String()},
		"price":            {price.String()},
		"type":             {orderType},
	}
	body, err := c.privateRaw(ctx, "/trade/place", params)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	var resp placeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("bithumb place: %w: %v", domain.ErrMalformedResponse, err)
	}
	if resp.Status != StatusSuccess {
		c.logger.Warn("Order refused",
			slog.String("action", string(action)),
			slog.String("status", resp.Status),
			slog.String("message", resp.Message),
		)
		return domain.ExecutionResult{Success: false, Messages: []string{resp.Status, resp.Message}}, nil
	}

	c.logger.Info("⚡ Order executed",
		slog.String("order_id", resp.OrderID),
		slog.String("action", string(action)),
		slog.String("price", price.String()),
		slog.String("units", amount.String()),
	)
	return domain.ExecutionResult{Success: true, Messages: []string{resp.OrderID}}, nil
}

// IsSessionValid reports whether the key pair is accepted.
func (c *Client) IsSessionValid(ctx context.Context) bool {
	env, err := c.private(ctx, "/info/account", url.Values{
		"order_currency":   {string(c.opts.Base)},
		"payment_currency": {string(c.opts.Quote)},
	})
	if err != nil {
		c.logger.Debug("Session check failed", slog.Any("error", err))
		return false
	}
	return env.Status == StatusSuccess
}

// RefreshSession re-validates the key pair. API keys carry no session of
// their own, so this only confirms the venue still accepts them.
func (c *Client) RefreshSession(ctx context.Context) error {
	if !c.IsSessionValid(ctx) {
		return domain.NewNetworkError("bithumb session", fmt.Errorf("credentials not accepted"))
	}
	return nil
}

// ======================================================================================
// Transport
// ======================================================================================

func (c *Client) private(ctx context.Context, endpoint string, params url.Values) (envelope, error) {
	body, err := c.privateRaw(ctx, endpoint, params)
	if err != nil {
		return envelope{}, err
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return envelope{}, fmt.Errorf("bithumb %s: %w", endpoint, err)
	}
	return env, nil
}

// privateRaw signs and posts params to endpoint.
func (c *Client) privateRaw(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("endpoint", endpoint)
	form := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+endpoint, strings.NewReader(form))
	if err != nil {
		return nil, err
	}
	for k, v := range c.signer.GenerateHeaders(endpoint, form) {
		req.Header.Set(k, v)
	}
	return c.do(req, endpoint)
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewNetworkError(op, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	return body, nil
}

func decodeEnvelope(body []byte) (envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return envelope{}, domain.ErrEmptyResponse
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if env.Status == "" {
		return envelope{}, fmt.Errorf("missing status: %w", domain.ErrMalformedResponse)
	}
	return env, nil
}
