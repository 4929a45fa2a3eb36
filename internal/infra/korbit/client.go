// Package korbit is the maker venue REST adapter.
package korbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"crypto_arb/internal/domain"
)

// BaseURL is the production REST host.
const BaseURL = "https://api.korbit.co.kr"

// errUnauthorized marks a rejected access token; the next call logs in again.
var errUnauthorized = errors.New("unauthorized")

// Options configures a Client.
type Options struct {
	BaseURL   string
	ClientID  string
	Secret    string
	Username  string
	Password  string
	Base      domain.Asset
	Quote     domain.Asset
	Timeout   time.Duration
	UserAgent string
}

// Client is the Korbit v1 REST client (Boundary Layer). It implements
// OrderBookSource, BalanceSource and MakerOrderGateway.
type Client struct {
	opts       Options
	pair       string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token accessToken

	lastNonce atomic.Int64
	now       func() time.Time
}

var (
	_ domain.OrderBookSource   = (*Client)(nil)
	_ domain.BalanceSource     = (*Client)(nil)
	_ domain.MakerOrderGateway = (*Client)(nil)
)

type accessToken struct {
	access  string
	refresh string
	expiry  time.Time
}

// NewClient creates a new Korbit API client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		opts: opts,
		pair: strings.ToLower(string(opts.Base)) + "_" + strings.ToLower(string(opts.Quote)),
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "korbit_client"),
		now:    time.Now,
	}
}

// CurrencyPair returns the venue pair name, e.g. "btc_krw".
func (c *Client) CurrencyPair() string {
	return c.pair
}

// ======================================================================================
// Session
// ======================================================================================

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login obtains a fresh token pair with the password grant.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"client_id":     {c.opts.ClientID},
		"client_secret": {c.opts.Secret},
		"username":      {c.opts.Username},
		"password":      {c.opts.Password},
		"grant_type":    {"password"},
	}
	if err := c.requestToken(ctx, form); err != nil {
		return domain.NewNetworkError("korbit login", err)
	}
	c.logger.Info("🔑 Logged in")
	return nil
}

// RefreshSession renews the access token with the refresh grant, falling
// back to a password login when no refresh token is held or it was refused.
func (c *Client) RefreshSession(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.token.refresh
	c.mu.Unlock()

	if refresh == "" {
		return c.Login(ctx)
	}

	form := url.Values{
		"client_id":     {c.opts.ClientID},
		"client_secret": {c.opts.Secret},
		"refresh_token": {refresh},
		"grant_type":    {"refresh_token"},
	}
	if err := c.requestToken(ctx, form); err != nil {
		c.logger.Warn("Token refresh failed, logging in again", slog.Any("error", err))
		return c.Login(ctx)
	}
	c.logger.Info("🔑 Token refreshed")
	return nil
}

func (c *Client) requestToken(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.BaseURL+"/v1/oauth2/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("token: status=%d body=%s", status, truncate(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("token: %w: %v", domain.ErrMalformedResponse, err)
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("token: missing access_token: %w", domain.ErrMalformedResponse)
	}

	c.mu.Lock()
	c.token = accessToken{
		access:  tr.AccessToken,
		refresh: tr.RefreshToken,
		expiry:  c.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	c.mu.Unlock()
	return nil
}

// bearer returns a usable access token, logging in or refreshing when needed.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	switch {
	case tok.access == "":
		if err := c.Login(ctx); err != nil {
			return "", err
		}
	case tok.refresh != "" && !tok.expiry.IsZero() && c.now().After(tok.expiry.Add(-30*time.Second)):
		if err := c.RefreshSession(ctx); err != nil {
			return "", err
		}
	default:
		return tok.access, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.access, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token.access = ""
	c.mu.Unlock()
}

// nonce is strictly increasing per client.
func (c *Client) nonce() string {
	for {
		last := c.lastNonce.Load()
		next := c.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if c.lastNonce.CompareAndSwap(last, next) {
			return fmt.Sprintf("%d", next)
		}
	}
}

// ======================================================================================
// Transport
// ======================================================================================

// public performs an unauthenticated GET.
func (c *Client) public(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	body, status, err := c.do(req)
	if err != nil {
		return nil, domain.NewNetworkError(path, err)
	}
	if status != http.StatusOK {
		return nil, domain.NewNetworkError(path, fmt.Errorf("unexpected status code: %d", status))
	}
	return body, nil
}

// private performs an authenticated call. GET sends params as query, POST
// as a form body with a fresh nonce.
func (c *Client) private(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := c.opts.BaseURL + path
	var bodyReader io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		if params == nil {
			params = url.Values{}
		}
		params.Set("nonce", c.nonce())
		bodyReader = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	body, status, err := c.do(req)
	if err != nil {
		return nil, domain.NewNetworkError(path, err)
	}
	switch {
	case status == http.StatusUnauthorized:
		c.dropToken()
		return nil, domain.NewNetworkError(path, errUnauthorized)
	case status >= 500:
		return nil, domain.NewNetworkError(path, fmt.Errorf("unexpected status code: %d", status))
	case status != http.StatusOK:
		return nil, domain.NewNetworkError(path, fmt.Errorf("status=%d body=%s", status, truncate(body)))
	}
	return body, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
