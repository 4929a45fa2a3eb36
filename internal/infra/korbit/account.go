package korbit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// openOrdersLimit bounds one CancelAll sweep.
const openOrdersLimit = "40"

// FetchBalances returns total (available + trade_in_use) and available per asset.
func (c *Client) FetchBalances(ctx context.Context) (domain.Balances, error) {
	body, err := c.private(ctx, http.MethodGet, "/v1/user/balances", nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("korbit balances: %w", domain.ErrEmptyResponse)
	}

	var raw map[string]balanceLine
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("korbit balances: %w: %v", domain.ErrMalformedResponse, err)
	}

	out := make(domain.Balances, len(raw))
	for asset, line := range raw {
		avail, err := decimal.NewFromString(orZero(line.Available))
		if err != nil {
			return nil, fmt.Errorf("korbit balances %s available %q: %w", asset, line.Available, domain.ErrMalformedResponse)
		}
		inUse, err := decimal.NewFromString(orZero(line.TradeInUse))
		if err != nil {
			return nil, fmt.Errorf("korbit balances %s trade_in_use %q: %w", asset, line.TradeInUse, domain.ErrMalformedResponse)
		}
		out[domain.Asset(strings.ToUpper(asset))] = domain.Balance{Total: avail.Add(inUse), Available: avail}
	}
	return out, nil
}

// PlaceLimitOrder posts a limit order. A venue answer without status comes
// back as a PlaceResult with an empty Status, not as an error.
func (c *Client) PlaceLimitOrder(ctx context.Context, action domain.Action, price, amount decimal.Decimal) (domain.PlaceResult, error) {
	params := url.Values{
		"currency_pair": {c.pair},
		"type":          {"limit"},
		"price":         {price.String()},
		"coin_amount":   {amount.String()},
	}
	body, err := c.private(ctx, http.MethodPost, "/v1/user/orders/"+string(action), params)
	if err != nil {
		return domain.PlaceResult{}, err
	}

	var resp placeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PlaceResult{}, fmt.Errorf("korbit place: %w: %v", domain.ErrMalformedResponse, err)
	}
	c.logger.Debug("Place answered",
		slog.String("action", string(action)),
		slog.String("order_id", resp.OrderID.String()),
		slog.String("status", resp.Status),
	)
	return domain.PlaceResult{OrderID: resp.OrderID.String(), Status: resp.Status}, nil
}

// CancelOrder cancels one order. Korbit answers "success" or, for an order
// that is already gone or filled, a different status.
func (c *Client) CancelOrder(ctx context.Context, id string) ([]domain.CancelRecord, error) {
	return c.cancel(ctx, []string{id})
}

func (c *Client) cancel(ctx context.Context, ids []string) ([]domain.CancelRecord, error) {
	params := url.Values{"currency_pair": {c.pair}, "id": ids}
	body, err := c.private(ctx, http.MethodPost, "/v1/user/orders/cancel", params)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("korbit cancel: %w", domain.ErrEmptyResponse)
	}

	var resp []cancelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("korbit cancel: %w: %v", domain.ErrMalformedResponse, err)
	}
	out := make([]domain.CancelRecord, 0, len(resp))
	for _, r := range resp {
		out = append(out, domain.CancelRecord{OrderID: r.OrderID.String(), Status: r.Status})
	}
	return out, nil
}

// QueryOrderStatus looks an order up by id. An empty list means Korbit no
// longer knows the order.
func (c *Client) QueryOrderStatus(ctx context.Context, id string) ([]domain.StatusRecord, error) {
	params := url.Values{"currency_pair": {c.pair}, "id": {id}}
	body, err := c.private(ctx, http.MethodGet, "/v1/user/orders", params)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		// Korbit answers an empty body when the session was taken over.
		return nil, fmt.Errorf("korbit order %s: %w", id, domain.ErrEmptyResponse)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("korbit order %s: %w: %v", id, domain.ErrMalformedResponse, err)
	}

	out := make([]domain.StatusRecord, 0, len(raws))
	for _, raw := range raws {
		var r orderResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("korbit order %s: %w: %v", id, domain.ErrMalformedResponse, err)
		}
		filled := decimal.Zero
		if r.FilledAmount != "" {
			f, err := decimal.NewFromString(r.FilledAmount)
			if err != nil {
				return nil, fmt.Errorf("korbit order %s filled_amount %q: %w", id, r.FilledAmount, domain.ErrMalformedResponse)
			}
			filled = f
		}
		out = append(out, domain.StatusRecord{
			OrderID:      r.ID.String(),
			Status:       domain.OrderStatus(r.Status),
			FilledAmount: filled,
			Raw:          string(raw),
		})
	}
	return out, nil
}

// CancelAll cancels every open order of the pair.
func (c *Client) CancelAll(ctx context.Context) error {
	params := url.Values{"currency_pair": {c.pair}, "limit": {openOrdersLimit}}
	body, err := c.private(ctx, http.MethodGet, "/v1/user/orders/open", params)
	if err != nil {
		return err
	}

	var open []openOrderResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &open); err != nil {
			return fmt.Errorf("korbit open orders: %w: %v", domain.ErrMalformedResponse, err)
		}
	}
	if len(open) == 0 {
		return nil
	}

	ids := make([]string, 0, len(open))
	for _, o := range open {
		ids = append(ids, o.ID.String())
	}
	records, err := c.cancel(ctx, ids)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Status != domain.CancelStatusSuccess {
			c.logger.Warn("Open order not canceled", slog.String("id", r.OrderID), slog.String("status", r.Status))
		}
	}
	c.logger.Info("🧹 Canceled open orders", slog.Int("count", len(ids)))
	return nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
