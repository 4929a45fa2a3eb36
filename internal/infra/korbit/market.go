package korbit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// maxDepth levels are kept from the raw book.
const maxDepth = 10

// FetchTopOfBook reads the public order book.
func (c *Client) FetchTopOfBook(ctx context.Context) (*domain.TopOfBook, error) {
	body, err := c.public(ctx, "/v1/orderbook", url.Values{"currency_pair": {c.pair}})
	if err != nil {
		return nil, err
	}
	return parseOrderbook(body)
}

func parseOrderbook(body []byte) (*domain.TopOfBook, error) {
	var ob orderbookResponse
	if err := json.Unmarshal(body, &ob); err != nil {
		return nil, fmt.Errorf("korbit orderbook: %w: %v", domain.ErrMalformedResponse, err)
	}
	if ob.Timestamp == "" {
		return nil, fmt.Errorf("korbit orderbook: missing timestamp: %w", domain.ErrMalformedResponse)
	}
	ms, err := ob.Timestamp.Int64()
	if err != nil {
		return nil, fmt.Errorf("korbit orderbook: timestamp %q: %w", ob.Timestamp, domain.ErrMalformedResponse)
	}

	bids, err := parseLevels(ob.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(ob.Asks)
	if err != nil {
		return nil, err
	}
	return domain.NewTopOfBook(domain.VenueMaker, bids, asks, time.UnixMilli(ms))
}

func parseLevels(raw [][]string) ([]domain.Level, error) {
	n := len(raw)
	if n > maxDepth {
		n = maxDepth
	}
	levels := make([]domain.Level, 0, n)
	for _, lvl := range raw[:n] {
		if len(lvl) < 2 {
			return nil, fmt.Errorf("korbit orderbook: short level %v: %w", lvl, domain.ErrMalformedResponse)
		}
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("korbit orderbook: price %q: %w", lvl[0], domain.ErrMalformedResponse)
		}
		amount, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("korbit orderbook: amount %q: %w", lvl[1], domain.ErrMalformedResponse)
		}
		levels = append(levels, domain.Level{Price: price, Amount: amount})
	}
	return levels, nil
}
