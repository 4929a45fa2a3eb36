package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level is one price level of an order book.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// TopOfBook is an immutable order book snapshot of one venue.
// Bids and Asks optionally carry depth (best first); when present Bids[0]
// equals BestBid and Asks[0] equals BestAsk.
type TopOfBook struct {
	Venue     Venue     `json:"venue"`
	BestBid   Level     `json:"best_bid"`
	BestAsk   Level     `json:"best_ask"`
	Bids      []Level   `json:"bids,omitempty"`
	Asks      []Level   `json:"asks,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTopOfBook builds a snapshot from depth levels, best first.
func NewTopOfBook(venue Venue, bids, asks []Level, ts time.Time) (*TopOfBook, error) {
	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("%s book: empty side (bids=%d asks=%d): %w", venue, len(bids), len(asks), ErrMalformedResponse)
	}
	b := &TopOfBook{
		Venue:     venue,
		BestBid:   bids[0],
		BestAsk:   asks[0],
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}
	return b, b.Validate()
}

// Validate checks that the snapshot is usable for pricing.
func (b *TopOfBook) Validate() error {
	if b == nil {
		return ErrNoSnapshot
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%s book: missing timestamp: %w", b.Venue, ErrMalformedResponse)
	}
	if !b.BestBid.Price.IsPositive() || !b.BestAsk.Price.IsPositive() {
		return fmt.Errorf("%s book: non-positive best price: %w", b.Venue, ErrMalformedResponse)
	}
	if !b.BestBid.Price.LessThan(b.BestAsk.Price) {
		return fmt.Errorf("%s book: crossed bid=%s ask=%s: %w",
			b.Venue, b.BestBid.Price, b.BestAsk.Price, ErrMalformedResponse)
	}
	return nil
}

// Staleness returns how old the snapshot is at now.
func (b *TopOfBook) Staleness(now time.Time) time.Duration {
	return now.Sub(b.Timestamp)
}
