// Package market holds the latest order book snapshot of each venue and the
// feeders that keep them fresh.
package market

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"crypto_arb/internal/domain"
)

// Cache publishes one immutable snapshot per venue. Readers never observe a
// partially written book: a feeder builds a new TopOfBook and swaps the
// pointer.
type Cache struct {
	maker     atomic.Pointer[domain.TopOfBook]
	aggressor atomic.Pointer[domain.TopOfBook]
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) slot(venue domain.Venue) *atomic.Pointer[domain.TopOfBook] {
	if venue == domain.VenueMaker {
		return &c.maker
	}
	return &c.aggressor
}

// Store validates book and publishes it unless it is older than the current
// snapshot of the same venue. Equal timestamps are accepted.
func (c *Cache) Store(book *domain.TopOfBook) error {
	if err := book.Validate(); err != nil {
		return err
	}
	slot := c.slot(book.Venue)
	for {
		cur := slot.Load()
		if cur != nil && book.Timestamp.Before(cur.Timestamp) {
			return fmt.Errorf("%s book: timestamp %s before %s: %w",
				book.Venue, book.Timestamp.Format(time.RFC3339Nano), cur.Timestamp.Format(time.RFC3339Nano), domain.ErrMalformedResponse)
		}
		if slot.CompareAndSwap(cur, book) {
			return nil
		}
	}
}

// Load returns the current snapshot of venue, nil before the first update.
func (c *Cache) Load(venue domain.Venue) *domain.TopOfBook {
	return c.slot(venue).Load()
}

// Staleness returns the age of the venue snapshot at now. A venue without a
// snapshot is infinitely stale.
func (c *Cache) Staleness(venue domain.Venue, now time.Time) time.Duration {
	b := c.Load(venue)
	if b == nil {
		return time.Duration(math.MaxInt64)
	}
	return b.Staleness(now)
}

// Ready reports whether both venues have published a snapshot.
func (c *Cache) Ready() bool {
	return c.maker.Load() != nil && c.aggressor.Load() != nil
}

// WaitReady blocks until both venues have a snapshot or timeout elapses.
func (c *Cache) WaitReady(ctx context.Context, timeout time.Duration) error {
	if c.Ready() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for market data: %w", domain.ErrNoSnapshot)
		case <-ticker.C:
			if c.Ready() {
				return nil
			}
		}
	}
}
