package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crypto_arb/internal/domain"
)

// Feeder polls one OrderBookSource and publishes into the cache. A failed or
// invalid fetch is logged and dropped; the previous snapshot stays in place.
type Feeder struct {
	venue    domain.Venue
	source   domain.OrderBookSource
	cache    *Cache
	interval time.Duration
	timeout  time.Duration
	metrics  domain.Recorder
	logger   *slog.Logger
}

// NewFeeder creates a feeder for venue. A non-positive interval defaults to 200ms.
func NewFeeder(venue domain.Venue, source domain.OrderBookSource, cache *Cache, interval time.Duration, metrics domain.Recorder) *Feeder {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if metrics == nil {
		metrics = domain.NopRecorder{}
	}
	return &Feeder{
		venue:    venue,
		source:   source,
		cache:    cache,
		interval: interval,
		timeout:  5 * time.Second,
		metrics:  metrics,
		logger:   slog.Default().With(slog.String("module", "feeder"), slog.String("venue", string(venue))),
	}
}

// WithTimeout bounds a single fetch.
func (f *Feeder) WithTimeout(d time.Duration) *Feeder {
	if d > 0 {
		f.timeout = d
	}
	return f
}

// Run polls until ctx is done. It only returns ctx.Err().
func (f *Feeder) Run(ctx context.Context) error {
	f.logger.Info("📡 Feeder started", slog.Duration("interval", f.interval))
	defer f.logger.Info("Feeder stopped")

	f.poll(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *Feeder) poll(ctx context.Context) {
	if err := f.fetchOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		f.metrics.FeedError(f.venue)
		f.logger.Warn("Order book update dropped", slog.Any("error", err))
	}
}

func (f *Feeder) fetchOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("order book source panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	book, err := f.source.FetchTopOfBook(ctx)
	if err != nil {
		return err
	}
	if book == nil {
		return domain.ErrEmptyResponse
	}
	book.Venue = f.venue
	if err := f.cache.Store(book); err != nil {
		return err
	}
	f.metrics.BookUpdated(f.venue)
	return nil
}
