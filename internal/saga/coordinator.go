// Package saga closes a maker fill with the offsetting aggressor trade.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"crypto_arb/internal/domain"
	"crypto_arb/internal/ledger"
	"crypto_arb/internal/order"
	"crypto_arb/internal/pricing"
)

// Options bounds the aggressor side of a compensation.
type Options struct {
	OrderInterval time.Duration // minimum gap between two aggressor orders
	RetryBudget   int           // total submissions before giving up
	RetryDelay    time.Duration // wait between two submissions
}

// DefaultOptions mirrors the production settings.
func DefaultOptions() Options {
	return Options{
		OrderInterval: 5 * time.Second,
		RetryBudget:   5,
		RetryDelay:    5 * time.Second,
	}
}

// Coordinator runs compensations one at a time. It is owned by the control
// loop and not safe for concurrent use.
type Coordinator struct {
	opts      Options
	params    pricing.Params
	aggressor domain.AggressorTradeGateway
	ledger    *ledger.Ledger
	trades    domain.TradeLedgerSink
	alerts    domain.AlertSink
	metrics   domain.Recorder
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator wires a coordinator. alerts and metrics may be nil.
func NewCoordinator(opts Options, params pricing.Params, aggressor domain.AggressorTradeGateway, l *ledger.Ledger,
	trades domain.TradeLedgerSink, alerts domain.AlertSink, metrics domain.Recorder) *Coordinator {
	if opts.RetryBudget < 1 {
		opts.RetryBudget = 1
	}
	if metrics == nil {
		metrics = domain.NopRecorder{}
	}
	limit := rate.Inf
	if opts.OrderInterval > 0 {
		limit = rate.Every(opts.OrderInterval)
	}
	return &Coordinator{
		opts:      opts,
		params:    params,
		aggressor: aggressor,
		ledger:    l,
		trades:    trades,
		alerts:    alerts,
		metrics:   metrics,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    slog.Default().With(slog.String("module", "saga")),
		now:       time.Now,
	}
}

// WithClock replaces the clock stamping trade records.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Compensate offsets the fill of tracker's order on the aggressor venue at
// the intended price of q.
//
// The aggressor amount is the actual filled amount. Only venue-reported
// rejections are retried; a transport error may hide an executed order and
// stops at once with ErrOutcomeUnknown. Any failure before the aggressor
// trade succeeds is fatal and leaves ledger and tracker untouched.
// After success the ledger is adjusted, the trade recorded and the tracker
// reset, in that order.
func (c *Coordinator) Compensate(ctx context.Context, tracker *order.Tracker, q pricing.Quote) (*domain.TradeRecord, error) {
	side := tracker.Side()
	o := tracker.Snapshot()
	if o.IsEmpty() || !tracker.FilledEnough() {
		return nil, fmt.Errorf("compensate %s: %w", side, domain.ErrNothingToCompensate)
	}
	if q.Side != side || !q.Intended.IsPositive() {
		return nil, domain.Fatal("compensate", fmt.Errorf("%s: no intended aggressor price", side))
	}

	filled := o.FilledAmount
	aggr := pricing.AggressorOrder(side, q.Intended, filled, c.params)
	action := side.AggressorAction()

	log := c.logger.With(slog.String("side", string(side)), slog.String("maker_order", o.ID))
	log.Info("🔁 Compensating fill",
		slog.String("filled", filled.String()),
		slog.String("aggressor_price", aggr.Price.String()),
		slog.String("aggressor_amount", aggr.Amount.String()),
	)

	attempt := 0
	submit := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		res, err := c.aggressor.ExecuteMarketableOrder(ctx, action, aggr.Price, aggr.Amount)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("aggressor order: %w: %w", domain.ErrOutcomeUnknown, err))
		}
		if !res.Success {
			return fmt.Errorf("aggressor rejected order: %v", res.Messages)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Aggressor order failed, refreshing session",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.Any("error", err),
		)
		if rerr := c.aggressor.RefreshSession(ctx); rerr != nil {
			log.Warn("Aggressor session refresh failed", slog.Any("error", rerr))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), uint64(c.opts.RetryBudget-1)),
		ctx,
	)
	if err := backoff.RetryNotify(submit, policy, notify); err != nil {
		c.metrics.Fatal("compensate")
		if ctx.Err() == nil && !errors.Is(err, domain.ErrOutcomeUnknown) {
			err = fmt.Errorf("%d attempts: %w: %w", attempt, domain.ErrRetryBudgetExhausted, err)
		}
		return nil, domain.Fatal("compensate", fmt.Errorf("%s one-legged after maker fill %s of %s: %w", side, filled, o.ID, err))
	}

	before, ledgerErr := c.ledger.ApplyCompensation(ledger.Fill{
		Side:           side,
		Amount:         filled,
		MakerPrice:     o.Posted.Price,
		AggressorPrice: q.Intended,
	})

	base, quote := c.ledger.Assets()
	rec := domain.TradeRecord{
		ID:   uuid.NewString(),
		Side: side,
		Time: c.now(),
		Aggressor: domain.LegRecord{
			Venue:       domain.VenueAggressor,
			BaseBefore:  before.Aggressor.Get(base).Total,
			QuoteBefore: before.Aggressor.Get(quote).Total,
			Action:      action,
			Price:       q.Intended,
			Amount:      filled,
		},
		Maker: domain.LegRecord{
			Venue:        domain.VenueMaker,
			BaseBefore:   before.Maker.Get(base).Total,
			QuoteBefore:  before.Maker.Get(quote).Total,
			Action:       side.MakerAction(),
			Price:        o.Posted.Price,
			Amount:       filled,
			VenueOrderID: o.ID,
		},
	}
	if err := c.trades.AppendTradeRecord(ctx, rec); err != nil {
		log.Error("Trade record not stored", slog.String("trade_id", rec.ID), slog.Any("error", err))
		c.alert(ctx, domain.NewAlert(domain.AlertWarning, "trade record not stored",
			fmt.Sprintf("%s %s filled=%s: %v", side, rec.ID, filled, err)))
	}

	tracker.Reset()
	c.metrics.Compensated(side, filled)
	log.Info("✅ Compensation complete", slog.String("trade_id", rec.ID))

	if ledgerErr != nil {
		c.metrics.Fatal("ledger")
		return &rec, domain.Fatal("ledger", ledgerErr)
	}
	return &rec, nil
}

func (c *Coordinator) alert(ctx context.Context, a domain.Alert) {
	if c.alerts == nil {
		return
	}
	if err := c.alerts.Send(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("Alert delivery failed", slog.Any("error", err))
	}
}
