// Package order tracks the single resting maker order of one side.
package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// Tracker is the lifecycle state machine of one side:
//
//	Empty -> Placed -> {Unfilled, PartiallyFilled, Filled} -> Empty
//
// It is driven by the control loop only. Snapshot may be called from any
// goroutine.
type Tracker struct {
	side    domain.Side
	gateway domain.MakerOrderGateway
	minFill decimal.Decimal
	metrics domain.Recorder
	logger  *slog.Logger

	mu         sync.RWMutex
	order      domain.OpenOrder
	lastPosted domain.PostedOrder
}

// NewTracker creates an empty tracker for side.
func NewTracker(side domain.Side, gateway domain.MakerOrderGateway, minTradeAmount decimal.Decimal, metrics domain.Recorder) *Tracker {
	if metrics == nil {
		metrics = domain.NopRecorder{}
	}
	return &Tracker{
		side:    side,
		gateway: gateway,
		minFill: minTradeAmount,
		metrics: metrics,
		logger:  slog.Default().With(slog.String("module", "order"), slog.String("side", string(side))),
		order:   domain.OpenOrder{Side: side},
	}
}

// Side returns the side this tracker owns.
func (t *Tracker) Side() domain.Side {
	return t.side
}

// Snapshot returns a copy of the current order.
func (t *Tracker) Snapshot() domain.OpenOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.order
}

// LastPosted returns the most recent order accepted by the venue. It survives
// Reset.
func (t *Tracker) LastPosted() domain.PostedOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastPosted
}

// Empty reports whether no order rests on this side.
func (t *Tracker) Empty() bool {
	return t.Snapshot().IsEmpty()
}

// FilledEnough reports whether the cumulative fill is worth compensating.
func (t *Tracker) FilledEnough() bool {
	o := t.Snapshot()
	return !o.IsEmpty() && !o.FilledAmount.LessThan(t.minFill)
}

// Place submits posted as a new resting order. It fails with ErrOrderResting
// if an order already rests on this side.
//
// A transport failure or an answer without status leaves the tracker empty
// and is returned as a retriable error. A rejection by the venue is fatal.
func (t *Tracker) Place(ctx context.Context, posted domain.PostedOrder) error {
	if !t.Empty() {
		return fmt.Errorf("place %s: %w", t.side, domain.ErrOrderResting)
	}

	res, err := t.gateway.PlaceLimitOrder(ctx, t.side.MakerAction(), posted.Price, posted.Amount)
	if err != nil {
		return domain.NewNetworkError("place", err)
	}
	switch {
	case res.Status == "":
		return domain.NewNetworkError("place", fmt.Errorf("missing status: %w", domain.ErrMalformedResponse))
	case res.Status != domain.PlaceStatusSuccess:
		return domain.Fatal("place", fmt.Errorf("%s status=%q: %w", t.side, res.Status, domain.ErrPlacementRejected))
	case res.OrderID == "":
		return domain.Fatal("place", fmt.Errorf("%s accepted without order id: %w", t.side, domain.ErrAmbiguousResponse))
	}

	t.mu.Lock()
	t.order = domain.OpenOrder{
		Side:         t.side,
		ID:           res.OrderID,
		State:        domain.OrderPlaced,
		Posted:       posted,
		FilledAmount: decimal.Zero,
	}
	t.lastPosted = posted
	t.mu.Unlock()

	t.metrics.OrderPlaced(t.side)
	t.logger.Info("📌 Order placed",
		slog.String("id", res.OrderID),
		slog.String("price", posted.Price.String()),
		slog.String("amount", posted.Amount.String()),
	)
	return nil
}

// Refresh queries the venue for the order status. An empty answer means the
// order is gone without any fill: the tracker resets to Empty. Any answer that
// cannot be trusted returns ErrAmbiguousResponse and leaves the state as is.
func (t *Tracker) Refresh(ctx context.Context) error {
	o := t.Snapshot()
	if o.IsEmpty() {
		return nil
	}

	records, err := t.gateway.QueryOrderStatus(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("refresh %s %s: %w", t.side, o.ID, err)
	}
	if len(records) == 0 {
		t.logger.Info("Order gone without fill", slog.String("id", o.ID))
		t.mu.Lock()
		t.order.State = domain.OrderUnfilled
		t.mu.Unlock()
		t.Reset()
		return nil
	}
	if len(records) > 1 {
		return fmt.Errorf("refresh %s %s: %d matching orders: %w", t.side, o.ID, len(records), domain.ErrAmbiguousResponse)
	}

	rec := records[0]
	if rec.Status == "" {
		return fmt.Errorf("refresh %s %s: missing status: %w", t.side, o.ID, domain.ErrAmbiguousResponse)
	}
	if !rec.Status.Known() {
		return fmt.Errorf("refresh %s %s: unknown status %q: %w", t.side, o.ID, rec.Status, domain.ErrAmbiguousResponse)
	}
	state := domain.OrderUnfilled
	switch rec.Status {
	case domain.StatusPartiallyFilled:
		state = domain.OrderPartiallyFilled
	case domain.StatusFilled:
		state = domain.OrderFilled
	}
	if rec.FilledAmount.IsNegative() || rec.FilledAmount.LessThan(o.FilledAmount) {
		return fmt.Errorf("refresh %s %s: filled amount went from %s to %s: %w",
			t.side, o.ID, o.FilledAmount, rec.FilledAmount, domain.ErrAmbiguousResponse)
	}

	t.mu.Lock()
	t.order.State = state
	t.order.FilledAmount = rec.FilledAmount
	t.order.LastResponse = rec.Raw
	t.mu.Unlock()

	if rec.FilledAmount.GreaterThan(o.FilledAmount) {
		t.metrics.OrderFilled(t.side, rec.FilledAmount.Sub(o.FilledAmount))
		t.logger.Info("💰 Fill detected",
			slog.String("id", o.ID),
			slog.String("status", string(rec.Status)),
			slog.String("filled", rec.FilledAmount.String()),
		)
	}
	return nil
}

// Cancel asks the venue to cancel the resting order and reports whether the
// venue acknowledged it. The local state is never changed here: the answer
// of a cancel says nothing reliable about fills, so the caller must Refresh
// afterwards. A failed or malformed cancel returns an error and the order
// stays resting.
func (t *Tracker) Cancel(ctx context.Context) (acknowledged bool, err error) {
	o := t.Snapshot()
	if o.IsEmpty() {
		return true, nil
	}

	records, err := t.gateway.CancelOrder(ctx, o.ID)
	if err != nil {
		return false, fmt.Errorf("cancel %s %s: %w", t.side, o.ID, err)
	}
	if len(records) != 1 {
		return false, fmt.Errorf("cancel %s %s: %d records: %w", t.side, o.ID, len(records), domain.ErrMalformedResponse)
	}
	if records[0].Status == "" {
		return false, fmt.Errorf("cancel %s %s: missing status: %w", t.side, o.ID, domain.ErrMalformedResponse)
	}
	if records[0].Status != domain.CancelStatusSuccess {
		// Usually already filled or already gone; the refresh tells which.
		t.logger.Warn("Cancel not acknowledged",
			slog.String("id", o.ID),
			slog.String("status", records[0].Status),
		)
		return false, nil
	}
	return true, nil
}

// Reset drops the local order. Only a confirmed zero-fill cancel or a
// completed compensation may call it.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = domain.OpenOrder{Side: t.side}
}
