// Package engine drives pricing, order lifecycle and compensation once per
// tick and watches the health of both venues.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"crypto_arb/internal/domain"
	"crypto_arb/internal/ledger"
	"crypto_arb/internal/market"
	"crypto_arb/internal/order"
	"crypto_arb/internal/pricing"
	"crypto_arb/internal/saga"
)

// Loop is the single-threaded control loop. Everything that touches orders,
// balances or compensations happens inside Step; feeders only write the cache.
type Loop struct {
	opts      Options
	params    pricing.Params
	cache     *market.Cache
	ledger    *ledger.Ledger
	maker     domain.MakerOrderGateway
	aggressor domain.AggressorTradeGateway
	saga      *saga.Coordinator
	trackers  map[domain.Side]*order.Tracker
	metrics   domain.Recorder
	logger    *slog.Logger
	now       func() time.Time

	// loop-owned
	quotes           map[domain.Side]pricing.Quote
	fresh            map[domain.Side]bool
	active           map[domain.Side]pricing.Quote // quote the resting order was last validated under
	lastMakerRefresh time.Time
	lastAggrRefresh  time.Time
	iteration        uint64

	mu     sync.RWMutex // guards status
	status Status
}

// Deps groups the collaborators of a Loop.
type Deps struct {
	Cache     *market.Cache
	Ledger    *ledger.Ledger
	Maker     domain.MakerOrderGateway
	Aggressor domain.AggressorTradeGateway
	Saga      *saga.Coordinator
	Metrics   domain.Recorder
}

// NewLoop builds a loop with one tracker per side.
func NewLoop(opts Options, params pricing.Params, deps Deps) *Loop {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = domain.NopRecorder{}
	}
	l := &Loop{
		opts:      opts,
		params:    params,
		cache:     deps.Cache,
		ledger:    deps.Ledger,
		maker:     deps.Maker,
		aggressor: deps.Aggressor,
		saga:      deps.Saga,
		trackers:  make(map[domain.Side]*order.Tracker, len(domain.Sides)),
		quotes:    make(map[domain.Side]pricing.Quote, len(domain.Sides)),
		fresh:     make(map[domain.Side]bool, len(domain.Sides)),
		active:    make(map[domain.Side]pricing.Quote, len(domain.Sides)),
		metrics:   metrics,
		logger:    slog.Default().With(slog.String("module", "engine")),
		now:       time.Now,
	}
	for _, side := range domain.Sides {
		l.trackers[side] = order.NewTracker(side, deps.Maker, params.MinTradeAmount, metrics)
	}
	return l
}

// WithClock replaces the wall clock of the loop and its coordinator. Tests only.
func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	if l.saga != nil {
		l.saga.WithClock(now)
	}
	return l
}

// Tracker returns the tracker of side.
func (l *Loop) Tracker(side domain.Side) *order.Tracker {
	return l.trackers[side]
}

// Run performs the startup sequence and then steps every LoopInterval until
// ctx is done or a fatal error occurs. A recovered panic is returned as fatal
// after the loop state has been dumped.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.Bool("fatal", true))
			l.DumpState(l.opts.DumpFile)
			err = domain.Fatal("loop", fmt.Errorf("panic: %v", r))
		}
	}()

	if err := l.cache.WaitReady(ctx, l.opts.WarmUp); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("Market data not ready after warm-up", slog.Duration("warm_up", l.opts.WarmUp))
	}
	if err := l.Startup(ctx); err != nil {
		return err
	}

	l.logger.Info("🚀 Control loop started", slog.Duration("interval", l.opts.LoopInterval))
	ticker := time.NewTicker(l.opts.LoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Control loop stopping...")
			return nil
		case <-ticker.C:
			if err := l.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Startup resyncs balances and cancels every open maker order so the loop
// starts from a known state.
func (l *Loop) Startup(ctx context.Context) error {
	if err := l.ledger.Resync(ctx); err != nil {
		return domain.Fatal("startup", err)
	}
	if err := l.maker.CancelAll(ctx); err != nil {
		return domain.Fatal("startup", fmt.Errorf("cancel open maker orders: %w", err))
	}
	now := l.now()
	l.lastMakerRefresh, l.lastAggrRefresh = now, now
	return nil
}

// Step runs one iteration. Only fatal errors are returned.
func (l *Loop) Step(ctx context.Context) error {
	l.iteration++
	now := l.now()
	defer l.publishStatus(now)

	if reason, err := l.stale(now); err != nil {
		l.logger.Warn("Retreating both sides", slog.String("reason", reason), slog.Any("error", err))
		return l.RetreatAll(ctx, reason)
	}

	if err := l.refreshSessions(ctx, now); err != nil {
		return err
	}

	for _, side := range domain.Sides {
		if !l.trackers[side].Empty() {
			continue
		}
		l.requote(side)
		if err := l.initiate(ctx, side); err != nil {
			return err
		}
	}

	for _, side := range domain.Sides {
		tr := l.trackers[side]
		if tr.Empty() {
			continue
		}
		if err := tr.Refresh(ctx); err != nil {
			l.logger.Warn("Order refresh failed, retreating both sides",
				slog.String("side", string(side)), slog.Any("error", err))
			return l.RetreatAll(ctx, "refresh_failed")
		}
		if tr.Empty() {
			continue
		}
		if tr.FilledEnough() {
			if err := l.Retreat(ctx, side, "filled"); err != nil {
				return err
			}
			continue
		}
		// the other side may just have been compensated: price against the
		// ledger and books as they are now
		l.requote(side)
		q := l.quotes[side]
		if !l.fresh[side] || !pricing.StillFits(side, q.Band, tr.Snapshot().Posted.Price, l.cache.Load(domain.VenueMaker)) {
			if err := l.Retreat(ctx, side, "band_violation"); err != nil {
				return err
			}
			continue
		}
		l.active[side] = q
	}
	return nil
}

// stale returns the retreat reason and an ErrStaleMarketData error when
// either venue is older than its threshold.
func (l *Loop) stale(now time.Time) (string, error) {
	makerAge := l.cache.Staleness(domain.VenueMaker, now)
	aggrAge := l.cache.Staleness(domain.VenueAggressor, now)
	l.metrics.Staleness(domain.VenueMaker, makerAge)
	l.metrics.Staleness(domain.VenueAggressor, aggrAge)

	switch {
	case makerAge > l.opts.MakerStaleAfter:
		return "maker_stale", fmt.Errorf("maker book %s old: %w", makerAge, domain.ErrStaleMarketData)
	case aggrAge > l.opts.AggressorStaleAfter:
		return "aggressor_stale", fmt.Errorf("aggressor book %s old: %w", aggrAge, domain.ErrStaleMarketData)
	}
	return "", nil
}

// requote recomputes the quote of side from the current cache and ledger.
// On failure a resting order no longer fits.
func (l *Loop) requote(side domain.Side) {
	aggrBase, makerBase := l.ledger.BaseTotals()
	q, err := pricing.ComputeQuote(side, pricing.Inputs{
		Maker:          l.cache.Load(domain.VenueMaker),
		Aggressor:      l.cache.Load(domain.VenueAggressor),
		AggressorBase:  aggrBase,
		MakerBase:      makerBase,
		PreviousAmount: l.trackers[side].LastPosted().Amount,
	}, l.params)
	if err != nil {
		l.logger.Warn("Quote unavailable", slog.String("side", string(side)), slog.Any("error", err))
		l.fresh[side] = false
		return
	}
	l.quotes[side] = q
	l.fresh[side] = true
}

func (l *Loop) initiate(ctx context.Context, side domain.Side) error {
	tr := l.trackers[side]
	if !tr.Empty() {
		return nil
	}
	q, ok := l.quotes[side]
	if !ok || !l.fresh[side] {
		return nil
	}
	if !l.ledger.CanFund(side, q.Posted, q.Aggressor) {
		l.logger.Debug("Placement deferred: insufficient balance", slog.String("side", string(side)))
		return nil
	}
	if err := tr.Place(ctx, q.Posted); err != nil {
		if domain.IsFatal(err) {
			l.metrics.Fatal("place")
			return err
		}
		l.logger.Warn("Placement deferred", slog.String("side", string(side)), slog.Any("error", err))
		return nil
	}
	l.active[side] = q
	return nil
}

// Retreat cancels the order of side, learns its true fill and compensates
// it when owed, at the intended price of the quote the order was last
// validated under. A cancel that fails leaves the order resting for the next
// iteration; an untrustworthy status after the cancel is fatal.
func (l *Loop) Retreat(ctx context.Context, side domain.Side, reason string) error {
	tr := l.trackers[side]
	if tr.Empty() {
		return nil
	}
	log := l.logger.With(slog.String("side", string(side)), slog.String("reason", reason), slog.String("id", tr.Snapshot().ID))

	acked, err := tr.Cancel(ctx)
	if err != nil {
		log.Warn("Cancel failed, order kept resting", slog.Any("error", err))
		return nil
	}
	if err := tr.Refresh(ctx); err != nil {
		if errors.Is(err, domain.ErrAmbiguousResponse) {
			l.metrics.Fatal("retreat")
			return domain.Fatal("retreat", err)
		}
		log.Warn("Status after cancel unknown, order kept resting", slog.Any("error", err))
		return nil
	}
	l.metrics.Retreat(side, reason)

	switch {
	case tr.Empty():
		log.Info("↩️ Retreated")
	case tr.FilledEnough():
		q, ok := l.active[side]
		if !ok {
			return domain.Fatal("retreat", fmt.Errorf("%s filled %s without quote", side, tr.Snapshot().FilledAmount))
		}
		if _, err := l.saga.Compensate(ctx, tr, q); err != nil {
			return err
		}
	case acked:
		if f := tr.Snapshot().FilledAmount; f.IsPositive() {
			log.Warn("Dust fill below minimum left uncompensated", slog.String("filled", f.String()))
		}
		tr.Reset()
		log.Info("↩️ Retreated")
	default:
		log.Warn("Cancel not confirmed, order kept resting")
	}
	return nil
}

// RetreatAll retreats both sides, one fully after the other.
func (l *Loop) RetreatAll(ctx context.Context, reason string) error {
	for _, side := range domain.Sides {
		if err := l.Retreat(ctx, side, reason); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) refreshSessions(ctx context.Context, now time.Time) error {
	every := l.opts.SessionRefresh
	if every <= 0 {
		return nil
	}

	if now.Sub(l.lastMakerRefresh) >= every {
		l.lastMakerRefresh = now
		if err := l.maker.RefreshSession(ctx); err != nil {
			l.logger.Warn("Maker session refresh failed", slog.Any("error", err))
		} else {
			l.logger.Info("🔑 Maker session refreshed")
		}
	}

	if now.Sub(l.lastAggrRefresh) < every {
		return nil
	}
	l.lastAggrRefresh = now

	if err := l.RetreatAll(ctx, "session_refresh"); err != nil {
		return err
	}
	for _, side := range domain.Sides {
		if !l.trackers[side].Empty() {
			l.logger.Warn("Aggressor session cycle postponed: order still resting", slog.String("side", string(side)))
			return nil
		}
	}
	if err := l.relogin(ctx); err != nil {
		l.metrics.Fatal("relogin")
		return domain.Fatal("relogin", err)
	}
	if err := l.ledger.Resync(ctx); err != nil {
		l.logger.Warn("Balance resync failed", slog.Any("error", err))
	}
	return nil
}

// relogin refreshes the aggressor session and retries with exponential
// backoff while the venue still reports it invalid.
func (l *Loop) relogin(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.ReloginInitial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = l.opts.ReloginInitial * 16
	b.MaxElapsedTime = 0

	attempts := l.opts.ReloginAttempts
	if attempts < 1 {
		attempts = 1
	}
	op := func() error {
		if err := l.aggressor.RefreshSession(ctx); err != nil {
			return err
		}
		if !l.aggressor.IsSessionValid(ctx) {
			return errors.New("aggressor session invalid after refresh")
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		l.logger.Warn("Aggressor re-login failed", slog.Duration("retry_in", wait), slog.Any("error", err))
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return err
	}
	l.logger.Info("🔑 Aggressor session refreshed")
	return nil
}

// Status is the observable state after the latest iteration.
type Status struct {
	Iteration uint64                           `json:"iteration"`
	Time      time.Time                        `json:"time"`
	Maker     *domain.TopOfBook                `json:"maker,omitempty"`
	Aggressor *domain.TopOfBook                `json:"aggressor,omitempty"`
	Quotes    map[domain.Side]pricing.Quote    `json:"quotes"`
	Orders    map[domain.Side]domain.OpenOrder `json:"orders"`
	Balances  ledger.Snapshot                  `json:"balances"`
}

func (l *Loop) publishStatus(now time.Time) {
	s := Status{
		Iteration: l.iteration,
		Time:      now,
		Maker:     l.cache.Load(domain.VenueMaker),
		Aggressor: l.cache.Load(domain.VenueAggressor),
		Quotes:    make(map[domain.Side]pricing.Quote, len(l.quotes)),
		Orders:    make(map[domain.Side]domain.OpenOrder, len(l.trackers)),
		Balances:  l.ledger.Snapshot(),
	}
	for side, q := range l.quotes {
		s.Quotes[side] = q
	}
	for side, tr := range l.trackers {
		s.Orders[side] = tr.Snapshot()
	}

	l.mu.Lock()
	l.status = s
	l.mu.Unlock()

	if l.logger.Enabled(context.Background(), slog.LevelDebug) {
		l.logger.Debug("STATUS",
			slog.Uint64("iteration", s.Iteration),
			slog.Any("orders", s.Orders),
			slog.Any("quotes", s.Quotes),
		)
	}
}

// Status returns the state published by the latest iteration.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// DumpState writes the loop state to filename for post-mortem analysis.
func (l *Loop) DumpState(filename string) {
	if filename == "" {
		return
	}
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		Status Status                           `json:"status"`
		Orders map[domain.Side]domain.OpenOrder `json:"orders"`
	}{
		Status: l.Status(),
		Orders: make(map[domain.Side]domain.OpenOrder, len(l.trackers)),
	}
	for side, tr := range l.trackers {
		data.Orders[side] = tr.Snapshot()
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
