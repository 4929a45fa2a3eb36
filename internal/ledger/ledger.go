// Package ledger keeps the local balance view of both venues.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// Fill is what a completed compensation moved: the maker leg at MakerPrice
// and the aggressor leg at AggressorPrice, both for Amount.
type Fill struct {
	Side           domain.Side
	Amount         decimal.Decimal
	MakerPrice     decimal.Decimal
	AggressorPrice decimal.Decimal
}

// Adjustment is one optimistic change applied since the last resync.
type Adjustment struct {
	Fill
	Time time.Time
}

// Snapshot is a consistent copy of both venues' balances.
type Snapshot struct {
	Maker     domain.Balances `json:"maker"`
	Aggressor domain.Balances `json:"aggressor"`
	SyncedAt  time.Time       `json:"synced_at"`
}

// Ledger holds the balances of the maker and aggressor venues for one
// base/quote pair.
type Ledger struct {
	base, quote domain.Asset
	maker       domain.BalanceSource
	aggressor   domain.BalanceSource
	logger      *slog.Logger

	mu          sync.RWMutex
	snap        Snapshot
	adjustments []Adjustment
}

// New creates an empty ledger. Call Resync before using it.
func New(base, quote domain.Asset, maker, aggressor domain.BalanceSource) *Ledger {
	return &Ledger{
		base:      base,
		quote:     quote,
		maker:     maker,
		aggressor: aggressor,
		logger:    slog.Default().With(slog.String("module", "ledger")),
		snap: Snapshot{
			Maker:     domain.Balances{},
			Aggressor: domain.Balances{},
		},
	}
}

// Resync replaces both venues' balances with authoritative values. Nothing
// changes unless both fetches succeed.
func (l *Ledger) Resync(ctx context.Context) error {
	mb, err := l.maker.FetchBalances(ctx)
	if err != nil {
		return fmt.Errorf("resync maker balances: %w", err)
	}
	ab, err := l.aggressor.FetchBalances(ctx)
	if err != nil {
		return fmt.Errorf("resync aggressor balances: %w", err)
	}
	for _, set := range []domain.Balances{mb, ab} {
		for asset, b := range set {
			if err := b.VerifyInvariant(); err != nil {
				return fmt.Errorf("resync %s: %w", asset, err)
			}
		}
	}

	l.mu.Lock()
	l.snap = Snapshot{Maker: mb.Clone(), Aggressor: ab.Clone(), SyncedAt: time.Now()}
	l.adjustments = nil
	l.mu.Unlock()

	l.logger.Info("⚖️ Balances resynced",
		slog.String("maker_base", mb.Get(l.base).Total.String()),
		slog.String("maker_quote", mb.Get(l.quote).Total.String()),
		slog.String("aggressor_base", ab.Get(l.base).Total.String()),
		slog.String("aggressor_quote", ab.Get(l.quote).Total.String()),
	)
	return nil
}

// Snapshot returns a copy of the current balances.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		Maker:     l.snap.Maker.Clone(),
		Aggressor: l.snap.Aggressor.Clone(),
		SyncedAt:  l.snap.SyncedAt,
	}
}

// BaseTotals returns the base asset totals on the aggressor and maker venue.
func (l *Ledger) BaseTotals() (aggressor, maker decimal.Decimal) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap.Aggressor.Get(l.base).Total, l.snap.Maker.Get(l.base).Total
}

// CanFund reports whether both venues hold enough available balance to rest
// posted on the maker venue and later offset it with aggressor.
//
// SideBuy sells base on the maker and buys base on the aggressor; SideSell
// does the reverse.
func (l *Ledger) CanFund(side domain.Side, posted, aggressor domain.PostedOrder) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, a := l.snap.Maker, l.snap.Aggressor
	amount := posted.Amount
	if side == domain.SideBuy {
		return !a.Get(l.quote).Available.LessThan(aggressor.Price.Mul(amount)) &&
			!m.Get(l.base).Available.LessThan(amount)
	}
	return !a.Get(l.base).Available.LessThan(amount) &&
		!m.Get(l.quote).Available.LessThan(posted.Price.Mul(amount))
}

// ErrInvariant is returned when an optimistic adjustment left a balance line
// negative. The adjustment is still applied.
var ErrInvariant = errors.New("ledger invariant violated")

// ApplyCompensation moves base and quote in opposite directions on the two
// venues for fill and returns the balances as they were before. Available is
// set to total on every touched line.
func (l *Ledger) ApplyCompensation(fill Fill) (before Snapshot, err error) {
	aggrBase := fill.Amount
	aggrQuote := fill.Amount.Mul(fill.AggressorPrice).Neg()
	makerBase := fill.Amount.Neg()
	makerQuote := fill.Amount.Mul(fill.MakerPrice)
	if fill.Side == domain.SideSell {
		aggrBase, aggrQuote = aggrBase.Neg(), aggrQuote.Neg()
		makerBase, makerQuote = makerBase.Neg(), makerQuote.Neg()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	before = Snapshot{Maker: l.snap.Maker.Clone(), Aggressor: l.snap.Aggressor.Clone(), SyncedAt: l.snap.SyncedAt}

	var errs []error
	shift := func(set domain.Balances, asset domain.Asset, delta decimal.Decimal) {
		total := set.Get(asset).Total.Add(delta)
		b := domain.Balance{Total: total, Available: total}
		if verr := b.VerifyInvariant(); verr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", asset, verr))
		}
		set[asset] = b
	}
	shift(l.snap.Aggressor, l.base, aggrBase)
	shift(l.snap.Aggressor, l.quote, aggrQuote)
	shift(l.snap.Maker, l.base, makerBase)
	shift(l.snap.Maker, l.quote, makerQuote)
	l.adjustments = append(l.adjustments, Adjustment{Fill: fill, Time: time.Now()})

	if len(errs) > 0 {
		return before, fmt.Errorf("%w: %w", ErrInvariant, errors.Join(errs...))
	}
	return before, nil
}

// AdjustmentsSinceResync returns the optimistic changes applied since the
// last authoritative resync, oldest first.
func (l *Ledger) AdjustmentsSinceResync() []Adjustment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Adjustment, len(l.adjustments))
	copy(out, l.adjustments)
	return out
}

// Assets returns the base and quote asset of the ledger.
func (l *Ledger) Assets() (base, quote domain.Asset) {
	return l.base, l.quote
}
