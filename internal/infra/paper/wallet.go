// Package paper simulates both venues against live order books for dry runs.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// Wallet is an in-memory balance sheet with reservations for resting orders.
type Wallet struct {
	mu       sync.RWMutex
	total    map[domain.Asset]decimal.Decimal
	reserved map[domain.Asset]decimal.Decimal
}

var _ domain.BalanceSource = (*Wallet)(nil)

// NewWallet creates a wallet with initial totals.
func NewWallet(initial map[domain.Asset]decimal.Decimal) *Wallet {
	w := &Wallet{
		total:    make(map[domain.Asset]decimal.Decimal, len(initial)),
		reserved: make(map[domain.Asset]decimal.Decimal),
	}
	for k, v := range initial {
		w.total[k] = v
	}
	return w
}

// Deposit adds amount (negative withdraws) without any check.
func (w *Wallet) Deposit(asset domain.Asset, amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.total[asset] = w.total[asset].Add(amount)
}

// FetchBalances returns totals and what is not reserved.
func (w *Wallet) FetchBalances(_ context.Context) (domain.Balances, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(domain.Balances, len(w.total))
	for asset, total := range w.total {
		out[asset] = domain.Balance{Total: total, Available: total.Sub(w.reserved[asset])}
	}
	return out, nil
}

func (w *Wallet) available(asset domain.Asset) decimal.Decimal {
	return w.total[asset].Sub(w.reserved[asset])
}

// reserve locks amount of asset. Caller holds mu.
func (w *Wallet) reserve(asset domain.Asset, amount decimal.Decimal) error {
	if w.available(asset).LessThan(amount) {
		return fmt.Errorf("not enough %s: want %s have %s", asset, amount, w.available(asset))
	}
	w.reserved[asset] = w.reserved[asset].Add(amount)
	return nil
}

// release unlocks amount of asset. Caller holds mu.
func (w *Wallet) release(asset domain.Asset, amount decimal.Decimal) {
	w.reserved[asset] = w.reserved[asset].Sub(amount)
}

// settle moves a trade of amount base at price. Caller holds mu.
func (w *Wallet) settle(base, quote domain.Asset, action domain.Action, price, amount decimal.Decimal) {
	notional := price.Mul(amount)
	if action == domain.ActionBuy {
		w.total[base] = w.total[base].Add(amount)
		w.total[quote] = w.total[quote].Sub(notional)
		return
	}
	w.total[base] = w.total[base].Sub(amount)
	w.total[quote] = w.total[quote].Add(notional)
}
