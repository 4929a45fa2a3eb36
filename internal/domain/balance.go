package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Balance is one asset line on one venue.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// VerifyInvariant checks available <= total and that neither is negative.
func (b Balance) VerifyInvariant() error {
	if b.Total.IsNegative() || b.Available.IsNegative() {
		return fmt.Errorf("BALANCE_INVARIANT_NEGATIVE: total=%s available=%s", b.Total, b.Available)
	}
	if b.Available.GreaterThan(b.Total) {
		return fmt.Errorf("BALANCE_INVARIANT_AVAILABLE_EXCEEDS_TOTAL: total=%s available=%s", b.Total, b.Available)
	}
	return nil
}

// Balances maps asset to balance for a single venue.
type Balances map[Asset]Balance

// Get returns the balance for asset, zero if absent.
func (b Balances) Get(asset Asset) Balance {
	if b == nil {
		return Balance{}
	}
	return b[asset]
}

// Clone copies the map.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
