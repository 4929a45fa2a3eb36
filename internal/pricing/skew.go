package pricing

import (
	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// InventorySkew returns the share of the combined base asset that sits on the
// venue steering the margin of side: the aggressor venue for SideBuy and the
// maker venue for SideSell. ok is false when nothing is held anywhere.
func InventorySkew(side domain.Side, aggressorBase, makerBase decimal.Decimal) (skew decimal.Decimal, ok bool) {
	combined := aggressorBase.Add(makerBase)
	if !combined.IsPositive() {
		return decimal.Zero, false
	}
	held := makerBase
	if side == domain.SideBuy {
		held = aggressorBase
	}
	return held.Div(combined), true
}

// AdjustedMargin shifts the neutral margin of side linearly when the skew
// leaves the neutral range. A low aggressor share lowers the buy margin so
// the strategy buys more there; a high share raises it.
func AdjustedMargin(side domain.Side, skew decimal.Decimal, ok bool, p Params) decimal.Decimal {
	base := p.ProfitForward
	if side == domain.SideSell {
		base = p.ProfitBackward
	}
	if !ok {
		return base
	}
	if skew.LessThan(p.SkewLower) || skew.GreaterThan(p.SkewUpper) {
		two := decimal.NewFromInt(2)
		return base.Add(p.SkewSlope.Mul(skew.Mul(two).Sub(decimal.NewFromInt(1))))
	}
	return base
}
