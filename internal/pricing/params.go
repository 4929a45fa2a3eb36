// Package pricing computes the price bands and the posted order of each side
// from the two venues' books and the current inventory. Everything in this
// package is a pure function of its inputs.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Params holds the pricing constants of one strategy instance.
type Params struct {
	Amount         decimal.Decimal // fixed order amount per side
	MinTradeAmount decimal.Decimal // smallest fill worth compensating
	AmountDigits   int32           // aggressor venue amount precision

	MakerTick     decimal.Decimal
	AggressorTick decimal.Decimal
	BandWidth     decimal.Decimal // width of the [lower, upper] window
	PriceOver     decimal.Decimal // aggressor offset that guarantees a fill

	ProfitForward  decimal.Decimal // neutral margin of the buy side
	ProfitBackward decimal.Decimal // neutral margin of the sell side

	SkewLower decimal.Decimal // neutral inventory range, inclusive
	SkewUpper decimal.Decimal
	SkewSlope decimal.Decimal

	// CrossGuard is the fraction by which the target may cross the opposite
	// maker best before the order is pegged to that best.
	CrossGuard decimal.Decimal
}

// DefaultParams mirrors the production constants.
func DefaultParams() Params {
	return Params{
		Amount:         decimal.NewFromInt(1),
		MinTradeAmount: decimal.RequireFromString("0.001"),
		AmountDigits:   4,
		MakerTick:      decimal.NewFromInt(500),
		AggressorTick:  decimal.NewFromInt(1000),
		BandWidth:      decimal.NewFromInt(20000),
		PriceOver:      decimal.NewFromInt(100000),
		ProfitForward:  decimal.RequireFromString("0.001"),
		ProfitBackward: decimal.RequireFromString("0.0005"),
		SkewLower:      decimal.RequireFromString("0.2"),
		SkewUpper:      decimal.RequireFromString("0.6"),
		SkewSlope:      decimal.RequireFromString("0.0015"),
		CrossGuard:     decimal.RequireFromString("0.005"),
	}
}

// Validate rejects parameter sets that cannot produce a sane band.
func (p Params) Validate() error {
	switch {
	case !p.Amount.IsPositive():
		return fmt.Errorf("amount must be positive")
	case p.Amount.LessThan(p.MinTradeAmount):
		return fmt.Errorf("amount %s below min trade amount %s", p.Amount, p.MinTradeAmount)
	case !p.MakerTick.IsPositive() || !p.AggressorTick.IsPositive():
		return fmt.Errorf("tick sizes must be positive")
	case p.BandWidth.IsNegative():
		return fmt.Errorf("band width must not be negative")
	case p.SkewLower.GreaterThan(p.SkewUpper):
		return fmt.Errorf("skew range inverted: [%s, %s]", p.SkewLower, p.SkewUpper)
	case p.AmountDigits < 0:
		return fmt.Errorf("amount digits must not be negative")
	}
	return nil
}
