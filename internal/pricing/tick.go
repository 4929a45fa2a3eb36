package pricing

import "github.com/shopspring/decimal"

// Align rounds price to the nearest multiple of tick, ties to the even multiple.
func Align(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).RoundBank(0).Mul(tick)
}

// IsAligned reports whether price is a multiple of tick.
func IsAligned(price, tick decimal.Decimal) bool {
	if !tick.IsPositive() {
		return true
	}
	return price.Mod(tick).IsZero()
}

// FormatAmount rounds amount to the venue amount precision.
func FormatAmount(amount decimal.Decimal, digits int32) decimal.Decimal {
	return amount.Round(digits)
}
