package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// Quote is everything the control loop needs to place, check and later
// compensate the order of one side.
type Quote struct {
	Side   domain.Side     `json:"side"`
	Margin decimal.Decimal `json:"margin"`
	Band   Band            `json:"band"`

	// Posted is the maker order derived by the placement policy.
	Posted domain.PostedOrder `json:"posted"`

	// Intended is the tick-aligned aggressor price the target was derived from.
	Intended decimal.Decimal `json:"intended"`
	// Aggressor is the marketable aggressor order for the full amount.
	Aggressor domain.PostedOrder `json:"aggressor"`
}

// Inputs collects what ComputeQuote reads.
type Inputs struct {
	Maker          *domain.TopOfBook
	Aggressor      *domain.TopOfBook
	AggressorBase  decimal.Decimal // base asset total on the aggressor venue
	MakerBase      decimal.Decimal // base asset total on the maker venue
	PreviousAmount decimal.Decimal // amount of the last posted order of the side
}

// ComputeQuote runs the whole banding pipeline for side.
func ComputeQuote(side domain.Side, in Inputs, p Params) (Quote, error) {
	if !side.Valid() {
		return Quote{}, fmt.Errorf("unknown side %q", side)
	}
	if in.Maker == nil || in.Aggressor == nil {
		return Quote{}, domain.ErrNoSnapshot
	}

	skew, ok := InventorySkew(side, in.AggressorBase, in.MakerBase)
	margin := AdjustedMargin(side, skew, ok, p)

	amount := p.Amount
	eq, err := EquivalentPrice(in.Aggressor, side.AggressorAction(), amount)
	if err != nil {
		return Quote{}, err
	}
	intended := Align(eq, p.AggressorTick)

	target := TargetPrice(side, intended, margin, p)
	band := ComputeBand(side, target, in.Maker, amount, p)
	band, posted := PlacementOrder(side, band, in.Maker, margin, in.PreviousAmount, p)

	return Quote{
		Side:      side,
		Margin:    margin,
		Band:      band,
		Posted:    posted,
		Intended:  intended,
		Aggressor: AggressorOrder(side, intended, amount, p),
	}, nil
}

// AggressorOrder offsets the intended price by PriceOver in the direction
// that crosses resting liquidity.
func AggressorOrder(side domain.Side, intended, amount decimal.Decimal, p Params) domain.PostedOrder {
	price := intended.Add(p.PriceOver)
	if side == domain.SideSell {
		price = intended.Sub(p.PriceOver)
	}
	return domain.PostedOrder{Price: price, Amount: FormatAmount(amount, p.AmountDigits)}
}
