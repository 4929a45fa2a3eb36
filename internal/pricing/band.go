package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// Band is the tolerance window of one side on the maker venue.
type Band struct {
	Target decimal.Decimal `json:"target"`
	Lower  decimal.Decimal `json:"lower"`
	Upper  decimal.Decimal `json:"upper"`
	Amount decimal.Decimal `json:"amount"`
	OnTop  bool            `json:"on_top"`
}

// Contains reports lower <= price <= upper.
func (b Band) Contains(price decimal.Decimal) bool {
	return !price.LessThan(b.Lower) && !price.GreaterThan(b.Upper)
}

// EquivalentPrice walks the aggressor book for amount and returns the worst
// level price needed to fill it. Without depth the best level is the book.
func EquivalentPrice(book *domain.TopOfBook, action domain.Action, amount decimal.Decimal) (decimal.Decimal, error) {
	if book == nil {
		return decimal.Zero, domain.ErrNoSnapshot
	}
	levels := book.Asks
	best := book.BestAsk
	if action == domain.ActionSell {
		levels = book.Bids
		best = book.BestBid
	}
	if len(levels) == 0 {
		levels = []domain.Level{best}
	}

	remaining := amount
	for _, l := range levels {
		remaining = remaining.Sub(l.Amount)
		if !remaining.IsPositive() {
			return l.Price, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%s %s %s: %w", book.Venue, action, amount, domain.ErrInsufficientDepth)
}

// TargetPrice converts the intended aggressor price into the maker target:
// multiplied by (1+margin) for the buy side, divided by it for the sell side.
func TargetPrice(side domain.Side, intended, margin decimal.Decimal, p Params) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(margin)
	if side == domain.SideBuy {
		return Align(intended.Mul(factor), p.MakerTick)
	}
	return Align(intended.Div(factor), p.MakerTick)
}

// ComputeBand derives the band of side from its maker target and the maker book.
func ComputeBand(side domain.Side, target decimal.Decimal, maker *domain.TopOfBook, amount decimal.Decimal, p Params) Band {
	bid, ask := maker.BestBid, maker.BestAsk
	band := Band{Target: target, Amount: amount}

	if side == domain.SideBuy {
		band.OnTop = target.LessThan(ask.Price)
		if band.OnTop {
			band.Lower = decimal.Max(ask.Price.Sub(p.MakerTick), bid.Price.Add(p.MakerTick))
			if ask.Amount.LessThan(amount) {
				band.Lower = ask.Price
			}
		} else {
			band.Lower = target
		}
		band.Upper = band.Lower.Add(p.BandWidth)
		return band
	}

	band.OnTop = target.GreaterThan(bid.Price)
	if band.OnTop {
		band.Upper = decimal.Min(bid.Price.Add(p.MakerTick), ask.Price.Sub(p.MakerTick))
		if bid.Amount.LessThan(amount) {
			band.Upper = bid.Price
		}
	} else {
		band.Upper = target
	}
	band.Lower = band.Upper.Sub(p.BandWidth)
	return band
}

// PlacementOrder picks the price and amount to post for side.
//
// If the target crossed deep enough into the opposite maker best the order is
// pegged to that best and the band re-anchored on it. Otherwise an on-top
// order sits on its band edge and any other order at the band midpoint.
//
// The sell side keeps prevAmount in the crossing branch and only refreshes
// the amount in the other two; the buy side always refreshes it.
func PlacementOrder(side domain.Side, band Band, maker *domain.TopOfBook, margin, prevAmount decimal.Decimal, p Params) (Band, domain.PostedOrder) {
	one := decimal.NewFromInt(1)
	factor := one.Add(margin)
	bid, ask := maker.BestBid.Price, maker.BestAsk.Price
	amount := FormatAmount(band.Amount, p.AmountDigits)
	mid := Align(band.Lower.Add(band.Upper).Div(decimal.NewFromInt(2)), p.MakerTick)

	if side == domain.SideBuy {
		switch {
		case band.Target.Div(factor).LessThan(bid.Mul(one.Sub(p.CrossGuard))):
			band.Lower, band.Upper = bid, bid.Add(p.BandWidth)
			return band, domain.PostedOrder{Price: bid, Amount: amount}
		case band.Target.LessThan(ask):
			return band, domain.PostedOrder{Price: band.Lower, Amount: amount}
		default:
			return band, domain.PostedOrder{Price: mid, Amount: amount}
		}
	}

	switch {
	case band.Target.Mul(factor).GreaterThan(ask.Mul(one.Add(p.CrossGuard))):
		if !prevAmount.IsPositive() {
			prevAmount = amount
		}
		band.Lower, band.Upper = ask.Sub(p.BandWidth), ask
		return band, domain.PostedOrder{Price: ask, Amount: prevAmount}
	case band.Target.GreaterThan(bid):
		return band, domain.PostedOrder{Price: band.Upper, Amount: amount}
	default:
		return band, domain.PostedOrder{Price: mid, Amount: amount}
	}
}

// StillFits reports whether a posted order remains valid against a freshly
// computed band. A resting order that no longer fits must be retreated.
func StillFits(side domain.Side, band Band, posted decimal.Decimal, maker *domain.TopOfBook) bool {
	if side == domain.SideBuy {
		if band.Target.LessThan(maker.BestAsk.Price) && posted.GreaterThan(maker.BestAsk.Price) {
			return false
		}
	} else {
		if band.Target.GreaterThan(maker.BestBid.Price) && posted.LessThan(maker.BestBid.Price) {
			return false
		}
	}
	return band.Contains(posted)
}
