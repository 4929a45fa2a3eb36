package domain

// Side names one leg pair of the strategy after the action taken on the
// aggressor venue. The resting maker order always takes the opposite action:
// SideBuy rests an ask on the maker venue and buys on the aggressor venue.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sides is the fixed evaluation order of the control loop.
var Sides = [2]Side{SideBuy, SideSell}

// Action is a single venue order direction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Opposite returns the reverse direction.
func (a Action) Opposite() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// AggressorAction is the direction of the compensating trade.
func (s Side) AggressorAction() Action {
	if s == SideBuy {
		return ActionBuy
	}
	return ActionSell
}

// MakerAction is the direction of the resting order.
func (s Side) MakerAction() Action {
	return s.AggressorAction().Opposite()
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Venue is the role a venue plays for the strategy.
type Venue string

const (
	VenueMaker     Venue = "maker"
	VenueAggressor Venue = "aggressor"
)

// Asset identifies a balance line (e.g. "BTC" or "KRW").
type Asset string
