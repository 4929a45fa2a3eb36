package domain

import "github.com/shopspring/decimal"

// OrderState is the lifecycle state of the resting order of one side.
type OrderState int

const (
	OrderEmpty OrderState = iota
	OrderPlaced
	OrderUnfilled
	OrderPartiallyFilled
	OrderFilled
)

func (s OrderState) String() string {
	switch s {
	case OrderEmpty:
		return "EMPTY"
	case OrderPlaced:
		return "PLACED"
	case OrderUnfilled:
		return "UNFILLED"
	case OrderPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderFilled:
		return "FILLED"
	default:
		return "UNKNOWN"
	}
}

// Resting reports whether an order is believed to be on the venue.
func (s OrderState) Resting() bool {
	return s != OrderEmpty
}

// OrderStatus is the status string a maker venue reports for an order.
type OrderStatus string

const (
	StatusUnfilled        OrderStatus = "unfilled"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
)

// Known reports whether the status is one the state machine understands.
func (s OrderStatus) Known() bool {
	return s == StatusUnfilled || s == StatusPartiallyFilled || s == StatusFilled
}

// StatusRecord is one normalized entry of an order status query.
// Status is empty when the venue omitted the field.
type StatusRecord struct {
	OrderID      string          `json:"id"`
	Status       OrderStatus     `json:"status"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	Raw          string          `json:"raw,omitempty"`
}

// CancelRecord is one normalized entry of a cancel response.
// Status is empty when the venue omitted the field.
type CancelRecord struct {
	OrderID string `json:"id"`
	Status  string `json:"status"`
}

// CancelStatusSuccess is the status a venue returns for an accepted cancel.
const CancelStatusSuccess = "success"

// PlaceResult is the normalized placement response.
type PlaceResult struct {
	OrderID string `json:"id"`
	Status  string `json:"status"`
}

// PlaceStatusSuccess is the status a venue returns for an accepted order.
const PlaceStatusSuccess = "success"

// ExecutionResult is the aggressor venue answer to a marketable order.
type ExecutionResult struct {
	Success  bool     `json:"success"`
	Messages []string `json:"messages,omitempty"`
}

// PostedOrder is a submitted price/amount pair.
type PostedOrder struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OpenOrder is the single resting maker order of one side.
type OpenOrder struct {
	Side         Side            `json:"side"`
	ID           string          `json:"id,omitempty"`
	State        OrderState      `json:"state"`
	Posted       PostedOrder     `json:"posted"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	LastResponse string          `json:"last_response,omitempty"`
}

// IsEmpty reports whether no order rests on this side.
func (o OpenOrder) IsEmpty() bool {
	return !o.State.Resting()
}
