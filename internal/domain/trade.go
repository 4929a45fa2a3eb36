package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegRecord captures one venue's part of a completed compensation.
type LegRecord struct {
	Venue        Venue           `json:"venue"`
	BaseBefore   decimal.Decimal `json:"base_before"`
	QuoteBefore  decimal.Decimal `json:"quote_before"`
	Action       Action          `json:"action"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
	VenueOrderID string          `json:"venue_order_id,omitempty"`
}

// TradeRecord is the immutable entry appended once per completed compensation.
type TradeRecord struct {
	ID        string    `json:"id"`
	Side      Side      `json:"side"`
	Time      time.Time `json:"time"`
	Aggressor LegRecord `json:"aggressor"`
	Maker     LegRecord `json:"maker"`
}

// ErrorRecord is persisted by the supervisor whenever a session dies.
type ErrorRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal"`
}
