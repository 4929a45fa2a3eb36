package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder receives observability events from the core. Implementations
// must be safe for concurrent use and never block.
type Recorder interface {
	BookUpdated(venue Venue)
	FeedError(venue Venue)
	Staleness(venue Venue, age time.Duration)
	OrderPlaced(side Side)
	OrderFilled(side Side, amount decimal.Decimal)
	Retreat(side Side, reason string)
	Compensated(side Side, amount decimal.Decimal)
	Fatal(op string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) BookUpdated(Venue) {}
func (NopRecorder) FeedError(Venue) {}
func (NopRecorder) Staleness(Venue, time.Duration) {}
func (NopRecorder) OrderPlaced(Side) {}
func (NopRecorder) OrderFilled(Side, decimal.Decimal) {}
func (NopRecorder) Retreat(Side, string) {}
func (NopRecorder) Compensated(Side, decimal.Decimal) {}
func (NopRecorder) Fatal(string) {}
