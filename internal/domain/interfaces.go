package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderBookSource is polled by a feeder for one venue.
type OrderBookSource interface {
	FetchTopOfBook(ctx context.Context) (*TopOfBook, error)
}

// BalanceSource returns authoritative balances of one venue.
type BalanceSource interface {
	FetchBalances(ctx context.Context) (Balances, error)
}

// MakerOrderGateway manages resting limit orders on the maker venue.
type MakerOrderGateway interface {
	PlaceLimitOrder(ctx context.Context, action Action, price, amount decimal.Decimal) (PlaceResult, error)
	// CancelOrder returns one record per order the venue answered for.
	CancelOrder(ctx context.Context, id string) ([]CancelRecord, error)
	// QueryOrderStatus returns an empty slice when the venue knows nothing of
	// the order, which means it was canceled without any fill.
	QueryOrderStatus(ctx context.Context, id string) ([]StatusRecord, error)
	// CancelAll cancels every open order of the account.
	CancelAll(ctx context.Context) error
	RefreshSession(ctx context.Context) error
}

// AggressorTradeGateway executes the compensating trade.
type AggressorTradeGateway interface {
	ExecuteMarketableOrder(ctx context.Context, action Action, price, amount decimal.Decimal) (ExecutionResult, error)
	RefreshSession(ctx context.Context) error
	IsSessionValid(ctx context.Context) bool
}

// TradeLedgerSink stores trade records. It is append-only.
type TradeLedgerSink interface {
	AppendTradeRecord(ctx context.Context, rec TradeRecord) error
}

// ErrorSink stores error records of dead sessions.
type ErrorSink interface {
	RecordError(ctx context.Context, rec ErrorRecord) error
}

// AlertSink delivers notifications. Implementations must not block for long
// and must not retry indefinitely.
type AlertSink interface {
	Send(ctx context.Context, alert Alert) error
}
