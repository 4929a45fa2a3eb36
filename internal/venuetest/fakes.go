// Package venuetest provides scriptable in-memory venue fakes for tests.
package venuetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// PlaceCall records one PlaceLimitOrder invocation.
type PlaceCall struct {
	Action domain.Action
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Maker is a MakerOrderGateway whose answers are set by the test. Unset
// hooks answer like a healthy venue: placements succeed with sequential ids,
// cancels succeed, and status queries report unfilled.
type Maker struct {
	mu sync.Mutex

	OnPlace  func(PlaceCall) (domain.PlaceResult, error)
	OnCancel func(id string) ([]domain.CancelRecord, error)
	OnQuery  func(id string) ([]domain.StatusRecord, error)

	Placed         []PlaceCall
	Canceled       []string
	Queried        []string
	CancelAllCalls int
	Refreshes      int
	nextID         int
}

func (m *Maker) PlaceLimitOrder(ctx context.Context, action domain.Action, price, amount decimal.Decimal) (domain.PlaceResult, error) {
	m.mu.Lock()
	call := PlaceCall{Action: action, Price: price, Amount: amount}
	m.Placed = append(m.Placed, call)
	m.nextID++
	id := fmt.Sprintf("m-%d", m.nextID)
	hook := m.OnPlace
	m.mu.Unlock()

	if hook != nil {
		return hook(call)
	}
	return domain.PlaceResult{OrderID: id, Status: domain.PlaceStatusSuccess}, nil
}

func (m *Maker) CancelOrder(ctx context.Context, id string) ([]domain.CancelRecord, error) {
	m.mu.Lock()
	m.Canceled = append(m.Canceled, id)
	hook := m.OnCancel
	m.mu.Unlock()

	if hook != nil {
		return hook(id)
	}
	return []domain.CancelRecord{{OrderID: id, Status: domain.CancelStatusSuccess}}, nil
}

func (m *Maker) QueryOrderStatus(ctx context.Context, id string) ([]domain.StatusRecord, error) {
	m.mu.Lock()
	m.Queried = append(m.Queried, id)
	hook := m.OnQuery
	m.mu.Unlock()

	if hook != nil {
		return hook(id)
	}
	return []domain.StatusRecord{{OrderID: id, Status: domain.StatusUnfilled, FilledAmount: decimal.Zero}}, nil
}

func (m *Maker) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelAllCalls++
	return nil
}

func (m *Maker) RefreshSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refreshes++
	return nil
}

// PlaceCount returns the number of placements so far.
func (m *Maker) PlaceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Placed)
}

// CancelCount returns the number of cancels so far.
func (m *Maker) CancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Canceled)
}

// Aggressor is an AggressorTradeGateway answering from a script. Results are
// consumed in order; once exhausted every call succeeds.
type Aggressor struct {
	mu sync.Mutex

	Results []domain.ExecutionResult
	Errors  []error

	Executed      []PlaceCall
	Refreshes     int
	RefreshErr    error
	SessionValid  bool
	ValidityCalls int
}

func (a *Aggressor) ExecuteMarketableOrder(ctx context.Context, action domain.Action, price, amount decimal.Decimal) (domain.ExecutionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.Executed)
	a.Executed = append(a.Executed, PlaceCall{Action: action, Price: price, Amount: amount})
	if n < len(a.Errors) && a.Errors[n] != nil {
		return domain.ExecutionResult{}, a.Errors[n]
	}
	if n < len(a.Results) {
		return a.Results[n], nil
	}
	return domain.ExecutionResult{Success: true}, nil
}

func (a *Aggressor) RefreshSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Refreshes++
	return a.RefreshErr
}

func (a *Aggressor) IsSessionValid(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ValidityCalls++
	return a.SessionValid
}

// ExecutedCount returns the number of submitted aggressor orders.
func (a *Aggressor) ExecutedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Executed)
}

// Balances is a BalanceSource returning a fixed map.
type Balances struct {
	mu    sync.Mutex
	Value domain.Balances
	Err   error
	Calls int
}

func (b *Balances) FetchBalances(ctx context.Context) (domain.Balances, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls++
	if b.Err != nil {
		return nil, b.Err
	}
	return b.Value.Clone(), nil
}

// Set replaces the returned balances.
func (b *Balances) Set(v domain.Balances) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Value = v
}

// Ledger is a TradeLedgerSink and ErrorSink keeping everything in memory.
type Ledger struct {
	mu     sync.Mutex
	Trades []domain.TradeRecord
	Errors []domain.ErrorRecord
	Err    error
}

func (l *Ledger) AppendTradeRecord(ctx context.Context, rec domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.Trades = append(l.Trades, rec)
	return nil
}

func (l *Ledger) RecordError(ctx context.Context, rec domain.ErrorRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, rec)
	return nil
}

// TradeCount returns the number of stored trade records.
func (l *Ledger) TradeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Trades)
}

// Alerts collects alerts.
type Alerts struct {
	mu   sync.Mutex
	Sent []domain.Alert
}

func (a *Alerts) Send(ctx context.Context, alert domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Sent = append(a.Sent, alert)
	return nil
}

// Count returns the number of alerts sent.
func (a *Alerts) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Sent)
}

// Book serves a mutable snapshot as an OrderBookSource.
type Book struct {
	mu   sync.Mutex
	Top *domain.TopOfBook
	Err error
}

func (b *Book) FetchTopOfBook(ctx context.Context) (*domain.TopOfBook, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	if b.Top == nil {
		return nil, domain.ErrNoSnapshot
	}
	cp := *b.Top
	return &cp, nil
}

// Set replaces the served snapshot.
func (b *Book) Set(top *domain.TopOfBook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Top = top
}
