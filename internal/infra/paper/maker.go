package paper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

type paperOrder struct {
	id       string
	action   domain.Action
	price    decimal.Decimal
	amount   decimal.Decimal
	filled   decimal.Decimal
	canceled bool
}

func (o *paperOrder) status() domain.OrderStatus {
	switch {
	case o.filled.IsZero():
		return domain.StatusUnfilled
	case o.filled.LessThan(o.amount):
		return domain.StatusPartiallyFilled
	default:
		return domain.StatusFilled
	}
}

// Maker is a simulated maker venue. Resting orders fill in full once the
// live book trades through them: an ask fills when the best bid reaches its
// price, a bid when the best ask does.
type Maker struct {
	base, quote domain.Asset
	book        domain.OrderBookSource
	wallet      *Wallet

	mu     sync.Mutex
	orders map[string]*paperOrder
	nextID int
	logger *slog.Logger
}

var _ domain.MakerOrderGateway = (*Maker)(nil)

// NewMaker creates a simulated maker venue priced by book.
func NewMaker(base, quote domain.Asset, book domain.OrderBookSource, wallet *Wallet) *Maker {
	return &Maker{
		base:   base,
		quote:  quote,
		book:   book,
		wallet: wallet,
		orders: make(map[string]*paperOrder),
		logger: slog.Default().With("module", "paper_maker"),
	}
}

// PlaceLimitOrder reserves funds and rests the order. Insufficient funds are
// reported with a not_enough_<asset> status, as the real venue does.
func (m *Maker) PlaceLimitOrder(_ context.Context, action domain.Action, price, amount decimal.Decimal) (domain.PlaceResult, error) {
	asset, need := m.requirement(action, price, amount)

	m.wallet.mu.Lock()
	err := m.wallet.reserve(asset, need)
	m.wallet.mu.Unlock()
	if err != nil {
		m.logger.Warn("Paper order refused", slog.Any("error", err))
		return domain.PlaceResult{Status: "not_enough_" + strings.ToLower(string(asset))}, nil
	}

	m.mu.Lock()
	m.nextID++
	id := "paper-" + strconv.Itoa(m.nextID)
	m.orders[id] = &paperOrder{id: id, action: action, price: price, amount: amount, filled: decimal.Zero}
	m.mu.Unlock()

	m.logger.Debug("Paper order resting", slog.String("id", id), slog.String("price", price.String()))
	return domain.PlaceResult{OrderID: id, Status: domain.PlaceStatusSuccess}, nil
}

func (m *Maker) requirement(action domain.Action, price, amount decimal.Decimal) (domain.Asset, decimal.Decimal) {
	if action == domain.ActionSell {
		return m.base, amount
	}
	return m.quote, price.Mul(amount)
}

// CancelOrder cancels an open order. Filled or unknown orders answer with a
// non-success status.
func (m *Maker) CancelOrder(ctx context.Context, id string) ([]domain.CancelRecord, error) {
	m.match(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	switch {
	case !ok || o.canceled:
		return []domain.CancelRecord{{OrderID: id, Status: "not_found"}}, nil
	case o.status() == domain.StatusFilled:
		return []domain.CancelRecord{{OrderID: id, Status: "already_filled"}}, nil
	}
	m.cancelLocked(o)
	return []domain.CancelRecord{{OrderID: id, Status: domain.CancelStatusSuccess}}, nil
}

func (m *Maker) cancelLocked(o *paperOrder) {
	o.canceled = true
	asset, need := m.requirement(o.action, o.price, o.amount.Sub(o.filled))
	m.wallet.mu.Lock()
	m.wallet.release(asset, need)
	m.wallet.mu.Unlock()
}

// QueryOrderStatus matches against the live book and reports the order.
// A canceled order without fill is forgotten, like on the real venue.
func (m *Maker) QueryOrderStatus(ctx context.Context, id string) ([]domain.StatusRecord, error) {
	m.match(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || (o.canceled && o.filled.IsZero()) {
		return []domain.StatusRecord{}, nil
	}
	return []domain.StatusRecord{{
		OrderID:      o.id,
		Status:       o.status(),
		FilledAmount: o.filled,
		Raw:          fmt.Sprintf(`{"id":"%s","status":"%s","filled_amount":"%s"}`, o.id, o.status(), o.filled),
	}}, nil
}

// CancelAll cancels every open order.
func (m *Maker) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if !o.canceled && o.status() != domain.StatusFilled {
			m.cancelLocked(o)
		}
	}
	return nil
}

func (m *Maker) RefreshSession(context.Context) error {
	return nil
}

// match fills resting orders the live book has traded through.
func (m *Maker) match(ctx context.Context) {
	book, err := m.book.FetchTopOfBook(ctx)
	if err != nil {
		m.logger.Debug("Paper match skipped", slog.Any("error", err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.canceled || o.status() == domain.StatusFilled {
			continue
		}
		crossed := (o.action == domain.ActionSell && !book.BestBid.Price.LessThan(o.price)) ||
			(o.action == domain.ActionBuy && !book.BestAsk.Price.GreaterThan(o.price))
		if !crossed {
			continue
		}

		rest := o.amount.Sub(o.filled)
		asset, reserved := m.requirement(o.action, o.price, rest)
		m.wallet.mu.Lock()
		m.wallet.release(asset, reserved)
		m.wallet.settle(m.base, m.quote, o.action, o.price, rest)
		m.wallet.mu.Unlock()
		o.filled = o.amount

		m.logger.Info("💰 Paper fill",
			slog.String("id", o.id),
			slog.String("action", string(o.action)),
			slog.String("price", o.price.String()),
			slog.String("amount", rest.String()),
		)
	}
}
