package paper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// Aggressor is a simulated taker venue. A marketable order fills at once at
// the live best opposite price; an order that does not cross is refused.
type Aggressor struct {
	base, quote domain.Asset
	book        domain.OrderBookSource
	wallet      *Wallet
	logger      *slog.Logger
}

var _ domain.AggressorTradeGateway = (*Aggressor)(nil)

// NewAggressor creates a simulated aggressor venue priced by book.
func NewAggressor(base, quote domain.Asset, book domain.OrderBookSource, wallet *Wallet) *Aggressor {
	return &Aggressor{
		base:   base,
		quote:  quote,
		book:   book,
		wallet: wallet,
		logger: slog.Default().With("module", "paper_aggressor"),
	}
}

func (a *Aggressor) ExecuteMarketableOrder(ctx context.Context, action domain.Action, price, amount decimal.Decimal) (domain.ExecutionResult, error) {
	// Without a book nothing executes, so the refusal is certain.
	book, err := a.book.FetchTopOfBook(ctx)
	if err != nil {
		return domain.ExecutionResult{Success: false, Messages: []string{"no book: " + err.Error()}}, nil
	}

	fill := book.BestAsk.Price
	marketable := !price.LessThan(fill)
	if action == domain.ActionSell {
		fill = book.BestBid.Price
		marketable = !price.GreaterThan(fill)
	}
	if !marketable {
		return domain.ExecutionResult{Success: false, Messages: []string{
			fmt.Sprintf("limit %s does not cross %s", price, fill),
		}}, nil
	}

	a.wallet.mu.Lock()
	defer a.wallet.mu.Unlock()

	if action == domain.ActionBuy && a.wallet.available(a.quote).LessThan(fill.Mul(amount)) {
		return domain.ExecutionResult{Success: false, Messages: []string{"insufficient " + string(a.quote)}}, nil
	}
	if action == domain.ActionSell && a.wallet.available(a.base).LessThan(amount) {
		return domain.ExecutionResult{Success: false, Messages: []string{"insufficient " + string(a.base)}}, nil
	}
	a.wallet.settle(a.base, a.quote, action, fill, amount)

	a.logger.Info("⚡ Paper execution",
		slog.String("action", string(action)),
		slog.String("price", fill.String()),
		slog.String("amount", amount.String()),
	)
	return domain.ExecutionResult{Success: true}, nil
}

func (a *Aggressor) RefreshSession(context.Context) error {
	return nil
}

func (a *Aggressor) IsSessionValid(context.Context) bool {
	return true
}
