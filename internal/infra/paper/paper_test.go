package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
	"crypto_arb/internal/venuetest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func book(venue domain.Venue, bid, ask string) *domain.TopOfBook {
	return &domain.TopOfBook{
		Venue:     venue,
		BestBid:   domain.Level{Price: d(bid), Amount: d("1")},
		BestAsk:   domain.Level{Price: d(ask), Amount: d("1")},
		Timestamp: time.Now(),
	}
}

func balance(t *testing.T, w *Wallet, asset domain.Asset) domain.Balance {
	t.Helper()
	bal, err := w.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances failed: %v", err)
	}
	return bal.Get(asset)
}

func TestPaperMaker_AskFillsWhenBidReachesPrice(t *testing.T) {
	ctx := context.Background()
	src := &venuetest.Book{}
	src.Set(book(domain.VenueMaker, "100000000", "100500000"))
	w := NewWallet(map[domain.Asset]decimal.Decimal{"BTC": d("1"), "KRW": d("0")})
	m := NewMaker("BTC", "KRW", src, w)

	res, err := m.PlaceLimitOrder(ctx, domain.ActionSell, d("100499500"), d("1"))
	if err != nil || res.Status != domain.PlaceStatusSuccess {
		t.Fatalf("PlaceLimitOrder failed: %v %+v", err, res)
	}

	// Reserved, not spent
	if got := balance(t, w, "BTC"); !got.Total.Equal(d("1")) || !got.Available.IsZero() {
		t.Errorf("Expected BTC total 1 available 0, got %+v", got)
	}

	recs, _ := m.QueryOrderStatus(ctx, res.OrderID)
	if len(recs) != 1 || recs[0].Status != domain.StatusUnfilled {
		t.Fatalf("Expected unfilled, got %+v", recs)
	}

	src.Set(book(domain.VenueMaker, "100499500", "100600000"))
	recs, _ = m.QueryOrderStatus(ctx, res.OrderID)
	if len(recs) != 1 || recs[0].Status != domain.StatusFilled || !recs[0].FilledAmount.Equal(d("1")) {
		t.Fatalf("Expected filled 1, got %+v", recs)
	}

	if got := balance(t, w, "KRW"); !got.Total.Equal(d("100499500")) {
		t.Errorf("Expected KRW 100499500, got %s", got.Total)
	}
	if got := balance(t, w, "BTC"); !got.Total.IsZero() {
		t.Errorf("Expected BTC 0, got %s", got.Total)
	}

	cancel, _ := m.CancelOrder(ctx, res.OrderID)
	if cancel[0].Status == domain.CancelStatusSuccess {
		t.Error("Cancel of a filled order must not succeed")
	}
}

func TestPaperMaker_BidCancel(t *testing.T) {
	ctx := context.Background()
	src := &venuetest.Book{}
	src.Set(book(domain.VenueMaker, "99000000", "100000000"))
	w := NewWallet(map[domain.Asset]decimal.Decimal{"KRW": d("200000000")})
	m := NewMaker("BTC", "KRW", src, w)

	res, _ := m.PlaceLimitOrder(ctx, domain.ActionBuy, d("99500000"), d("1"))
	if got := balance(t, w, "KRW"); !got.Available.Equal(d("100500000")) {
		t.Errorf("Expected KRW available 100500000, got %s", got.Available)
	}

	cancel, _ := m.CancelOrder(ctx, res.OrderID)
	if len(cancel) != 1 || cancel[0].Status != domain.CancelStatusSuccess {
		t.Fatalf("Expected success cancel, got %+v", cancel)
	}
	if got := balance(t, w, "KRW"); !got.Available.Equal(d("200000000")) {
		t.Errorf("Expected reservation released, got %s", got.Available)
	}

	recs, _ := m.QueryOrderStatus(ctx, res.OrderID)
	if len(recs) != 0 {
		t.Errorf("Expected canceled unfilled order to be forgotten, got %+v", recs)
	}
}

func TestPaperMaker_InsufficientFunds(t *testing.T) {
	src := &venuetest.Book{}
	m := NewMaker("BTC", "KRW", src, NewWallet(nil))

	res, err := m.PlaceLimitOrder(context.Background(), domain.ActionSell, d("1"), d("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "not_enough_btc" || res.OrderID != "" {
		t.Errorf("Expected not_enough_btc, got %+v", res)
	}
}

func TestPaperMaker_CancelAll(t *testing.T) {
	ctx := context.Background()
	src := &venuetest.Book{}
	w := NewWallet(map[domain.Asset]decimal.Decimal{"BTC": d("2")})
	m := NewMaker("BTC", "KRW", src, w)

	m.PlaceLimitOrder(ctx, domain.ActionSell, d("100"), d("1"))
	m.PlaceLimitOrder(ctx, domain.ActionSell, d("101"), d("1"))
	if err := m.CancelAll(ctx); err != nil {
		t.Fatalf("CancelAll failed: %v", err)
	}
	if got := balance(t, w, "BTC"); !got.Available.Equal(d("2")) {
		t.Errorf("Expected all released, got %s", got.Available)
	}
}

func TestPaperAggressor_Execute(t *testing.T) {
	ctx := context.Background()
	src := &venuetest.Book{}
	src.Set(book(domain.VenueAggressor, "99999000", "100001000"))
	w := NewWallet(map[domain.Asset]decimal.Decimal{"BTC": d("1"), "KRW": d("100001000")})
	a := NewAggressor("BTC", "KRW", src, w)

	// Buy fills at best ask, not at the padded limit
	res, err := a.ExecuteMarketableOrder(ctx, domain.ActionBuy, d("100101000"), d("1"))
	if err != nil || !res.Success {
		t.Fatalf("Execute failed: %v %+v", err, res)
	}
	if got := balance(t, w, "KRW"); !got.Total.IsZero() {
		t.Errorf("Expected KRW 0, got %s", got.Total)
	}
	if got := balance(t, w, "BTC"); !got.Total.Equal(d("2")) {
		t.Errorf("Expected BTC 2, got %s", got.Total)
	}

	res, _ = a.ExecuteMarketableOrder(ctx, domain.ActionSell, d("100000000"), d("1"))
	if res.Success {
		t.Error("Sell above best bid must be refused")
	}

	res, _ = a.ExecuteMarketableOrder(ctx, domain.ActionSell, d("99899000"), d("3"))
	if res.Success {
		t.Error("Sell beyond holdings must be refused")
	}

	src.Err = domain.ErrNoSnapshot
	res, err = a.ExecuteMarketableOrder(ctx, domain.ActionBuy, d("100101000"), d("1"))
	if err != nil || res.Success {
		t.Errorf("Expected refusal without book, got %v %+v", err, res)
	}
}
