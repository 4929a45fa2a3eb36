package korbit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto_arb/internal/domain"
)

// fakeKorbit serves the subset of the v1 API the client uses.
type fakeKorbit struct {
	t *testing.T

	mu          sync.Mutex
	logins      int
	refreshes   int
	issued      int
	lastForm    map[string][]string
	canceledIDs []string
	orderBody   string
	openBody    string
	rejectAuth  bool
}

func (f *fakeKorbit) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeKorbit) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/oauth2/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.PostForm.Get("grant_type") {
		case "password":
			f.logins++
			if r.PostForm.Get("username") != "trader" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		case "refresh_token":
			f.refreshes++
			if r.PostForm.Get("refresh_token") == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		f.issued++
		fmt.Fprintf(w, `{"access_token":"tok-%d","refresh_token":"ref-%d","expires_in":3600}`, f.issued, f.issued)
	})

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			reject := f.rejectAuth
			f.mu.Unlock()
			if reject || r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("/v1/orderbook", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "btc_krw", r.URL.Query().Get("currency_pair"))
		fmt.Fprint(w, `{"timestamp":1700000000000,
			"bids":[["99990000","0.5","1"],["99980000","1.2","2"]],
			"asks":[["100000000","0.8","1"]]}`)
	})

	mux.HandleFunc("/v1/user/balances", auth(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"krw":{"available":"1000000","trade_in_use":"500000"},
			"btc":{"available":"0.5","trade_in_use":"0"}}`)
	}))

	mux.HandleFunc("/v1/user/orders/sell", auth(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		f.mu.Lock()
		f.lastForm = r.PostForm
		f.mu.Unlock()
		fmt.Fprint(w, `{"orderId":58744,"status":"success","currencyPair":"btc_krw"}`)
	}))

	mux.HandleFunc("/v1/user/orders/buy", auth(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"orderId":0,"status":"not_enough_krw"}`)
	}))

	mux.HandleFunc("/v1/user/orders/cancel", auth(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		ids := r.PostForm["id"]
		f.mu.Lock()
		f.canceledIDs = append(f.canceledIDs, ids...)
		f.mu.Unlock()
		w.Write([]byte("["))
		for i, id := range ids {
			if i > 0 {
				w.Write([]byte(","))
			}
			fmt.Fprintf(w, `{"orderId":"%s","status":"success"}`, id)
		}
		w.Write([]byte("]"))
	}))

	mux.HandleFunc("/v1/user/orders", auth(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body := f.orderBody
		f.mu.Unlock()
		fmt.Fprint(w, body)
	}))

	mux.HandleFunc("/v1/user/orders/open", auth(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body := f.openBody
		f.mu.Unlock()
		fmt.Fprint(w, body)
	}))

	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeKorbit) {
	f := &fakeKorbit{t: t, orderBody: "[]", openBody: "[]"}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c := NewClient(Options{
		BaseURL:  srv.URL,
		ClientID: "id",
		Secret:   "secret",
		Username: "trader",
		Password: "pw",
		Base:     "BTC",
		Quote:    "KRW",
		Timeout:  time.Second,
	})
	return c, f
}

func TestFetchTopOfBook(t *testing.T) {
	c, _ := newTestClient(t)

	book, err := c.FetchTopOfBook(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.VenueMaker, book.Venue)
	assert.True(t, book.BestBid.Price.Equal(decimal.NewFromInt(99990000)))
	assert.True(t, book.BestAsk.Amount.Equal(decimal.RequireFromString("0.8")))
	assert.Len(t, book.Bids, 2)
	assert.Equal(t, time.UnixMilli(1700000000000), book.Timestamp)
}

func TestParseOrderbook_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing timestamp", `{"bids":[["1","1","1"]],"asks":[["2","1","1"]]}`},
		{"empty asks", `{"timestamp":1,"bids":[["1","1","1"]],"asks":[]}`},
		{"short level", `{"timestamp":1,"bids":[["1"]],"asks":[["2","1","1"]]}`},
		{"crossed", `{"timestamp":1,"bids":[["3","1","1"]],"asks":[["2","1","1"]]}`},
		{"bad price", `{"timestamp":1,"bids":[["x","1","1"]],"asks":[["2","1","1"]]}`},
		{"not json", `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOrderbook([]byte(tt.body))
			assert.ErrorIs(t, err, domain.ErrMalformedResponse)
		})
	}
}

func TestFetchBalances_LogsInLazily(t *testing.T) {
	c, f := newTestClient(t)

	bal, err := c.FetchBalances(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.logins)
	krw := bal.Get("KRW")
	assert.True(t, krw.Total.Equal(decimal.NewFromInt(1500000)))
	assert.True(t, krw.Available.Equal(decimal.NewFromInt(1000000)))
	assert.True(t, bal.Get("BTC").Total.Equal(decimal.RequireFromString("0.5")))

	_, err = c.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.logins, "token must be reused")
}

func TestPlaceLimitOrder(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	res, err := c.PlaceLimitOrder(ctx, domain.ActionSell, decimal.NewFromInt(100499500), decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PlaceResult{OrderID: "58744", Status: "success"}, res)

	assert.Equal(t, "btc_krw", f.lastForm["currency_pair"][0])
	assert.Equal(t, "limit", f.lastForm["type"][0])
	assert.Equal(t, "100499500", f.lastForm["price"][0])
	assert.Equal(t, "1", f.lastForm["coin_amount"][0])
	assert.NotEmpty(t, f.lastForm["nonce"][0])

	res, err = c.PlaceLimitOrder(ctx, domain.ActionBuy, decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "not_enough_krw", res.Status)
}

func TestQueryOrderStatus(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	t.Run("gone", func(t *testing.T) {
		recs, err := c.QueryOrderStatus(ctx, "1")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("partial", func(t *testing.T) {
		f.set(func() { f.orderBody = `[{"id":"1","status":"partially_filled","filled_amount":"0.3"}]` })
		recs, err := c.QueryOrderStatus(ctx, "1")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, domain.StatusPartiallyFilled, recs[0].Status)
		assert.True(t, recs[0].FilledAmount.Equal(decimal.RequireFromString("0.3")))
		assert.Contains(t, recs[0].Raw, "partially_filled")
	})

	t.Run("missing status is passed through", func(t *testing.T) {
		f.set(func() { f.orderBody = `[{"id":"1","filled_amount":"0.3"}]` })
		recs, err := c.QueryOrderStatus(ctx, "1")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, domain.OrderStatus(""), recs[0].Status)
	})

	t.Run("empty body", func(t *testing.T) {
		f.set(func() { f.orderBody = "" })
		_, err := c.QueryOrderStatus(ctx, "1")
		assert.ErrorIs(t, err, domain.ErrEmptyResponse)
	})
}

func TestCancelAll(t *testing.T) {
	c, f := newTestClient(t)
	f.openBody = `[{"id":11},{"id":12}]`

	require.NoError(t, c.CancelAll(context.Background()))
	assert.Equal(t, []string{"11", "12"}, f.canceledIDs)

	recs, err := c.CancelOrder(context.Background(), "13")
	require.NoError(t, err)
	assert.Equal(t, []domain.CancelRecord{{OrderID: "13", Status: "success"}}, recs)
}

func TestUnauthorizedDropsToken(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	_, err := c.FetchBalances(ctx)
	require.NoError(t, err)

	f.set(func() { f.rejectAuth = true })
	_, err = c.FetchBalances(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errUnauthorized))
	assert.True(t, domain.IsRetriable(err))

	f.set(func() { f.rejectAuth = false })
	_, err = c.FetchBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.logins)
}

func TestRefreshSession(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	// no refresh token yet: password login
	require.NoError(t, c.RefreshSession(ctx))
	assert.Equal(t, 1, f.logins)

	require.NoError(t, c.RefreshSession(ctx))
	assert.Equal(t, 1, f.refreshes)
	assert.Equal(t, 1, f.logins)
}

func TestNonceMonotonic(t *testing.T) {
	c, _ := newTestClient(t)
	fixed := time.UnixMilli(1000)
	c.now = func() time.Time { return fixed }

	a := c.nonce()
	b := c.nonce()
	assert.Equal(t, "1000", a)
	assert.Equal(t, "1001", b)
}
