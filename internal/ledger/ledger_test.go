package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto_arb/internal/domain"
	"crypto_arb/internal/venuetest"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bal(total, available string) domain.Balance {
	return domain.Balance{Total: dec(total), Available: dec(available)}
}

func newSynced(t *testing.T) (*Ledger, *venuetest.Balances, *venuetest.Balances) {
	t.Helper()
	maker := &venuetest.Balances{Value: domain.Balances{
		"BTC": bal("2", "2"),
		"KRW": bal("500000000", "400000000"),
	}}
	aggr := &venuetest.Balances{Value: domain.Balances{
		"BTC": bal("3", "3"),
		"KRW": bal("300000000", "300000000"),
	}}
	l := New("BTC", "KRW", maker, aggr)
	require.NoError(t, l.Resync(context.Background()))
	return l, maker, aggr
}

func TestLedger_Resync(t *testing.T) {
	l, maker, _ := newSynced(t)

	aggrBase, makerBase := l.BaseTotals()
	assert.True(t, aggrBase.Equal(dec("3")))
	assert.True(t, makerBase.Equal(dec("2")))

	t.Run("failure keeps previous balances", func(t *testing.T) {
		maker.Err = errors.New("session expired")
		assert.Error(t, l.Resync(context.Background()))
		assert.True(t, l.Snapshot().Maker.Get("KRW").Available.Equal(dec("400000000")))
		maker.Err = nil
	})

	t.Run("invariant violation is rejected", func(t *testing.T) {
		maker.Set(domain.Balances{"BTC": bal("1", "2")})
		assert.Error(t, l.Resync(context.Background()))
		assert.True(t, l.Snapshot().Maker.Get("BTC").Total.Equal(dec("2")))
	})
}

func TestLedger_ApplyCompensationBuy(t *testing.T) {
	l, _, _ := newSynced(t)

	before, err := l.ApplyCompensation(Fill{
		Side:           domain.SideBuy,
		Amount:         dec("0.3"),
		MakerPrice:     dec("100500000"),
		AggressorPrice: dec("100000000"),
	})
	require.NoError(t, err)
	assert.True(t, before.Aggressor.Get("BTC").Total.Equal(dec("3")), "before is the pre-trade view")

	s := l.Snapshot()
	assert.True(t, s.Aggressor.Get("BTC").Total.Equal(dec("3.3")))
	assert.True(t, s.Aggressor.Get("KRW").Total.Equal(dec("270000000")))
	assert.True(t, s.Maker.Get("BTC").Total.Equal(dec("1.7")))
	assert.True(t, s.Maker.Get("KRW").Total.Equal(dec("530150000")))
	assert.True(t, s.Maker.Get("KRW").Available.Equal(s.Maker.Get("KRW").Total))

	// base bought on one venue equals base sold on the other
	moved := s.Aggressor.Get("BTC").Total.Sub(before.Aggressor.Get("BTC").Total)
	sold := before.Maker.Get("BTC").Total.Sub(s.Maker.Get("BTC").Total)
	assert.True(t, moved.Equal(sold))
}

func TestLedger_ApplyCompensationSell(t *testing.T) {
	l, _, _ := newSynced(t)

	_, err := l.ApplyCompensation(Fill{
		Side:           domain.SideSell,
		Amount:         dec("1"),
		MakerPrice:     dec("100000000"),
		AggressorPrice: dec("100400000"),
	})
	require.NoError(t, err)

	s := l.Snapshot()
	assert.True(t, s.Aggressor.Get("BTC").Total.Equal(dec("2")))
	assert.True(t, s.Aggressor.Get("KRW").Total.Equal(dec("400400000")))
	assert.True(t, s.Maker.Get("BTC").Total.Equal(dec("3")))
	assert.True(t, s.Maker.Get("KRW").Total.Equal(dec("400000000")))
}

func TestLedger_AdjustmentsResetOnResync(t *testing.T) {
	l, _, _ := newSynced(t)
	fill := Fill{Side: domain.SideBuy, Amount: dec("0.1"), MakerPrice: dec("1"), AggressorPrice: dec("1")}
	_, _ = l.ApplyCompensation(fill)
	_, _ = l.ApplyCompensation(fill)
	assert.Len(t, l.AdjustmentsSinceResync(), 2)

	require.NoError(t, l.Resync(context.Background()))
	assert.Empty(t, l.AdjustmentsSinceResync())
}

func TestLedger_ApplyCompensationReportsNegativeBalance(t *testing.T) {
	l, _, _ := newSynced(t)
	_, err := l.ApplyCompensation(Fill{Side: domain.SideBuy, Amount: dec("5"), MakerPrice: dec("1"), AggressorPrice: dec("1")})
	assert.ErrorIs(t, err, ErrInvariant)
	assert.True(t, l.Snapshot().Maker.Get("BTC").Total.Equal(dec("-3")), "adjustment is applied anyway")
}

func TestLedger_CanFund(t *testing.T) {
	l, _, _ := newSynced(t)
	one := dec("1")

	buyPosted := domain.PostedOrder{Price: dec("100500000"), Amount: one}
	assert.True(t, l.CanFund(domain.SideBuy, buyPosted, domain.PostedOrder{Price: dec("100100000"), Amount: one}))
	assert.False(t, l.CanFund(domain.SideBuy, buyPosted, domain.PostedOrder{Price: dec("400000000"), Amount: one}), "aggressor quote short")
	assert.False(t, l.CanFund(domain.SideBuy, domain.PostedOrder{Price: dec("1"), Amount: dec("2.5")}, domain.PostedOrder{Price: dec("1"), Amount: dec("2.5")}), "maker base short")

	assert.True(t, l.CanFund(domain.SideSell, domain.PostedOrder{Price: dec("100000000"), Amount: one}, domain.PostedOrder{Price: dec("99900000"), Amount: one}))
	assert.False(t, l.CanFund(domain.SideSell, domain.PostedOrder{Price: dec("100000000"), Amount: dec("3.5")}, domain.PostedOrder{}), "aggressor base short")
	assert.False(t, l.CanFund(domain.SideSell, domain.PostedOrder{Price: dec("450000000"), Amount: one}, domain.PostedOrder{}), "maker quote short")
}
