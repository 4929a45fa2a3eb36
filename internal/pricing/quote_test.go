package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto_arb/internal/domain"
)

func book(venue domain.Venue, bid, bidAmt, ask, askAmt string) *domain.TopOfBook {
	return &domain.TopOfBook{
		Venue:     venue,
		BestBid:   domain.Level{Price: d(bid), Amount: d(bidAmt)},
		BestAsk:   domain.Level{Price: d(ask), Amount: d(askAmt)},
		Timestamp: time.Now(),
	}
}

func TestInventorySkewAndMargin(t *testing.T) {
	p := DefaultParams()

	t.Run("neutral range keeps base margin", func(t *testing.T) {
		skew, ok := InventorySkew(domain.SideBuy, d("4"), d("6"))
		require.True(t, ok)
		assert.True(t, skew.Equal(d("0.4")))
		assert.True(t, AdjustedMargin(domain.SideBuy, skew, ok, p).Equal(p.ProfitForward))
	})

	t.Run("low aggressor holdings lower the buy margin", func(t *testing.T) {
		skew, ok := InventorySkew(domain.SideBuy, d("1"), d("9"))
		m := AdjustedMargin(domain.SideBuy, skew, ok, p)
		// 0.001 + 0.0015*(0.2-1)
		assert.True(t, m.Equal(d("-0.0002")), "got %s", m)
	})

	t.Run("high maker holdings raise the sell margin", func(t *testing.T) {
		skew, ok := InventorySkew(domain.SideSell, d("2"), d("8"))
		m := AdjustedMargin(domain.SideSell, skew, ok, p)
		// 0.0005 + 0.0015*(1.6-1)
		assert.True(t, m.Equal(d("0.0014")), "got %s", m)
	})

	t.Run("range bounds are neutral", func(t *testing.T) {
		assert.True(t, AdjustedMargin(domain.SideBuy, d("0.2"), true, p).Equal(p.ProfitForward))
		assert.True(t, AdjustedMargin(domain.SideBuy, d("0.6"), true, p).Equal(p.ProfitForward))
		assert.True(t, AdjustedMargin(domain.SideBuy, d("0.1999"), true, p).LessThan(p.ProfitForward))
	})

	t.Run("empty inventory is neutral", func(t *testing.T) {
		skew, ok := InventorySkew(domain.SideBuy, decimal.Zero, decimal.Zero)
		assert.False(t, ok)
		assert.True(t, AdjustedMargin(domain.SideBuy, skew, ok, p).Equal(p.ProfitForward))
	})
}

func TestEquivalentPrice(t *testing.T) {
	b := &domain.TopOfBook{
		Venue:   domain.VenueAggressor,
		BestBid: domain.Level{Price: d("99000"), Amount: d("0.5")},
		BestAsk: domain.Level{Price: d("101000"), Amount: d("0.4")},
		Bids:    []domain.Level{{Price: d("99000"), Amount: d("0.5")}, {Price: d("98000"), Amount: d("1")}},
		Asks:    []domain.Level{{Price: d("101000"), Amount: d("0.4")}, {Price: d("102000"), Amount: d("0.4")}, {Price: d("103000"), Amount: d("5")}},
	}

	price, err := EquivalentPrice(b, domain.ActionBuy, d("1"))
	require.NoError(t, err)
	assert.True(t, price.Equal(d("103000")), "got %s", price)

	price, err = EquivalentPrice(b, domain.ActionSell, d("0.5"))
	require.NoError(t, err)
	assert.True(t, price.Equal(d("99000")), "got %s", price)

	_, err = EquivalentPrice(b, domain.ActionSell, d("2"))
	assert.True(t, errors.Is(err, domain.ErrInsufficientDepth))

	top := book(domain.VenueAggressor, "99000", "3", "101000", "3")
	price, err = EquivalentPrice(top, domain.ActionBuy, d("1"))
	require.NoError(t, err)
	assert.True(t, price.Equal(d("101000")))
}

func TestComputeBand_Buy(t *testing.T) {
	p := DefaultParams()

	t.Run("on top prices against the best ask", func(t *testing.T) {
		maker := book(domain.VenueMaker, "100000000", "2", "100500000", "2")
		band := ComputeBand(domain.SideBuy, d("100100000"), maker, d("1"), p)
		assert.True(t, band.OnTop)
		assert.True(t, band.Lower.Equal(d("100499500")), "lower %s", band.Lower)
		assert.True(t, band.Upper.Equal(d("100519500")), "upper %s", band.Upper)
	})

	t.Run("thin best ask collapses lower onto it", func(t *testing.T) {
		maker := book(domain.VenueMaker, "100000000", "2", "100500000", "0.2")
		band := ComputeBand(domain.SideBuy, d("100100000"), maker, d("1"), p)
		assert.True(t, band.Lower.Equal(d("100500000")), "lower %s", band.Lower)
	})

	t.Run("tight spread keeps lower above best bid", func(t *testing.T) {
		maker := book(domain.VenueMaker, "100499500", "2", "100500000", "2")
		band := ComputeBand(domain.SideBuy, d("100100000"), maker, d("1"), p)
		assert.True(t, band.Lower.Equal(d("100500000")), "lower %s", band.Lower)
	})

	t.Run("not on top pegs to target", func(t *testing.T) {
		maker := book(domain.VenueMaker, "100000000", "2", "100500000", "2")
		band := ComputeBand(domain.SideBuy, d("100600000"), maker, d("1"), p)
		assert.False(t, band.OnTop)
		assert.True(t, band.Lower.Equal(d("100600000")))
		assert.True(t, band.Upper.Equal(d("100620000")))
	})
}

func TestComputeBand_Sell(t *testing.T) {
	p := DefaultParams()

	t.Run("on top prices against the best bid", func(t *testing.T) {
		maker := book(domain.VenueMaker, "100000000", "2", "100500000", "2")
		band := ComputeBand(domain.SideSell, d("100200000"), maker, d("1"), p)
		assert.True(t, band.OnTop)
		assert.True(t, band.Upper.Equal(d("100000500")), "upper %s", band.Upper)
		assert.True(t, band.Lower.Equal(d("99980500")), "lower %s", band.Lower)
	})

	t.Run("thin best bid collapses upper onto it", func(t *testing.T) {
		maker := book(domain.VenueMaker, "100000000", "0.5", "100500000", "2")
		band := ComputeBand(domain.SideSell, d("100200000"), maker, d("1"), p)
		assert.True(t, band.Upper.Equal(d("100000000")))
	})

	t.Run("not on top pegs to target", func(t *testing.T) {
		maker := book(domain.VenueMaker, "100000000", "2", "100500000", "2")
		band := ComputeBand(domain.SideSell, d("99900000"), maker, d("1"), p)
		assert.False(t, band.OnTop)
		assert.True(t, band.Upper.Equal(d("99900000")))
		assert.True(t, band.Lower.Equal(d("99880000")))
	})
}

func TestComputeQuote_ScenarioOnTopBuy(t *testing.T) {
	p := DefaultParams()
	maker := book(domain.VenueMaker, "99000000", "3", "100500000", "3")
	aggr := book(domain.VenueAggressor, "99900000", "3", "100000000", "3")

	q, err := ComputeQuote(domain.SideBuy, Inputs{
		Maker: maker, Aggressor: aggr,
		AggressorBase: d("5"), MakerBase: d("5"),
	}, p)
	require.NoError(t, err)

	assert.True(t, q.Intended.Equal(d("100000000")))
	assert.True(t, q.Band.Target.Equal(d("100100000")), "target %s", q.Band.Target)
	assert.True(t, q.Band.OnTop)
	assert.True(t, q.Band.Contains(q.Posted.Price), "posted %s outside [%s, %s]", q.Posted.Price, q.Band.Lower, q.Band.Upper)
	assert.True(t, IsAligned(q.Posted.Price, p.MakerTick))
	assert.True(t, q.Posted.Amount.Equal(d("1")))
	assert.True(t, q.Aggressor.Price.Equal(d("100100000")), "aggressor %s", q.Aggressor.Price)
}

func TestComputeQuote_PostedAlwaysInBand(t *testing.T) {
	p := DefaultParams()
	aggrPrices := []string{"90000000", "99000000", "100000000", "100400000", "101000000", "110000000"}
	for _, side := range domain.Sides {
		for _, ap := range aggrPrices {
			maker := book(domain.VenueMaker, "100000000", "2", "100500000", "2")
			aggr := book(domain.VenueAggressor, ap, "3", d(ap).Add(d("1000")).String(), "3")
			q, err := ComputeQuote(side, Inputs{Maker: maker, Aggressor: aggr, AggressorBase: d("1"), MakerBase: d("1"), PreviousAmount: d("1")}, p)
			require.NoError(t, err)
			assert.True(t, q.Band.Contains(q.Posted.Price),
				"%s aggr=%s posted %s outside [%s, %s]", side, ap, q.Posted.Price, q.Band.Lower, q.Band.Upper)
		}
	}
}

func TestPlacementOrder(t *testing.T) {
	p := DefaultParams()
	maker := book(domain.VenueMaker, "100000000", "2", "100500000", "2")

	t.Run("buy crossing deep pegs to best bid", func(t *testing.T) {
		band := Band{Target: d("99000000"), Lower: d("100499500"), Upper: d("100519500"), Amount: d("1"), OnTop: true}
		band, po := PlacementOrder(domain.SideBuy, band, maker, d("0.001"), decimal.Zero, p)
		assert.True(t, po.Price.Equal(d("100000000")))
		assert.True(t, band.Contains(po.Price))
	})

	t.Run("buy not on top uses midpoint", func(t *testing.T) {
		band := Band{Target: d("100600000"), Lower: d("100600000"), Upper: d("100620000"), Amount: d("1")}
		_, po := PlacementOrder(domain.SideBuy, band, maker, d("0.001"), decimal.Zero, p)
		assert.True(t, po.Price.Equal(d("100610000")))
	})

	t.Run("sell crossing deep keeps previous amount", func(t *testing.T) {
		band := Band{Target: d("101500000"), Lower: d("99980500"), Upper: d("100000500"), Amount: d("1"), OnTop: true}
		band, po := PlacementOrder(domain.SideSell, band, maker, d("0.0005"), d("0.7"), p)
		assert.True(t, po.Price.Equal(d("100500000")))
		assert.True(t, po.Amount.Equal(d("0.7")), "amount %s", po.Amount)
		assert.True(t, band.Contains(po.Price))
	})

	t.Run("sell crossing deep without history uses band amount", func(t *testing.T) {
		band := Band{Target: d("101500000"), Lower: d("99980500"), Upper: d("100000500"), Amount: d("1"), OnTop: true}
		_, po := PlacementOrder(domain.SideSell, band, maker, d("0.0005"), decimal.Zero, p)
		assert.True(t, po.Amount.Equal(d("1")))
	})

	t.Run("sell on top uses upper edge", func(t *testing.T) {
		band := Band{Target: d("100200000"), Lower: d("99980500"), Upper: d("100000500"), Amount: d("1"), OnTop: true}
		_, po := PlacementOrder(domain.SideSell, band, maker, d("0.0005"), d("0.7"), p)
		assert.True(t, po.Price.Equal(d("100000500")))
		assert.True(t, po.Amount.Equal(d("1")))
	})
}

func TestStillFits(t *testing.T) {
	maker := book(domain.VenueMaker, "100000000", "2", "100500000", "2")
	band := Band{Target: d("100100000"), Lower: d("100499500"), Upper: d("100519500"), OnTop: true}

	assert.True(t, StillFits(domain.SideBuy, band, d("100499500"), maker))
	assert.False(t, StillFits(domain.SideBuy, band, d("100510000"), maker), "on top but posted above best ask")
	assert.False(t, StillFits(domain.SideBuy, band, d("100400000"), maker), "below lower")

	sellBand := Band{Target: d("100200000"), Lower: d("99980500"), Upper: d("100000500"), OnTop: true}
	assert.True(t, StillFits(domain.SideSell, sellBand, d("100000500"), maker))
	assert.False(t, StillFits(domain.SideSell, sellBand, d("99990000"), maker), "on top but posted below best bid")
	assert.False(t, StillFits(domain.SideSell, sellBand, d("100001000"), maker), "above upper")
}
