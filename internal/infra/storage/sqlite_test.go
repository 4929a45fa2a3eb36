package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crypto_arb/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrade(id string, at time.Time) domain.TradeRecord {
	d := decimal.RequireFromString
	return domain.TradeRecord{
		ID:   id,
		Side: domain.SideBuy,
		Time: at,
		Aggressor: domain.LegRecord{
			Venue:        domain.VenueAggressor,
			BaseBefore:   d("1"),
			QuoteBefore:  d("100000000"),
			Action:       domain.ActionBuy,
			Price:        d("100001000"),
			Amount:       d("0.3"),
			VenueOrderID: "b-1",
		},
		Maker: domain.LegRecord{
			Venue:        domain.VenueMaker,
			BaseBefore:   d("1"),
			QuoteBefore:  d("100000000"),
			Action:       domain.ActionSell,
			Price:        d("100499500"),
			Amount:       d("0.3"),
			VenueOrderID: "m-1",
		},
	}
}

func TestAppendAndListTrades(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendTradeRecord(ctx, sampleTrade("t-2", base.Add(time.Minute))))
	require.NoError(t, s.AppendTradeRecord(ctx, sampleTrade("t-1", base)))

	trades, err := s.ListTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "t-1", trades[0].ID)
	assert.Equal(t, "t-2", trades[1].ID)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.True(t, trades[0].Maker.Price.Equal(decimal.RequireFromString("100499500")))
	assert.True(t, trades[0].Aggressor.Amount.Equal(decimal.RequireFromString("0.3")))
	assert.Equal(t, "m-1", trades[0].Maker.VenueOrderID)
	assert.Equal(t, domain.ActionSell, trades[0].Maker.Action)

	limited, err := s.ListTrades(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAppendTradeRecord_DuplicateRejected(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	rec := sampleTrade("dup", time.Now())

	require.NoError(t, s.AppendTradeRecord(ctx, rec))

	rec.Maker.Price = decimal.NewFromInt(1)
	assert.Error(t, s.AppendTradeRecord(ctx, rec), "append-only store must not overwrite")

	trades, err := s.ListTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Maker.Price.Equal(decimal.RequireFromString("100499500")))
}

func TestRecordError(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.RecordError(ctx, domain.ErrorRecord{
		ID:        "e-1",
		SessionID: "s-1",
		Time:      time.Now(),
		Message:   "ledger invariant",
		Fatal:     true,
	}))

	errs, err := s.ListErrors(ctx)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "s-1", errs[0].SessionID)
	assert.True(t, errs[0].Fatal)
}

func TestNewStorage_EmptyPath(t *testing.T) {
	_, err := NewStorage("")
	assert.Error(t, err)
}
