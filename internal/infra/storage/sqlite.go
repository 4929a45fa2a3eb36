package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crypto_arb/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists trade and error records in SQLite. Rows are only ever
// inserted.
type Storage struct {
	db *gorm.DB
}

var (
	_ domain.TradeLedgerSink = (*Storage)(nil)
	_ domain.ErrorSink       = (*Storage)(nil)
)

// TradeRecordModel is the flat row of one completed compensation.
type TradeRecordModel struct {
	ID               string    `gorm:"primaryKey"`
	Side             string    `gorm:"index"`
	Time             time.Time `gorm:"index"`
	AggressorBase    string
	AggressorQuote   string
	AggressorAction  string
	AggressorPrice   string
	AggressorAmount  string
	AggressorOrderID string
	MakerBase        string
	MakerQuote       string
	MakerAction      string
	MakerPrice       string
	MakerAmount      string
	MakerOrderID     string
}

func (TradeRecordModel) TableName() string { return "trade_records" }

// ErrorRecordModel is the row written when a session dies.
type ErrorRecordModel struct {
	ID        string    `gorm:"primaryKey"`
	SessionID string    `gorm:"index"`
	Time      time.Time `gorm:"index"`
	Message   string
	Fatal     bool
}

func (ErrorRecordModel) TableName() string { return "error_records" }

// NewStorage opens (or creates) the database at path.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&TradeRecordModel{}, &ErrorRecordModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Trade Records
// ======================================================================================

// AppendTradeRecord inserts rec. An existing ID is an error, never an update.
func (s *Storage) AppendTradeRecord(ctx context.Context, rec domain.TradeRecord) error {
	row := TradeRecordModel{
		ID:               rec.ID,
		Side:             string(rec.Side),
		Time:             rec.Time.UTC(),
		AggressorBase:    rec.Aggressor.BaseBefore.String(),
		AggressorQuote:   rec.Aggressor.QuoteBefore.String(),
		AggressorAction:  string(rec.Aggressor.Action),
		AggressorPrice:   rec.Aggressor.Price.String(),
		AggressorAmount:  rec.Aggressor.Amount.String(),
		AggressorOrderID: rec.Aggressor.VenueOrderID,
		MakerBase:        rec.Maker.BaseBefore.String(),
		MakerQuote:       rec.Maker.QuoteBefore.String(),
		MakerAction:      string(rec.Maker.Action),
		MakerPrice:       rec.Maker.Price.String(),
		MakerAmount:      rec.Maker.Amount.String(),
		MakerOrderID:     rec.Maker.VenueOrderID,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append trade record %s: %w", rec.ID, err)
	}
	return nil
}

// ListTrades returns trade records oldest first. limit <= 0 means all.
func (s *Storage) ListTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	var rows []TradeRecordModel
	q := s.db.WithContext(ctx).Order("time asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.TradeRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("trade record %s: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r TradeRecordModel) toDomain() (domain.TradeRecord, error) {
	var parseErr error
	dec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil && parseErr == nil {
			parseErr = err
		}
		return d
	}

	rec := domain.TradeRecord{
		ID:   r.ID,
		Side: domain.Side(r.Side),
		Time: r.Time,
		Aggressor: domain.LegRecord{
			Venue:        domain.VenueAggressor,
			BaseBefore:   dec(r.AggressorBase),
			QuoteBefore:  dec(r.AggressorQuote),
			Action:       domain.Action(r.AggressorAction),
			Price:        dec(r.AggressorPrice),
			Amount:       dec(r.AggressorAmount),
			VenueOrderID: r.AggressorOrderID,
		},
		Maker: domain.LegRecord{
			Venue:        domain.VenueMaker,
			BaseBefore:   dec(r.MakerBase),
			QuoteBefore:  dec(r.MakerQuote),
			Action:       domain.Action(r.MakerAction),
			Price:        dec(r.MakerPrice),
			Amount:       dec(r.MakerAmount),
			VenueOrderID: r.MakerOrderID,
		},
	}
	return rec, parseErr
}

// ======================================================================================
// Error Records
// ======================================================================================

// RecordError inserts rec.
func (s *Storage) RecordError(ctx context.Context, rec domain.ErrorRecord) error {
	row := ErrorRecordModel{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Time:      rec.Time.UTC(),
		Message:   rec.Message,
		Fatal:     rec.Fatal,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListErrors returns error records oldest first.
func (s *Storage) ListErrors(ctx context.Context) ([]domain.ErrorRecord, error) {
	var rows []ErrorRecordModel
	if err := s.db.WithContext(ctx).Order("time asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.ErrorRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ErrorRecord{
			ID:        r.ID,
			SessionID: r.SessionID,
			Time:      r.Time,
			Message:   r.Message,
			Fatal:     r.Fatal,
		})
	}
	return out, nil
}
