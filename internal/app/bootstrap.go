package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
	"crypto_arb/internal/engine"
	"crypto_arb/internal/infra"
	"crypto_arb/internal/infra/alert"
	"crypto_arb/internal/infra/bithumb"
	"crypto_arb/internal/infra/korbit"
	"crypto_arb/internal/infra/paper"
	"crypto_arb/internal/infra/storage"
	"crypto_arb/internal/infra/wsbook"
	"crypto_arb/internal/ledger"
	"crypto_arb/internal/market"
	"crypto_arb/internal/saga"
)

// venues is what a session trades against. It outlives sessions so paper
// wallets and venue tokens survive a restart.
type venues struct {
	makerBook     domain.OrderBookSource
	makerBalances domain.BalanceSource
	maker         domain.MakerOrderGateway
	aggressorBook domain.OrderBookSource
	aggrBalances  domain.BalanceSource
	aggressor     domain.AggressorTradeGateway
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
	Alerts  domain.AlertSink

	venues venues
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB, venues)
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping crypto_arb...")

	// 1. Load .env then Config
	if err := infra.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Metrics and alerts
	b.Metrics = infra.NewMetrics()
	sinks := alert.Multi{alert.NewLogSink()}
	if cfg.Alert.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhook(cfg.Alert.WebhookURL, time.Duration(cfg.Alert.TimeoutSec)*time.Second))
	}
	b.Alerts = sinks

	// 5. Venues
	b.venues = b.buildVenues()
	slog.Info("✅ Venues ready", slog.String("mode", cfg.App.Mode), slog.String("maker_feed", cfg.Maker.Feed))
	return nil
}

func (b *Bootstrap) buildVenues() venues {
	cfg := b.Config
	base, quote := domain.Asset(cfg.Market.Base), domain.Asset(cfg.Market.Quote)

	makerClient := korbit.NewClient(korbit.Options{
		BaseURL:   cfg.Maker.RestURL,
		ClientID:  cfg.Maker.ClientID,
		Secret:    cfg.Maker.Secret,
		Username:  cfg.Maker.Username,
		Password:  cfg.Maker.Password,
		Base:      base,
		Quote:     quote,
		Timeout:   time.Duration(cfg.Maker.TimeoutSec) * time.Second,
		UserAgent: infra.DefaultUserAgent,
	})
	aggrClient := bithumb.NewClient(bithumb.Options{
		BaseURL:   cfg.Aggressor.RestURL,
		APIKey:    cfg.Aggressor.APIKey,
		APISecret: cfg.Aggressor.APISecret,
		Base:      base,
		Quote:     quote,
		Depth:     cfg.Aggressor.Depth,
		Timeout:   time.Duration(cfg.Aggressor.TimeoutSec) * time.Second,
		UserAgent: infra.DefaultUserAgent,
	})

	if cfg.App.Mode != infra.ModePaper {
		return venues{
			makerBook:     makerClient,
			makerBalances: makerClient,
			maker:         makerClient,
			aggressorBook: aggrClient,
			aggrBalances:  aggrClient,
			aggressor:     aggrClient,
		}
	}

	// Paper mode: live public books, simulated accounts.
	makerWallet := paper.NewWallet(map[domain.Asset]decimal.Decimal{base: cfg.Paper.MakerBase, quote: cfg.Paper.MakerQuote})
	aggrWallet := paper.NewWallet(map[domain.Asset]decimal.Decimal{base: cfg.Paper.AggressorBase, quote: cfg.Paper.AggressorQuote})
	return venues{
		makerBook:     makerClient,
		makerBalances: makerWallet,
		maker:         paper.NewMaker(base, quote, makerClient, makerWallet),
		aggressorBook: aggrClient,
		aggrBalances:  aggrWallet,
		aggressor:     paper.NewAggressor(base, quote, aggrClient, aggrWallet),
	}
}

// NewSession is the SessionFactory: a fresh cache, feeders, ledger, saga and
// control loop over the long-lived venues.
func (b *Bootstrap) NewSession(_ context.Context, id string) (*Session, error) {
	if b.Config == nil {
		return nil, fmt.Errorf("bootstrap not initialized")
	}
	cfg := b.Config
	v := b.venues
	params := cfg.Params()
	base, quote := domain.Asset(cfg.Market.Base), domain.Asset(cfg.Market.Quote)

	cache := market.NewCache()
	var tasks []Task

	makerSource := v.makerBook
	if cfg.Maker.Feed == infra.FeedWS {
		stream := wsbook.NewStream(cfg.Maker.WSURL, base, quote, infra.DefaultUserAgent)
		tasks = append(tasks, stream.Run)
		makerSource = stream
	}
	makerFeeder := market.NewFeeder(domain.VenueMaker, makerSource, cache,
		time.Duration(cfg.Maker.PollIntervalMS)*time.Millisecond, b.Metrics).
		WithTimeout(time.Duration(cfg.Maker.TimeoutSec) * time.Second)
	aggrFeeder := market.NewFeeder(domain.VenueAggressor, v.aggressorBook, cache,
		time.Duration(cfg.Aggressor.PollIntervalMS)*time.Millisecond, b.Metrics).
		WithTimeout(time.Duration(cfg.Aggressor.TimeoutSec) * time.Second)
	tasks = append(tasks, makerFeeder.Run, aggrFeeder.Run)

	l := ledger.New(base, quote, v.makerBalances, v.aggrBalances)
	coordinator := saga.NewCoordinator(cfg.SagaOptions(), params, v.aggressor, l, b.Storage, b.Alerts, b.Metrics)
	loop := engine.NewLoop(cfg.EngineOptions(), params, engine.Deps{
		Cache:     cache,
		Ledger:    l,
		Maker:     v.maker,
		Aggressor: v.aggressor,
		Saga:      coordinator,
		Metrics:   b.Metrics,
	})

	slog.Info("🧩 Session assembled", slog.String("session", id), slog.Int("tasks", len(tasks)))
	return &Session{ID: id, Background: tasks, Loop: loop}, nil
}

// Supervisor wires the session factory with alerts and error records.
func (b *Bootstrap) Supervisor() *Supervisor {
	s := b.Config.Supervisor
	return NewSupervisor(SupervisorOptions{
		InitialBackoff: time.Duration(s.InitialBackoffSec) * time.Second,
		MaxBackoff:     time.Duration(s.MaxBackoffSec) * time.Second,
		MaxRestarts:    s.MaxRestarts,
		StableAfter:    time.Duration(s.MaxBackoffSec) * time.Second,
	}, b.NewSession, b.Alerts, b.Storage)
}

// Close releases the database.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Storage close failed", slog.Any("error", err))
		}
	}
}
