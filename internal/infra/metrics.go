package infra

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

// Metrics keeps atomic counters for cheap snapshots and mirrors them into
// prometheus collectors on a private registry.
type Metrics struct {
	// Counters
	booksUpdated  atomic.Uint64
	feedErrors    atomic.Uint64
	ordersPlaced  atomic.Uint64
	fills         atomic.Uint64
	retreats      atomic.Uint64
	compensations atomic.Uint64
	fatalErrors   atomic.Uint64

	// Gauges
	makerStaleNs     atomic.Int64
	aggressorStaleNs atomic.Int64

	registry       *prometheus.Registry
	booksVec       *prometheus.CounterVec
	feedErrVec     *prometheus.CounterVec
	stalenessVec   *prometheus.GaugeVec
	placedVec      *prometheus.CounterVec
	filledVec      *prometheus.CounterVec
	retreatVec     *prometheus.CounterVec
	compensatedVec *prometheus.CounterVec
	fatalVec       *prometheus.CounterVec
}

var _ domain.Recorder = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		booksVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_book_updates_total",
			Help: "Order book snapshots published per venue.",
		}, []string{"venue"}),
		feedErrVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_feed_errors_total",
			Help: "Dropped order book updates per venue.",
		}, []string{"venue"}),
		stalenessVec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arb_book_staleness_seconds",
			Help: "Age of the latest order book snapshot per venue.",
		}, []string{"venue"}),
		placedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_orders_placed_total",
			Help: "Maker orders accepted per side.",
		}, []string{"side"}),
		filledVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_filled_base_total",
			Help: "Base amount filled on the maker venue per side.",
		}, []string{"side"}),
		retreatVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_retreats_total",
			Help: "Retreats per side and reason.",
		}, []string{"side", "reason"}),
		compensatedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_compensated_base_total",
			Help: "Base amount offset on the aggressor venue per side.",
		}, []string{"side"}),
		fatalVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_fatal_errors_total",
			Help: "Fatal errors per operation.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.booksVec, m.feedErrVec, m.stalenessVec, m.placedVec,
		m.filledVec, m.retreatVec, m.compensatedVec, m.fatalVec,
	)
	return m
}

// Registry exposes the private registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BookUpdated(venue domain.Venue) {
	m.booksUpdated.Add(1)
	m.booksVec.WithLabelValues(string(venue)).Inc()
}

func (m *Metrics) FeedError(venue domain.Venue) {
	m.feedErrors.Add(1)
	m.feedErrVec.WithLabelValues(string(venue)).Inc()
}

func (m *Metrics) Staleness(venue domain.Venue, age time.Duration) {
	if venue == domain.VenueMaker {
		m.makerStaleNs.Store(int64(age))
	} else {
		m.aggressorStaleNs.Store(int64(age))
	}
	m.stalenessVec.WithLabelValues(string(venue)).Set(age.Seconds())
}

func (m *Metrics) OrderPlaced(side domain.Side) {
	m.ordersPlaced.Add(1)
	m.placedVec.WithLabelValues(string(side)).Inc()
}

func (m *Metrics) OrderFilled(side domain.Side, amount decimal.Decimal) {
	m.fills.Add(1)
	m.filledVec.WithLabelValues(string(side)).Add(amount.InexactFloat64())
}

func (m *Metrics) Retreat(side domain.Side, reason string) {
	m.retreats.Add(1)
	m.retreatVec.WithLabelValues(string(side), reason).Inc()
}

func (m *Metrics) Compensated(side domain.Side, amount decimal.Decimal) {
	m.compensations.Add(1)
	m.compensatedVec.WithLabelValues(string(side)).Add(amount.InexactFloat64())
}

func (m *Metrics) Fatal(op string) {
	m.fatalErrors.Add(1)
	m.fatalVec.WithLabelValues(op).Inc()
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	BooksUpdated       uint64
	FeedErrors         uint64
	OrdersPlaced       uint64
	Fills              uint64
	Retreats           uint64
	Compensations      uint64
	FatalErrors        uint64
	MakerStaleness     time.Duration
	AggressorStaleness time.Duration
	Timestamp          time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		BooksUpdated:       m.booksUpdated.Load(),
		FeedErrors:         m.feedErrors.Load(),
		OrdersPlaced:       m.ordersPlaced.Load(),
		Fills:              m.fills.Load(),
		Retreats:           m.retreats.Load(),
		Compensations:      m.compensations.Load(),
		FatalErrors:        m.fatalErrors.Load(),
		MakerStaleness:     time.Duration(m.makerStaleNs.Load()),
		AggressorStaleness: time.Duration(m.aggressorStaleNs.Load()),
		Timestamp:          time.Now(),
	}
}
