// Package wsbook keeps the latest maker venue order book from the push
// websocket and serves it as an OrderBookSource.
package wsbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"crypto_arb/internal/domain"
)

const (
	baseDelay    = 1 * time.Second
	maxDelay     = 60 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second

	eventSubscribe = "korbit:subscribe"
	eventOrderbook = "korbit:push-orderbook"
)

// pushMessage is the envelope of every push event
type pushMessage struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type pushLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

type orderbookPush struct {
	CurrencyPair string      `json:"currency_pair"`
	Timestamp    int64       `json:"timestamp"`
	Bids         []pushLevel `json:"bids"`
	Asks         []pushLevel `json:"asks"`
}

// Stream handles the order book WebSocket connection
type Stream struct {
	url       string
	pair      string
	userAgent string

	latest atomic.Pointer[domain.TopOfBook]

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected atomic.Bool

	// newBackOff builds the reconnect policy; replaced in tests
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

var _ domain.OrderBookSource = (*Stream)(nil)

// NewStream creates a stream for base_quote.
func NewStream(url string, base, quote domain.Asset, userAgent string) *Stream {
	return &Stream{
		url:        url,
		pair:       strings.ToLower(string(base)) + "_" + strings.ToLower(string(quote)),
		userAgent:  userAgent,
		newBackOff: defaultBackOff,
		logger:     slog.Default().With("module", "wsbook"),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0 // never give up, the supervisor owns the session
	return b
}

// FetchTopOfBook returns the latest pushed snapshot.
func (s *Stream) FetchTopOfBook(ctx context.Context) (*domain.TopOfBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	book := s.latest.Load()
	if book == nil {
		return nil, domain.ErrNoSnapshot
	}
	return book, nil
}

// IsConnected returns connection status
func (s *Stream) IsConnected() bool {
	return s.connected.Load()
}

// Run keeps the connection alive until ctx is done. It always returns
// ctx.Err().
func (s *Stream) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("🔥 Stream panic recovered", slog.Any("panic", r))
		}
	}()
	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, s.closeConnection)
	defer stop()

	policy := s.newBackOff()
	retry := 0
	for {
		if ctx.Err() != nil {
			s.logger.Info("Stream stopped")
			return ctx.Err()
		}

		if err := s.connect(ctx); err != nil {
			delay := policy.NextBackOff()
			retry++
			s.logger.Warn("WebSocket connection failed",
				slog.Any("error", err),
				slog.Int("retry", retry),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		// Connection successful, reset retry state
		policy.Reset()
		retry = 0
		s.readLoop(ctx)
	}
}

// connect establishes WebSocket connection and subscribes to the book
func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	if s.userAgent != "" {
		header.Add("User-Agent", s.userAgent)
	}

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	s.logger.Info("🔌 WebSocket connected", slog.String("pair", s.pair))
	return nil
}

func (s *Stream) subscribe() error {
	msg := map[string]any{
		"accessToken": nil,
		"event":       eventSubscribe,
		"timestamp":   time.Now().UnixMilli(),
		"data": map[string]any{
			"channels": []string{"orderbook:" + s.pair},
		},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.threadSafeWrite(websocket.TextMessage, b)
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (s *Stream) threadSafeWrite(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

func (s *Stream) readLoop(ctx context.Context) {
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error", slog.Any("error", err))
			}
			s.closeConnection()
			return
		}

		if err := s.handleMessage(message); err != nil {
			s.logger.Debug("Dropped push message", slog.Any("error", err))
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses an order book push and publishes it. Other events
// are ignored.
func (s *Stream) handleMessage(message []byte) error {
	var msg pushMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if msg.Event != eventOrderbook {
		return nil
	}

	var push orderbookPush
	if err := json.Unmarshal(msg.Data, &push); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if push.CurrencyPair != "" && push.CurrencyPair != s.pair {
		return nil
	}

	ts := push.Timestamp
	if ts == 0 {
		ts = msg.Timestamp
	}
	if ts == 0 {
		return fmt.Errorf("push without timestamp: %w", domain.ErrMalformedResponse)
	}

	bids, err := toLevels(push.Bids)
	if err != nil {
		return err
	}
	asks, err := toLevels(push.Asks)
	if err != nil {
		return err
	}
	book, err := domain.NewTopOfBook(domain.VenueMaker, bids, asks, time.UnixMilli(ts))
	if err != nil {
		return err
	}

	// Keep the newest snapshot only.
	for {
		cur := s.latest.Load()
		if cur != nil && book.Timestamp.Before(cur.Timestamp) {
			return nil
		}
		if s.latest.CompareAndSwap(cur, book) {
			return nil
		}
	}
}

func toLevels(raw []pushLevel) ([]domain.Level, error) {
	out := make([]domain.Level, 0, len(raw))
	for _, l := range raw {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", l.Price, domain.ErrMalformedResponse)
		}
		a, err := decimal.NewFromString(l.Amount)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", l.Amount, domain.ErrMalformedResponse)
		}
		out = append(out, domain.Level{Price: p, Amount: a})
	}
	return out, nil
}

// closeConnection safely closes the WebSocket connection
func (s *Stream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected.Store(false)
}
