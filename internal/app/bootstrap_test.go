package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto_arb/internal/domain"
	"crypto_arb/internal/engine"
)

// fakeBooks serves public order books of both venues with fresh timestamps.
func fakeBooks(t *testing.T) (makerURL, aggressorURL string) {
	maker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"timestamp":%d,"bids":[["100000000","3","1"]],"asks":[["100500000","3","1"]]}`,
			time.Now().UnixMilli())
	}))
	t.Cleanup(maker.Close)

	aggr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"0000","data":{"timestamp":"%d",
			"bids":[{"price":"99900000","quantity":"3"}],
			"asks":[{"price":"100000000","quantity":"3"}]}}`, time.Now().UnixMilli())
	}))
	t.Cleanup(aggr.Close)
	return maker.URL, aggr.URL
}

func writeConfig(t *testing.T, makerURL, aggressorURL string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`
app:
  name: arb_test
  mode: paper
maker:
  rest_url: %s
  poll_interval_ms: 20
aggressor:
  rest_url: %s
  poll_interval_ms: 20
strategy:
  loop_interval_ms: 20
  warm_up_sec: 2
paper:
  maker_base: "5"
  maker_quote: "1000000000"
  aggressor_base: "5"
  aggressor_quote: "1000000000"
storage:
  path: %s
logging:
  level: error
  dir: %s
`, makerURL, aggressorURL, filepath.Join(dir, "trades.db"), filepath.Join(dir, "logs"))
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestBootstrap_PaperSessionPlacesBothSides(t *testing.T) {
	makerURL, aggrURL := fakeBooks(t)
	b := NewBootstrap()
	require.NoError(t, b.Initialize(writeConfig(t, makerURL, aggrURL)))
	t.Cleanup(b.Close)

	sess, err := b.NewSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Len(t, sess.Background, 2, "one feeder per venue")

	loop, ok := sess.Loop.(*engine.Loop)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		s := NewSupervisor(SupervisorOptions{MaxRestarts: 1}, func(context.Context, string) (*Session, error) {
			return sess, nil
		}, nil, nil)
		done <- s.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return !loop.Tracker(domain.SideBuy).Empty() && !loop.Tracker(domain.SideSell).Empty()
	}, 5*time.Second, 20*time.Millisecond)

	buy := loop.Tracker(domain.SideBuy).Snapshot()
	assert.Equal(t, domain.OrderUnfilled, buy.State)
	assert.True(t, buy.Posted.Price.Equal(mustDec("100499500")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestBootstrap_WebsocketFeedAddsStreamTask(t *testing.T) {
	makerURL, aggrURL := fakeBooks(t)
	b := NewBootstrap()
	require.NoError(t, b.Initialize(writeConfig(t, makerURL, aggrURL)))
	t.Cleanup(b.Close)

	b.Config.Maker.Feed = "ws"
	b.Config.Maker.WSURL = "ws://127.0.0.1:1/push"

	sess, err := b.NewSession(context.Background(), "s-2")
	require.NoError(t, err)
	assert.Len(t, sess.Background, 3)
}

func TestBootstrap_MissingConfig(t *testing.T) {
	b := NewBootstrap()
	err := b.Initialize(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
