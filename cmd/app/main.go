package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto_arb/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Pprof + Prometheus Server (localhost only by default)
	http.Handle("/metrics", bootstrap.Metrics.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("🕵️ Pprof/metrics server started", slog.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Pprof/metrics server failed", slog.Any("error", err))
		}
	}()

	// 4. Supervised trading sessions (blocks until shutdown or give-up)
	slog.InfoContext(ctx, "✨ Arbitrage engine starting. Press Ctrl+C to exit.",
		slog.String("mode", cfg.App.Mode),
		slog.String("pair", cfg.Market.Base+"/"+cfg.Market.Quote),
	)
	runErr := bootstrap.Supervisor().Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if runErr != nil {
		slog.Error("❌ Supervisor gave up", slog.Any("error", runErr), slog.Bool("fatal", true))
		bootstrap.Close()
		os.Exit(1)
	}
	slog.Info("👋 Shutting down gracefully...")
}
