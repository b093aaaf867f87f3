// Spot market maker — a passive market-making engine for a single spot
// trading pair on a centralized exchange.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the
//	                            engine and the metrics server, waits for
//	                            SIGINT/SIGTERM
//	internal/engine           — orchestrator: wires every subsystem
//	                            through internal/bus
//	internal/price            — reference-price estimator (TWAP/VWAP/EMA/Hybrid)
//	internal/strategy         — band-based quoting, emits Place/Amend/Cancel
//	internal/ordermgr         — order state machine
//	internal/risk             — position/order-count/price-movement/daily-loss gate
//	internal/execution        — two rate-limited worker pools, retry/backoff
//	internal/reset            — periodic reset-and-requote ticker
//	internal/exchange         — REST + WebSocket adapter for the exchange
//	internal/metrics          — Prometheus observability
//
// How it makes money:
//
//	The engine posts resting orders inside a fixed band around a smoothed
//	reference price, capturing the spread between the band edges as both
//	sides fill. It never takes a directional view on the reference price
//	itself.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spotmm/internal/config"
	"spotmm/internal/engine"
	"spotmm/internal/metrics"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng := engine.New(*cfg, logger)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", metricsSrv.Addr)
	}

	eng.Start()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("spot market maker started",
		"symbol", cfg.Strategy.Symbol,
		"min_spread", cfg.Strategy.MinSpread,
		"max_spread", cfg.Strategy.MaxSpread,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("received shutdown signal")

	eng.Stop()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
