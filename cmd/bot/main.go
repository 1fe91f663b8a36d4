// Gabagool — a hedged-arbitrage bot for 15-minute Polymarket binary
// prediction markets.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go         — orchestrator: wires discovery → book tracker → executor, manages market lifecycle
//	discovery/discovery.go   — polls the Gamma API for tradeable 15-minute markets
//	book/tracker.go          — local order book mirror fed by WebSocket snapshots + price changes, synthesizes Opportunities
//	risk/gate.go             — the single pre-trade choke point: spread, exposure, circuit breaker, blackout, budget checks
//	sizer/sizer.go           — turns an accepted Opportunity into a sized (optionally tranched) trade plan
//	executor/executor.go     — pops opportunities, runs the gate → sizer → dual-leg → rebalancer → persistence pipeline
//	rebalancer/rebalancer.go — recovers a partial fill by completing the hedge or flattening the filled leg
//	venue/client.go          — REST client for the Polymarket CLOB API (place/cancel orders, fetch book, balance)
//	venue/auth.go            — L1 (EIP-712) and L2 (HMAC) authentication for the Polymarket API
//	venue/ws.go              — market-data WebSocket feed with auto-reconnect
//	venue/redeem.go          — on-chain redemption via the Conditional Tokens Framework
//	settlement/worker.go     — periodic stale-order cancellation and on-chain redemption pass
//	store/store.go           — sqlite persistence for trades, positions, and daily counters
//	api/                     — read-only HTTP dashboard: /state, /events, /pnl-history, /settlement-positions, /reconcile
//
// How it makes money:
//
//	Each 15-minute market settles one of its two outcome tokens (YES/NO) to
//	$1 and the other to $0. Whenever the combined best-ask cost of one YES
//	share and one NO share drops below $1, buying an equal number of both
//	locks in the difference as risk-free profit at resolution, regardless
//	of which side wins — the bot hunts for and executes exactly that.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gabagool-arb/internal/api"
	"gabagool-arb/internal/config"
	"gabagool-arb/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("GABA_CONFIG"); p != "" {
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

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	var metricsServer *http.Server
	if cfg.Dashboard.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", eng.MetricsHandler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Dashboard.MetricsPort), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "port", cfg.Dashboard.MetricsPort)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("gabagool started",
		"markets", cfg.Strategy.Markets,
		"min_spread_threshold", cfg.Strategy.MinSpreadThreshold,
		"max_daily_exposure_usd", cfg.Strategy.MaxDailyExposureUSD,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Close(); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
	}

	eng.Stop()
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
