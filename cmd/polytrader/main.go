// Polytrader — a real-time trading runtime for binary prediction markets,
// with paper and live execution over the same strategy surface.
//
// Architecture:
//
//	main.go                — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	harness/harness.go     — strategy harness: market load, event dispatch, heartbeat
//	stream/multiplexer.go  — market + user WebSocket channels with liveness and reconnect
//	stream/decoder.go      — normalizes both historical wire formats into typed events
//	executor/engine.go     — pre-trade checks, paper fill simulation, live forwarding, accounting
//	venue/gamma.go         — market metadata lookups (slug, id, event)
//	venue/clob.go          — live order placement and cancellation with L2 auth
//	store/store.go         — SQLite persistence for orders, trades, positions
//	analytics/metrics.go   — FIFO round-trip P&L, win rate, drawdown over the trade log
//	strategy/registry.go   — named strategy factories; threshold.go is the built-in example
//
// Usage:
//
//	polytrader                 run the configured strategy
//	polytrader export          export orders, trades, and positions to CSV
//	polytrader report          print a performance report from stored trades
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polytrader/internal/analytics"
	"polytrader/internal/config"
	"polytrader/internal/executor"
	"polytrader/internal/harness"
	"polytrader/internal/store"
	"polytrader/internal/strategy"
	"polytrader/internal/stream"
	"polytrader/internal/venue"
	"polytrader/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
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

	switch cmd := subcommand(); cmd {
	case "export":
		os.Exit(runExport(*cfg, logger))
	case "report":
		os.Exit(runReport(*cfg, logger))
	case "":
		os.Exit(run(*cfg, logger))
	default:
		logger.Error("unknown subcommand", "command", cmd)
		os.Exit(2)
	}
}

func run(cfg config.Config, logger *slog.Logger) int {
	db, err := store.Open(cfg.Storage.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return 1
	}
	defer db.Close()

	auth, err := venue.NewAuth(cfg.Credentials)
	if err != nil {
		logger.Error("failed to build auth", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mode := types.ExecutionMode(cfg.Mode)

	var liveVenue executor.Venue
	if mode == types.ModeLive {
		clob := venue.NewClient(cfg.Endpoints.CLOBURL, auth, logger)
		if !auth.HasL2Credentials() {
			if _, err := clob.DeriveAPIKey(ctx); err != nil {
				logger.Error("failed to derive API key", "error", err)
				return 1
			}
		}
		liveVenue = clob
	}

	eng := executor.New(executor.Config{
		Mode:            mode,
		StartingBalance: cfg.Paper.StartingBalance,
		Slippage:        cfg.Paper.Slippage,
		FillDelayMs:     cfg.Paper.FillDelayMs,
	}, db, liveVenue, logger)

	strat, err := strategy.New(cfg.Harness.Strategy, eng, cfg.Harness.Params, logger)
	if err != nil {
		logger.Error("failed to build strategy", "error", err)
		return 1
	}

	mux := stream.NewMultiplexer(stream.Config{
		MarketURL:      cfg.Endpoints.MarketWSURL,
		UserURL:        cfg.Endpoints.UserWSURL,
		Auth:           auth.WSAuthPayload(),
		PingInterval:   cfg.Liveness.PingInterval(),
		ReconnectDelay: cfg.Liveness.ReconnectDelay(),
		AutoReconnect:  cfg.Liveness.AutoReconnect,
	}, logger)

	metadata := venue.NewMetadataClient(cfg.Endpoints.RESTURL, logger)
	h := harness.New(cfg.Harness, metadata, mux, eng, strat, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("polytrader started",
		"mode", cfg.Mode,
		"strategy", cfg.Harness.Strategy,
		"markets", len(cfg.Harness.Markets),
	)

	if err := h.Run(ctx); err != nil {
		logger.Error("harness exited with error", "error", err)
		return 1
	}

	stats := eng.StatsSnapshot(nil)
	logger.Info("final state",
		"balance", stats.Balance,
		"realized_pnl", stats.RealizedPnL,
		"trades", stats.TradeCount,
	)
	return 0
}

func runExport(cfg config.Config, logger *slog.Logger) int {
	db, err := store.Open(cfg.Storage.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return 1
	}
	defer db.Close()

	dir := cfg.Storage.CSVDir
	if _, err := db.ExportOrdersCSV(dir, store.OrderFilter{}); err != nil {
		logger.Error("order export failed", "error", err)
		return 1
	}
	if _, err := db.ExportTradesCSV(dir, store.TradeFilter{}); err != nil {
		logger.Error("trade export failed", "error", err)
		return 1
	}
	if _, err := db.ExportPositionsCSV(dir); err != nil {
		logger.Error("position export failed", "error", err)
		return 1
	}
	return 0
}

func runReport(cfg config.Config, logger *slog.Logger) int {
	db, err := store.Open(cfg.Storage.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return 1
	}
	defer db.Close()

	trades, err := db.ListTrades(store.TradeFilter{})
	if err != nil {
		logger.Error("failed to load trades", "error", err)
		return 1
	}
	stats, err := db.Stats()
	if err != nil {
		logger.Error("failed to load storage stats", "error", err)
		return 1
	}

	fmt.Printf("orders:        %d\n", stats.OrderCount)
	fmt.Printf("positions:     %d open\n", stats.PositionCount)
	if stats.TradeCount > 0 {
		fmt.Printf("period:        %s .. %s\n",
			stats.OldestTrade.Format(time.RFC3339), stats.NewestTrade.Format(time.RFC3339))
	}

	report := analytics.Analyze(trades)
	fmt.Printf("trades:        %d\n", report.TradeCount)
	fmt.Printf("round trips:   %d (%d wins, %d losses)\n", report.RoundTrips, report.Wins, report.Losses)
	fmt.Printf("win rate:      %.1f%%\n", report.WinRate*100)
	fmt.Printf("net P&L:       %s\n", report.NetPnL)
	fmt.Printf("profit factor: %.2f\n", report.ProfitFactor)
	fmt.Printf("expectancy:    %.4f\n", report.Expectancy)
	fmt.Printf("max drawdown:  %s\n", report.MaxDrawdown)
	fmt.Printf("volume:        %s\n", report.Volume)
	return 0
}

func subcommand() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	return ""
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
