package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/tradegate/config"
	"github.com/alejandrodnm/tradegate/internal/adapters/console"
	"github.com/alejandrodnm/tradegate/internal/adapters/feed"
	"github.com/alejandrodnm/tradegate/internal/adapters/paper"
	"github.com/alejandrodnm/tradegate/internal/adapters/storage"
	"github.com/alejandrodnm/tradegate/internal/allocator"
	"github.com/alejandrodnm/tradegate/internal/coordinator"
	"github.com/alejandrodnm/tradegate/internal/domain"
	"github.com/alejandrodnm/tradegate/internal/engine"
	"github.com/alejandrodnm/tradegate/internal/gate"
	"github.com/alejandrodnm/tradegate/internal/prover"
	"github.com/alejandrodnm/tradegate/internal/summary"
)

const startingCash = 100_000

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one coordination cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	ledger := flag.Bool("ledger", false, "print the allocation ledger and exit")
	preview := flag.Bool("preview", false, "print a rebalance preview and exit")
	freeze := flag.Bool("freeze", false, "emergency: freeze all active allocations and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	auditDB, err := storage.NewAuditDB(cfg.Storage.AuditDSN, storage.Provenance{
		CommitHash:  os.Getenv("COMMIT_HASH"),
		PolicyHash:  os.Getenv("POLICY_HASH"),
		Environment: envName(),
	})
	if err != nil {
		slog.Error("failed to open audit store", "err", err, "dsn", cfg.Storage.AuditDSN)
		os.Exit(1)
	}
	defer auditDB.Close()

	allocDB, err := storage.NewAllocDB(cfg.Storage.AllocDSN)
	if err != nil {
		slog.Error("failed to open allocation store", "err", err, "dsn", cfg.Storage.AllocDSN)
		os.Exit(1)
	}
	defer allocDB.Close()

	client := feed.New(cfg.Feed.BaseURL)

	alloc := allocator.New(allocDB, auditDB, client, allocator.CapParams{
		Base:        cfg.Allocator.BaseCap,
		SharpeBonus: cfg.Allocator.SharpeBonus,
		PenaltyCap:  cfg.Allocator.PenaltyCap,
		MinCap:      cfg.Allocator.MinCap,
		MaxCap:      cfg.Allocator.MaxCap,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := console.New()
	switch {
	case *ledger:
		entries, err := alloc.Ledger(ctx)
		if err != nil {
			slog.Error("ledger failed", "err", err)
			os.Exit(1)
		}
		out.PrintLedger(entries)
		return
	case *preview:
		result, err := alloc.Rebalance(ctx, domain.RebalancePreview)
		if err != nil {
			slog.Error("rebalance preview failed", "err", err)
			os.Exit(1)
		}
		out.PrintRebalance(result)
		return
	case *freeze:
		frozen, err := alloc.FreezeAll(ctx)
		if err != nil {
			slog.Error("emergency freeze failed", "err", err)
			os.Exit(1)
		}
		slog.Warn("emergency freeze complete", "frozen", len(frozen))
		return
	}

	slog.Info("tradegate starting",
		"config", *configPath,
		"cycle", cfg.CycleInterval(),
		"rebalance", cfg.RebalanceInterval(),
		"once", *once,
	)

	executor := paper.NewExecutor(client, startingCash, 0)
	pv := prover.New(auditDB, prover.Config{
		MaxGreeksDriftPct: cfg.Prover.MaxGreeksDriftPct,
		LeveragedETFs:     cfg.Prover.LeveragedETFs,
	})

	eng := engine.New(
		engine.Config{
			CycleInterval:     cfg.CycleInterval(),
			RebalanceInterval: cfg.RebalanceInterval(),
			Once:              *once,
			GateCaps: gate.Caps{
				QuoteStaleSec:    cfg.Gate.QuoteStaleSec,
				BrokerStaleSec:   cfg.Gate.BrokerStaleSec,
				MaxPortfolioHeat: cfg.Gate.MaxPortfolioHeat,
				MaxStrategyHeat:  cfg.Gate.MaxStrategyHeat,
			},
		},
		coordinator.New(),
		client,
		client,
		executor,
		executor,
		storage.NewBestEffortWriter(auditDB, 0),
		pv,
		alloc,
		summary.New(auditDB),
		nil,
	)

	go serveMetrics(cfg.Metrics.Addr)

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("tradegate stopped cleanly")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "err", err)
	}
}

func envName() string {
	if v := os.Getenv("TRADEGATE_ENV"); v != "" {
		return v
	}
	return "dev"
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
