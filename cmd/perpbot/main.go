package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/perpbot/config"
	"github.com/alejandrodnm/perpbot/internal/adapters/deribit"
	"github.com/alejandrodnm/perpbot/internal/adapters/fixture"
	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/metrics"
	"github.com/alejandrodnm/perpbot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (empty = env/defaults only)")
	mode := flag.String("mode", "ingest", "mode: ingest|backfill|backtest|optimize|paper")
	once := flag.Bool("once", false, "ingest: run one catch-up cycle and exit")
	dryRun := flag.Bool("dry-run", false, "use the synthetic exchange instead of the real API")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables instead of compact lines")
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
	if *dryRun {
		cfg.Exchange.DryRun = true
	}
	setupLogger(cfg.Log)

	slog.Info("perpbot starting",
		"mode", *mode,
		"symbol", cfg.Symbol,
		"config", *configPath,
		"dry_run", cfg.Exchange.DryRun,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	metrics.Serve(cfg.Metrics.Addr)

	var exchange ports.Exchange
	if cfg.Exchange.DryRun {
		exchange = fixture.NewExchange(time.Second)
	} else {
		exchange = deribit.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.WSURL)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "ingest":
		err = runIngest(ctx, cfg, exchange, store, *once)
	case "backfill":
		err = runBackfill(ctx, cfg, exchange, store)
	case "backtest":
		err = runBacktest(ctx, cfg, store, *table)
	case "optimize":
		err = runOptimize(ctx, cfg, store, *table)
	case "paper":
		err = runPaper(ctx, cfg, store, *table)
	default:
		slog.Error("unknown mode", "mode", *mode)
		os.Exit(1)
	}

	if err != nil {
		slog.Error("perpbot exited with error", "mode", *mode, "err", err)
		os.Exit(1)
	}
	slog.Info("perpbot stopped cleanly", "mode", *mode)
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
