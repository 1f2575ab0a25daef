package main

import (
	"context"

	"github.com/alejandrodnm/perpbot/config"
	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/application/ingest"
	"github.com/alejandrodnm/perpbot/internal/application/marketstate"
	"github.com/alejandrodnm/perpbot/internal/ports"
)

func newIngestEngine(cfg *config.Config, exchange ports.Exchange, store *storage.SQLiteStorage) *ingest.Engine {
	builder := marketstate.NewBuilder(store, store, cfg.Symbol)
	return ingest.New(ingest.Config{
		Symbol:       cfg.Symbol,
		Timeframes:   cfg.Ingest.Timeframes,
		PollInterval: cfg.IngestPoll(),
		BatchLimit:   cfg.Ingest.BatchLimit,
	}, exchange, store, builder)
}

// runIngest mantiene el store al día; con once=true hace un ciclo y sale.
func runIngest(ctx context.Context, cfg *config.Config, exchange ports.Exchange, store *storage.SQLiteStorage, once bool) error {
	engine := newIngestEngine(cfg, exchange, store)
	if once {
		return engine.CatchUpOnce(ctx)
	}
	return engine.RunContinuous(ctx)
}

// runBackfill pagina el rango histórico configurado y termina.
func runBackfill(ctx context.Context, cfg *config.Config, exchange ports.Exchange, store *storage.SQLiteStorage) error {
	start, end, err := cfg.BackfillRange()
	if err != nil {
		return err
	}
	return newIngestEngine(cfg, exchange, store).Backfill(ctx, start, end)
}
