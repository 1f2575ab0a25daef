package main

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/perpbot/config"
	"github.com/alejandrodnm/perpbot/internal/adapters/notify"
	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/application/backtest"
	"github.com/alejandrodnm/perpbot/internal/application/optimizer"
)

// runOptimize ejecuta el grid search completo sobre la ventana de training.
func runOptimize(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, table bool) error {
	trainStart, trainEnd, err := cfg.TrainRange()
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	oosStart, oosEnd, err := cfg.OOSRange()
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}

	engine := backtest.New(store, cfg.Symbol)
	console := notify.NewConsole(table)

	opt := optimizer.New(optimizer.Config{
		Symbol:       cfg.Symbol,
		TrainStartTs: trainStart,
		TrainEndTs:   trainEnd,
		DDLimitPct:   cfg.Optimizer.DDLimitPct,
		OOSTopN:      cfg.Optimizer.OOSTopN,
		OOSDays:      cfg.Optimizer.OOSDays,
		OOSStartTs:   oosStart,
		OOSEndTs:     oosEnd,
		SaveAll:      cfg.Optimizer.SaveAllConfigs,
		Workers:      cfg.Optimizer.Workers,
	}, optimizer.WrapEngine(engine), store, console)

	_, err = opt.Run(ctx)
	return err
}
