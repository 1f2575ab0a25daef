package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/perpbot/config"
	"github.com/alejandrodnm/perpbot/internal/adapters/notify"
	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/application/backtest"
	"github.com/alejandrodnm/perpbot/internal/domain"
)

// runBacktest ejecuta un único backtest con una config de referencia sobre
// la ventana de training. Para explorar el grid completo, usar -mode optimize.
func runBacktest(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, table bool) error {
	startTs, endTs, err := cfg.TrainRange()
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	strat := domain.StrategyConfig{
		EntryTrigger: domain.TriggerEither,
		RRTarget:     2.0,
		SLATRBuffer:  0.3,
		MinRiskPct:   0.001,
		TakerFeeBps:  5,
		SlippageBps:  2,
	}

	engine := backtest.New(store, cfg.Symbol)
	res, err := engine.Run(ctx, startTs, endTs, strat)
	if err != nil {
		return err
	}

	m := res.Metrics
	slog.Info("backtest finished",
		"config", strat.ID(),
		"trades", m.Trades,
		"winrate", fmt.Sprintf("%.1f%%", m.Winrate*100),
		"total_pnl_pct", fmt.Sprintf("%.2f", m.TotalPnLPct),
		"expectancy_pct", fmt.Sprintf("%.3f", m.ExpectancyPct),
		"profit_factor", fmt.Sprintf("%.2f", m.ProfitFactor),
		"max_dd_pct", fmt.Sprintf("%.2f", m.MaxDrawdownPct),
		"avg_duration_min", fmt.Sprintf("%.1f", m.AvgDurationMin),
	)

	if table {
		console := notify.NewConsole(true)
		_ = console.NotifyOptimizerDone(ctx, domain.OptimizerRun{
			ID: "backtest", Symbol: cfg.Symbol,
			TrainStartTs: startTs, TrainEndTs: endTs,
			TotalConfigs: 1, ValidConfigs: 1,
		}, []domain.RankedConfig{{Rank: 1, Config: strat, Metrics: m}})
	}
	return nil
}
