package main

import (
	"context"

	"github.com/alejandrodnm/perpbot/config"
	"github.com/alejandrodnm/perpbot/internal/adapters/notify"
	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/application/paper"
	"github.com/alejandrodnm/perpbot/internal/ports"
)

// runPaper arranca el paper-trade runner y, al salir, imprime el
// leaderboard final.
func runPaper(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, table bool) error {
	var notifier ports.Notifier
	if cfg.Paper.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Paper.WebhookURL)
	} else {
		notifier = notify.NewConsole(table)
	}

	runner := paper.New(paper.Config{
		Symbol:              cfg.Symbol,
		RunID:               cfg.Paper.RunID,
		OptimizerRunID:      cfg.Paper.OptimizerRunID,
		TopN:                cfg.Paper.TopN,
		BalanceStart:        cfg.Paper.BalanceStart,
		PollInterval:        cfg.PaperPoll(),
		SafeLagMin:          cfg.Paper.SafeLagMin,
		MinTradesBeforeKill: cfg.Paper.MinTradesBeforeKill,
		KillMaxDDPct:        cfg.Paper.KillMaxDDPct,
		KillMinPF:           cfg.Paper.KillMinPF,
		KillMinPnLPct:       cfg.Paper.KillMinPnLPct,
	}, store, store, store, notifier)

	err := runner.Run(ctx)

	// Resumen de despedida, gane o pierda.
	finalCtx := context.Background()
	if rows, lbErr := runner.Leaderboard(finalCtx); lbErr == nil && len(rows) > 0 {
		console := notify.NewConsole(true)
		board := make([]notify.LeaderboardRow, 0, len(rows))
		for _, r := range rows {
			board = append(board, notify.LeaderboardRow{
				Rank: r.Rank, Config: r.Config, Account: r.Account, Active: r.Active,
			})
		}
		console.PrintLeaderboard(board)
	}
	return err
}
