package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier escribiendo a stdout.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyKill imprime el aviso de desactivación de una config.
func (c *Console) NotifyKill(_ context.Context, cfg domain.PaperConfig, acc domain.PaperAccount, reason string) error {
	fmt.Fprintf(c.out, "[%s] KILL rank=%d config=%s reason=%s trades=%d pnl=%.2f%% dd=%.2f%% pf=%.2f\n",
		time.Now().UTC().Format("15:04:05"),
		cfg.Rank, cfg.Config.ID(), reason,
		acc.TradesCount, acc.RealizedPnLPct(), acc.MaxDrawdownPct, acc.ProfitFactor)
	return nil
}

// NotifyOptimizerDone imprime el resumen del run del optimizer.
func (c *Console) NotifyOptimizerDone(_ context.Context, run domain.OptimizerRun, top []domain.RankedConfig) error {
	fmt.Fprintf(c.out, "\noptimizer run %s — %s [%s → %s] configs=%d valid=%d\n",
		run.ID, run.Symbol,
		timeutil.FormatISO(run.TrainStartTs), timeutil.FormatISO(run.TrainEndTs),
		run.TotalConfigs, run.ValidConfigs)

	if len(top) == 0 {
		fmt.Fprintln(c.out, "  no configs survived the drawdown filter")
		return nil
	}

	if c.table {
		c.printTopTable(top)
	} else {
		c.printTopCompact(top)
	}
	return nil
}

// printTopCompact imprime una línea por config.
func (c *Console) printTopCompact(top []domain.RankedConfig) {
	for _, row := range top {
		fmt.Fprintf(c.out, "  #%d %-42s score=%.3f exp=%.3f%% pf=%s wr=%.0f%% dd=%.1f%% trades=%d\n",
			row.Rank, row.Config.ID(), row.Score,
			row.Metrics.ExpectancyPct, pfLabel(row.Metrics.ProfitFactor),
			row.Metrics.Winrate*100, row.Metrics.MaxDrawdownPct, row.Metrics.Trades)
	}
}

// printTopTable imprime el top completo como tabla.
func (c *Console) printTopTable(top []domain.RankedConfig) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Config", "Score", "Exp%", "PF", "WR%", "PnL%", "DD%", "Trades")

	for _, row := range top {
		table.Append(
			fmt.Sprintf("%d", row.Rank),
			row.Config.ID(),
			fmt.Sprintf("%.3f", row.Score),
			fmt.Sprintf("%.3f", row.Metrics.ExpectancyPct),
			pfLabel(row.Metrics.ProfitFactor),
			fmt.Sprintf("%.1f", row.Metrics.Winrate*100),
			fmt.Sprintf("%.2f", row.Metrics.TotalPnLPct),
			fmt.Sprintf("%.2f", row.Metrics.MaxDrawdownPct),
			fmt.Sprintf("%d", row.Metrics.Trades),
		)
	}
	table.Render()
}

// LeaderboardRow es una fila del leaderboard del paper runner.
type LeaderboardRow struct {
	Rank    int
	Config  domain.StrategyConfig
	Account domain.PaperAccount
	Active  bool
}

// PrintLeaderboard imprime el top de cuentas paper ordenado por equity.
func (c *Console) PrintLeaderboard(rows []LeaderboardRow) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n[%s] paper leaderboard (top %d)\n",
		time.Now().UTC().Format("15:04:05"), len(rows))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Config", "Equity", "PnL%", "DD%", "PF", "Trades", "Open", "Status")

	for _, r := range rows {
		status := "active"
		if !r.Active {
			status = "killed"
		}
		table.Append(
			fmt.Sprintf("%d", r.Rank),
			r.Config.ID(),
			fmt.Sprintf("%.2f", r.Account.Equity),
			fmt.Sprintf("%.2f", r.Account.RealizedPnLPct()),
			fmt.Sprintf("%.2f", r.Account.MaxDrawdownPct),
			pfLabel(r.Account.ProfitFactor),
			fmt.Sprintf("%d", r.Account.TradesCount),
			fmt.Sprintf("%d", len(r.Account.Open.All())),
			status,
		)
	}
	table.Render()
}

func pfLabel(pf float64) string {
	if math.IsInf(pf, 1) || pf >= 999 {
		return "INF"
	}
	return fmt.Sprintf("%.2f", pf)
}
