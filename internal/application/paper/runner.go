package paper

// paper — simulación en vivo sobre velas cerradas. Un PaperRun carga el
// top-N de un run del optimizer, abre una cuenta simulada por config y las
// hace avanzar vela a vela en cada poll. Todo el estado vive en el store;
// el proceso puede morir y retomar desde el último checkpoint.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/ports"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
	"github.com/google/uuid"
)

const (
	baseTimeframe = 1 // la simulación avanza sobre velas de 1m
	// safeLagTimeframes son los TFs que acotan el final seguro de cada tick.
	pageSize = 1000
	// checkpointEvery / snapshotEvery, en velas procesadas.
	checkpointEvery = 100
	snapshotEvery   = 10
	// bootstrapLookbackMs: cuentas sin checkpoint arrancan 24h atrás.
	bootstrapLookbackMs = 24 * 60 * timeutil.MinuteMs

	leaderboardEvery = time.Minute
	leaderboardTop   = 5
)

var (
	safeLagTimeframes = []int{1, 5, 15}
	stateTimeframes   = []int{1, 5, 15, 60}
)

// Config parametriza el runner.
type Config struct {
	Symbol         string
	RunID          string // retomar un run existente; vacío = crear
	OptimizerRunID string // origen de las configs cuando se crea
	TopN           int
	BalanceStart   float64
	PollInterval   time.Duration
	SafeLagMin     int // clamp 0..10 hecho en config

	MinTradesBeforeKill int
	KillMaxDDPct        float64
	KillMinPF           float64
	KillMinPnLPct       float64
}

// Runner orquesta un PaperRun completo.
type Runner struct {
	cfg      Config
	candles  ports.CandleStorage
	store    ports.PaperStorage
	opt      ports.OptimizerStorage
	notifier ports.Notifier

	run *domain.PaperRun
	now func() int64
}

// New crea un Runner. notifier puede ser nil.
func New(cfg Config, candles ports.CandleStorage, store ports.PaperStorage, opt ports.OptimizerStorage, notifier ports.Notifier) *Runner {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.BalanceStart <= 0 {
		cfg.BalanceStart = 1000
	}
	return &Runner{
		cfg:      cfg,
		candles:  candles,
		store:    store,
		opt:      opt,
		notifier: notifier,
		now:      func() int64 { return time.Now().UTC().UnixMilli() },
	}
}

// Init retoma el run configurado o crea uno nuevo a partir del optimizer.
// Idempotente: configs y cuentas solo se siembran si no existen.
func (r *Runner) Init(ctx context.Context) error {
	if r.cfg.RunID != "" {
		run, err := r.store.GetPaperRun(ctx, r.cfg.RunID)
		if err != nil {
			return fmt.Errorf("paper.Init: load run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("paper.Init: run %s not found", r.cfg.RunID)
		}
		r.run = run
		if run.Status != domain.PaperRunning {
			if err := r.store.UpdatePaperRunStatus(ctx, run.ID, domain.PaperRunning); err != nil {
				return fmt.Errorf("paper.Init: resume status: %w", err)
			}
			run.Status = domain.PaperRunning
		}
		slog.Info("paper run resumed", "run_id", run.ID, "symbol", run.Symbol)
		return nil
	}

	if r.cfg.OptimizerRunID == "" {
		return fmt.Errorf("paper.Init: need an optimizer run id to create a paper run")
	}
	top, err := r.opt.GetTopConfigs(ctx, r.cfg.OptimizerRunID, r.cfg.TopN)
	if err != nil {
		return fmt.Errorf("paper.Init: load top configs: %w", err)
	}
	if len(top) == 0 {
		return fmt.Errorf("paper.Init: optimizer run %s has no top configs", r.cfg.OptimizerRunID)
	}

	run := &domain.PaperRun{
		ID:             uuid.NewString(),
		Symbol:         r.cfg.Symbol,
		TimeframeMin:   baseTimeframe,
		Status:         domain.PaperRunning,
		OptimizerRunID: r.cfg.OptimizerRunID,
		CreatedTs:      r.now(),
	}
	if err := r.store.CreatePaperRun(ctx, run); err != nil {
		return fmt.Errorf("paper.Init: create run: %w", err)
	}

	for _, row := range top {
		cfg := &domain.PaperConfig{
			ID:       uuid.NewString(),
			RunID:    run.ID,
			Rank:     row.Rank,
			Config:   row.Config,
			IsActive: true,
		}
		if err := r.store.SavePaperConfig(ctx, cfg); err != nil {
			return fmt.Errorf("paper.Init: save config rank=%d: %w", row.Rank, err)
		}
		acc := &domain.PaperAccount{
			RunID:        run.ID,
			ConfigID:     cfg.ID,
			BalanceStart: r.cfg.BalanceStart,
			Balance:      r.cfg.BalanceStart,
			Equity:       r.cfg.BalanceStart,
			MaxEquity:    r.cfg.BalanceStart,
		}
		if err := r.store.UpsertPaperAccount(ctx, acc); err != nil {
			return fmt.Errorf("paper.Init: seed account rank=%d: %w", row.Rank, err)
		}
	}

	r.run = run
	slog.Info("paper run created",
		"run_id", run.ID, "symbol", run.Symbol,
		"optimizer_run", r.cfg.OptimizerRunID, "configs", len(top))
	return nil
}

// Run ejecuta el poll loop hasta que el contexto se cancele; al salir marca
// el run como stopped. El batch en curso siempre termina.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Init(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	lastBoard := time.Time{}
	first := true
	for {
		r.tick(ctx, first)
		first = false

		if time.Since(lastBoard) >= leaderboardEvery {
			r.logLeaderboard(ctx)
			lastBoard = time.Now()
		}

		select {
		case <-ctx.Done():
			// Cierre cooperativo: el tick en curso ya terminó.
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.store.UpdatePaperRunStatus(stopCtx, r.run.ID, domain.PaperStopped); err != nil {
				slog.Warn("paper: patch stopped status failed", "err", err)
			}
			_ = r.store.AppendPaperEvent(stopCtx, domain.PaperEvent{
				RunID: r.run.ID, Ts: r.now(), Level: "info", Kind: "stopped",
				Message: "graceful shutdown",
			})
			slog.Info("paper run stopped", "run_id", r.run.ID)
			return nil
		case <-ticker.C:
		}
	}
}

// tick procesa una iteración completa: final seguro, cuentas activas,
// avance por cuenta.
func (r *Runner) tick(ctx context.Context, first bool) {
	safeEnd, ok := r.safeEnd(ctx)
	if !ok {
		slog.Debug("paper tick: no candles yet")
		return
	}

	configs, err := r.store.GetPaperConfigs(ctx, r.run.ID, true)
	if err != nil {
		slog.Warn("paper tick: load configs failed", "err", err)
		return
	}
	if len(configs) == 0 {
		slog.Info("paper tick: no active configs left")
		return
	}

	for i := range configs {
		if ctx.Err() != nil {
			return
		}
		if err := r.processAccount(ctx, &configs[i], safeEnd, first); err != nil {
			// Aislamiento por cuenta: un fallo no frena a las demás.
			slog.Warn("paper account failed",
				"rank", configs[i].Rank, "config", configs[i].Config.ID(), "err", err)
		}
	}
}

// safeEnd devuelve min sobre los TFs requeridos de (maxTs − SAFE_LAG·tf).
// ok=false si algún timeframe aún no tiene velas.
func (r *Runner) safeEnd(ctx context.Context) (int64, bool) {
	var out int64
	for i, tf := range safeLagTimeframes {
		maxTs, ok, err := r.candles.MaxCandleTs(ctx, r.run.Symbol, tf)
		if err != nil || !ok {
			return 0, false
		}
		end := maxTs - int64(r.cfg.SafeLagMin*tf)*timeutil.MinuteMs
		if i == 0 || end < out {
			out = end
		}
	}
	return out, true
}

// AccountView es una fila del leaderboard.
type AccountView struct {
	Rank    int
	Config  domain.StrategyConfig
	Account domain.PaperAccount
	Active  bool
}

// Leaderboard devuelve todas las cuentas del run ordenadas por equity.
func (r *Runner) Leaderboard(ctx context.Context) ([]AccountView, error) {
	if r.run == nil {
		return nil, fmt.Errorf("paper.Leaderboard: run not initialized")
	}
	configs, err := r.store.GetPaperConfigs(ctx, r.run.ID, false)
	if err != nil {
		return nil, fmt.Errorf("paper.Leaderboard: %w", err)
	}
	var rows []AccountView
	for _, cfg := range configs {
		acc, err := r.store.GetPaperAccount(ctx, r.run.ID, cfg.ID)
		if err != nil || acc == nil {
			continue
		}
		rows = append(rows, AccountView{
			Rank: cfg.Rank, Config: cfg.Config, Account: *acc, Active: cfg.IsActive,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Account.Equity > rows[j].Account.Equity
	})
	return rows, nil
}

func (r *Runner) logLeaderboard(ctx context.Context) {
	rows, err := r.Leaderboard(ctx)
	if err != nil {
		slog.Warn("paper leaderboard failed", "err", err)
		return
	}
	if len(rows) > leaderboardTop {
		rows = rows[:leaderboardTop]
	}
	for i, row := range rows {
		slog.Info("paper leaderboard",
			"pos", i+1,
			"rank", row.Rank,
			"config", row.Config.ID(),
			"equity", fmt.Sprintf("%.2f", row.Account.Equity),
			"pnl_pct", fmt.Sprintf("%.2f", row.Account.RealizedPnLPct()),
			"dd_pct", fmt.Sprintf("%.2f", row.Account.MaxDrawdownPct),
			"trades", row.Account.TradesCount,
			"active", row.Active,
		)
	}
}
