package optimizer

// optimizer — grid search sobre StrategyConfig con backtests en paralelo,
// ranking filtrado por drawdown y validación out-of-sample de los mejores.
//
// Worker pool: los backtests son independientes y deterministas, así que
// paralelizarlos no cambia el resultado, solo el orden de llegada; el
// ranking final ordena y el resultado es reproducible.

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/ports"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
	"github.com/google/uuid"
)

const (
	topKeep = 10
	// pfBonusCap acota el bonus de profit factor en el score.
	pfBonusCap = 0.5
)

// Backtester es el contrato mínimo que el optimizer necesita del motor de
// backtest (inyectado para poder mockearlo en tests).
type Backtester interface {
	Run(ctx context.Context, startTs, endTs int64, cfg domain.StrategyConfig) (*BacktestOutput, error)
}

// BacktestOutput es lo que el optimizer consume de cada backtest.
type BacktestOutput struct {
	Metrics domain.BacktestMetrics
}

// Config parametriza un run del optimizer.
type Config struct {
	Symbol       string
	TrainStartTs int64
	TrainEndTs   int64
	DDLimitPct   float64 // filtro de drawdown sobre el in-sample
	OOSTopN      int     // cuántos del top 10 se revalidan (default 3)
	OOSDays      int     // ventana OOS derivada si no hay explícita (default 7)
	OOSStartTs   int64   // ventana OOS explícita (0 = derivar)
	OOSEndTs     int64
	SaveAll      bool // persistir también el grid completo
	Workers      int  // 0 = NumCPU
}

// Optimizer orquesta el grid search completo.
type Optimizer struct {
	cfg      Config
	engine   Backtester
	store    ports.OptimizerStorage
	notifier ports.Notifier
}

// New crea un Optimizer con dependencias inyectadas.
func New(cfg Config, engine Backtester, store ports.OptimizerStorage, notifier ports.Notifier) *Optimizer {
	if cfg.OOSTopN <= 0 {
		cfg.OOSTopN = 3
	}
	if cfg.OOSDays <= 0 {
		cfg.OOSDays = 7
	}
	return &Optimizer{cfg: cfg, engine: engine, store: store, notifier: notifier}
}

// gridResult es el resultado de un backtest del grid. Los errores puntúan
// −Inf y quedan fuera del ranking sin abortar el run.
type gridResult struct {
	config  domain.StrategyConfig
	metrics domain.BacktestMetrics
	score   float64
	err     error
}

// Run ejecuta el grid completo y devuelve el run persistido.
func (o *Optimizer) Run(ctx context.Context) (*domain.OptimizerRun, error) {
	grid := GenerateGrid()

	run := &domain.OptimizerRun{
		ID:           uuid.NewString(),
		Symbol:       o.cfg.Symbol,
		TrainStartTs: o.cfg.TrainStartTs,
		TrainEndTs:   o.cfg.TrainEndTs,
		DDLimitPct:   o.cfg.DDLimitPct,
		CreatedTs:    time.Now().UTC().UnixMilli(),
	}
	// La fila cabecera se crea ANTES de cualquier escritura dependiente:
	// el id debe existir aunque el grid luego falle a mitad.
	if err := o.store.CreateOptimizerRun(ctx, run); err != nil {
		return nil, err
	}

	slog.Info("optimizer starting",
		"run_id", run.ID,
		"symbol", o.cfg.Symbol,
		"configs", len(grid),
		"train_start", timeutil.FormatISO(o.cfg.TrainStartTs),
		"train_end", timeutil.FormatISO(o.cfg.TrainEndTs),
		"dd_limit", o.cfg.DDLimitPct,
	)

	results := o.runGrid(ctx, grid)

	ranked, valid := Rank(results, o.cfg.DDLimitPct)
	run.TotalConfigs = len(grid)
	run.ValidConfigs = valid

	// Cada paso de persistencia está aislado: un fallo no aborta el resto.
	if err := o.store.PatchOptimizerRunTotals(ctx, run.ID, run.TotalConfigs, run.ValidConfigs); err != nil {
		slog.Warn("optimizer: patch totals failed", "run_id", run.ID, "err", err)
	}

	top := ranked
	if len(top) > topKeep {
		top = top[:topKeep]
	}
	topRows := make([]domain.RankedConfig, 0, len(top))
	for i, r := range top {
		row := domain.RankedConfig{
			RunID: run.ID, Rank: i + 1, Score: r.score,
			Config: r.config, Metrics: r.metrics,
		}
		topRows = append(topRows, row)
		if err := o.store.SaveTopConfig(ctx, row); err != nil {
			slog.Warn("optimizer: save top row failed", "rank", i+1, "err", err)
		}
	}

	if o.cfg.SaveAll {
		for _, r := range results {
			if r.err != nil {
				continue
			}
			row := domain.RankedConfig{RunID: run.ID, Score: r.score, Config: r.config, Metrics: r.metrics}
			if err := o.store.SaveAllConfig(ctx, row); err != nil {
				slog.Warn("optimizer: save all row failed", "config", r.config.ID(), "err", err)
			}
		}
	}

	o.runOOS(ctx, run, topRows)

	if o.notifier != nil {
		if err := o.notifier.NotifyOptimizerDone(ctx, *run, topRows); err != nil {
			slog.Warn("optimizer: notify failed", "err", err)
		}
	}

	slog.Info("optimizer finished",
		"run_id", run.ID, "total", run.TotalConfigs, "valid", run.ValidConfigs, "top", len(topRows))
	return run, nil
}

// runGrid ejecuta todos los backtests con un worker pool acotado.
func (o *Optimizer) runGrid(ctx context.Context, grid []domain.StrategyConfig) []gridResult {
	workers := o.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	workCh := make(chan domain.StrategyConfig, len(grid))
	resultCh := make(chan gridResult, len(grid))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cfg := range workCh {
				resultCh <- o.runOne(ctx, cfg)
			}
		}()
	}

	for _, cfg := range grid {
		workCh <- cfg
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]gridResult, 0, len(grid))
	for r := range resultCh {
		if r.err != nil {
			slog.Debug("grid config failed", "config", r.config.ID(), "err", r.err)
		}
		results = append(results, r)
	}
	return results
}

func (o *Optimizer) runOne(ctx context.Context, cfg domain.StrategyConfig) gridResult {
	out, err := o.engine.Run(ctx, o.cfg.TrainStartTs, o.cfg.TrainEndTs, cfg)
	if err != nil {
		return gridResult{config: cfg, score: math.Inf(-1), err: err}
	}
	return gridResult{config: cfg, metrics: out.Metrics, score: Score(out.Metrics)}
}

// Score es la puntuación primaria del ranking:
// expectancy_pct + min(profit_factor/10, 0.5).
func Score(m domain.BacktestMetrics) float64 {
	bonus := m.ProfitFactor / 10
	if bonus > pfBonusCap || math.IsInf(bonus, 1) {
		bonus = pfBonusCap
	}
	return m.ExpectancyPct + bonus
}

// Rank filtra por drawdown y ordena por score descendente. Devuelve también
// cuántas configs quedaron dentro del límite (validConfigs).
func Rank(results []gridResult, ddLimitPct float64) ([]gridResult, int) {
	var kept []gridResult
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if r.metrics.MaxDrawdownPct > ddLimitPct {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})
	return kept, len(kept)
}

// runOOS revalida los OOSTopN primeros del top en una ventana posterior
// disjunta y persiste cada resultado.
func (o *Optimizer) runOOS(ctx context.Context, run *domain.OptimizerRun, top []domain.RankedConfig) {
	if len(top) == 0 {
		return
	}

	startTs, endTs := o.cfg.OOSStartTs, o.cfg.OOSEndTs
	if startTs == 0 || endTs == 0 {
		// Derivada: [trainEnd + 1 min, end-of-day(trainEnd + OOS_DAYS)].
		startTs = timeutil.AddMinutes(o.cfg.TrainEndTs, 1)
		endTs = timeutil.EndOfDay(timeutil.AddDays(o.cfg.TrainEndTs, o.cfg.OOSDays))
	}

	n := o.cfg.OOSTopN
	if n > len(top) {
		n = len(top)
	}

	slog.Info("optimizer OOS validation",
		"run_id", run.ID, "top_n", n,
		"oos_start", timeutil.FormatISO(startTs), "oos_end", timeutil.FormatISO(endTs))

	for _, row := range top[:n] {
		out, err := o.engine.Run(ctx, startTs, endTs, row.Config)
		if err != nil {
			slog.Warn("OOS backtest failed", "rank", row.Rank, "err", err)
			continue
		}

		oos := domain.OOSResult{
			RunID: run.ID, Rank: row.Rank, Symbol: run.Symbol,
			StartTs: startTs, EndTs: endTs, Metrics: out.Metrics,
		}
		if err := o.store.SaveOOSResult(ctx, oos); err != nil {
			slog.Warn("OOS persist failed", "rank", row.Rank, "err", err)
		}

		// Aviso de estabilidad: el OOS pierde dinero o degrada el drawdown.
		if out.Metrics.TotalPnLPct < 0 || out.Metrics.MaxDrawdownPct > row.Metrics.MaxDrawdownPct {
			slog.Warn("OOS stability warning",
				"rank", row.Rank,
				"oos_pnl_pct", out.Metrics.TotalPnLPct,
				"oos_dd_pct", out.Metrics.MaxDrawdownPct,
				"train_dd_pct", row.Metrics.MaxDrawdownPct,
			)
		}
	}
}
