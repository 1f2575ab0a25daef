package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

const optimizerSchema = `
CREATE TABLE IF NOT EXISTS optimizer_runs (
    id             TEXT PRIMARY KEY,
    symbol         TEXT    NOT NULL,
    train_start_ts INTEGER NOT NULL,
    train_end_ts   INTEGER NOT NULL,
    dd_limit_pct   REAL    NOT NULL,
    total_configs  INTEGER NOT NULL DEFAULT 0,
    valid_configs  INTEGER NOT NULL DEFAULT 0,
    created_ts     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS optimizer_run_top_configs (
    run_id           TEXT    NOT NULL,
    rank             INTEGER NOT NULL,
    score            REAL    NOT NULL,
    config           TEXT    NOT NULL, -- StrategyConfig JSON
    trades           INTEGER NOT NULL,
    winrate          REAL    NOT NULL,
    total_pnl_pct    REAL    NOT NULL,
    expectancy_pct   REAL    NOT NULL,
    profit_factor    REAL    NOT NULL,
    max_drawdown_pct REAL    NOT NULL,
    avg_duration_min REAL    NOT NULL,
    PRIMARY KEY (run_id, rank)
);

CREATE TABLE IF NOT EXISTS optimizer_run_configs (
    run_id           TEXT NOT NULL,
    config           TEXT NOT NULL, -- config.ID() determinista
    score            REAL NOT NULL,
    metrics          TEXT NOT NULL, -- BacktestMetrics JSON
    PRIMARY KEY (run_id, config)
);

CREATE TABLE IF NOT EXISTS optimizer_oos_results (
    run_id           TEXT    NOT NULL,
    rank             INTEGER NOT NULL,
    symbol           TEXT    NOT NULL,
    start_ts         INTEGER NOT NULL,
    end_ts           INTEGER NOT NULL,
    trades           INTEGER NOT NULL,
    winrate          REAL    NOT NULL,
    total_pnl_pct    REAL    NOT NULL,
    expectancy_pct   REAL    NOT NULL,
    profit_factor    REAL    NOT NULL,
    max_drawdown_pct REAL    NOT NULL,
    PRIMARY KEY (run_id, rank)
);
`

// CreateOptimizerRun inserta la fila cabecera del run. El id debe quedar
// capturado antes de cualquier escritura dependiente.
func (s *SQLiteStorage) CreateOptimizerRun(ctx context.Context, run *domain.OptimizerRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO optimizer_runs
			(id, symbol, train_start_ts, train_end_ts, dd_limit_pct, total_configs, valid_configs, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.TrainStartTs, run.TrainEndTs,
		run.DDLimitPct, run.TotalConfigs, run.ValidConfigs, run.CreatedTs,
	)
	if err != nil {
		return fmt.Errorf("storage.CreateOptimizerRun: %w", err)
	}
	return nil
}

// PatchOptimizerRunTotals actualiza los contadores al terminar el grid.
func (s *SQLiteStorage) PatchOptimizerRunTotals(ctx context.Context, runID string, total, valid int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE optimizer_runs SET total_configs = ?, valid_configs = ? WHERE id = ?`,
		total, valid, runID,
	)
	if err != nil {
		return fmt.Errorf("storage.PatchOptimizerRunTotals: %w", err)
	}
	return nil
}

// SaveTopConfig hace upsert de una fila top con clave (run_id, rank).
func (s *SQLiteStorage) SaveTopConfig(ctx context.Context, row domain.RankedConfig) error {
	cfgJSON, err := json.Marshal(row.Config)
	if err != nil {
		return fmt.Errorf("storage.SaveTopConfig: marshal config: %w", err)
	}

	m := row.Metrics
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO optimizer_run_top_configs
			(run_id, rank, score, config, trades, winrate, total_pnl_pct,
			 expectancy_pct, profit_factor, max_drawdown_pct, avg_duration_min)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, rank) DO UPDATE SET
			score = excluded.score, config = excluded.config,
			trades = excluded.trades, winrate = excluded.winrate,
			total_pnl_pct = excluded.total_pnl_pct,
			expectancy_pct = excluded.expectancy_pct,
			profit_factor = excluded.profit_factor,
			max_drawdown_pct = excluded.max_drawdown_pct,
			avg_duration_min = excluded.avg_duration_min`,
		row.RunID, row.Rank, row.Score, string(cfgJSON),
		m.Trades, m.Winrate, m.TotalPnLPct, m.ExpectancyPct,
		clampFinite(m.ProfitFactor), m.MaxDrawdownPct, m.AvgDurationMin,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTopConfig: %w", err)
	}
	return nil
}

// SaveAllConfig hace upsert de una fila del grid completo (opcional).
func (s *SQLiteStorage) SaveAllConfig(ctx context.Context, row domain.RankedConfig) error {
	metricsJSON, err := json.Marshal(row.Metrics)
	if err != nil {
		return fmt.Errorf("storage.SaveAllConfig: marshal metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO optimizer_run_configs (run_id, config, score, metrics)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, config) DO UPDATE SET
			score = excluded.score, metrics = excluded.metrics`,
		row.RunID, row.Config.ID(), row.Score, string(metricsJSON),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveAllConfig: %w", err)
	}
	return nil
}

// SaveOOSResult hace upsert de un resultado out-of-sample con clave (run_id, rank).
func (s *SQLiteStorage) SaveOOSResult(ctx context.Context, row domain.OOSResult) error {
	m := row.Metrics
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO optimizer_oos_results
			(run_id, rank, symbol, start_ts, end_ts, trades, winrate,
			 total_pnl_pct, expectancy_pct, profit_factor, max_drawdown_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, rank) DO UPDATE SET
			symbol = excluded.symbol, start_ts = excluded.start_ts, end_ts = excluded.end_ts,
			trades = excluded.trades, winrate = excluded.winrate,
			total_pnl_pct = excluded.total_pnl_pct,
			expectancy_pct = excluded.expectancy_pct,
			profit_factor = excluded.profit_factor,
			max_drawdown_pct = excluded.max_drawdown_pct`,
		row.RunID, row.Rank, row.Symbol, row.StartTs, row.EndTs,
		m.Trades, m.Winrate, m.TotalPnLPct, m.ExpectancyPct,
		clampFinite(m.ProfitFactor), m.MaxDrawdownPct,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOOSResult: %w", err)
	}
	return nil
}

// GetOptimizerRun devuelve la fila cabecera, o nil si no existe.
func (s *SQLiteStorage) GetOptimizerRun(ctx context.Context, runID string) (*domain.OptimizerRun, error) {
	var run domain.OptimizerRun
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, train_start_ts, train_end_ts, dd_limit_pct,
		       total_configs, valid_configs, created_ts
		FROM optimizer_runs WHERE id = ?`, runID,
	).Scan(&run.ID, &run.Symbol, &run.TrainStartTs, &run.TrainEndTs,
		&run.DDLimitPct, &run.TotalConfigs, &run.ValidConfigs, &run.CreatedTs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetOptimizerRun: %w", err)
	}
	return &run, nil
}

// GetTopConfigs devuelve las filas top ordenadas por rank ascendente.
func (s *SQLiteStorage) GetTopConfigs(ctx context.Context, runID string, limit int) ([]domain.RankedConfig, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, rank, score, config, trades, winrate, total_pnl_pct,
		       expectancy_pct, profit_factor, max_drawdown_pct, avg_duration_min
		FROM optimizer_run_top_configs
		WHERE run_id = ? ORDER BY rank ASC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.GetTopConfigs: %w", err)
	}
	defer rows.Close()

	var out []domain.RankedConfig
	for rows.Next() {
		var rc domain.RankedConfig
		var cfgJSON string
		if err := rows.Scan(&rc.RunID, &rc.Rank, &rc.Score, &cfgJSON,
			&rc.Metrics.Trades, &rc.Metrics.Winrate, &rc.Metrics.TotalPnLPct,
			&rc.Metrics.ExpectancyPct, &rc.Metrics.ProfitFactor,
			&rc.Metrics.MaxDrawdownPct, &rc.Metrics.AvgDurationMin); err != nil {
			return nil, fmt.Errorf("storage.GetTopConfigs: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(cfgJSON), &rc.Config); err != nil {
			return nil, fmt.Errorf("storage.GetTopConfigs: unmarshal config rank=%d: %w", rc.Rank, err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// clampFinite acota un profit factor infinito (solo winners) a un valor
// representable en la columna REAL.
func clampFinite(pf float64) float64 {
	if pf > 999 {
		return 999
	}
	return pf
}
