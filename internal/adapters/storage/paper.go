package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

const paperSchema = `
CREATE TABLE IF NOT EXISTS paper_runs (
    id               TEXT PRIMARY KEY,
    symbol           TEXT    NOT NULL,
    timeframe_min    INTEGER NOT NULL DEFAULT 1,
    status           TEXT    NOT NULL DEFAULT 'running',
    optimizer_run_id TEXT    NOT NULL DEFAULT '',
    created_ts       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS paper_configs (
    id          TEXT PRIMARY KEY,
    run_id      TEXT    NOT NULL,
    rank        INTEGER NOT NULL,
    config      TEXT    NOT NULL, -- StrategyConfig JSON, inmutable
    is_active   INTEGER NOT NULL DEFAULT 1,
    kill_reason TEXT    NOT NULL DEFAULT '',
    UNIQUE (run_id, rank)
);

CREATE TABLE IF NOT EXISTS paper_accounts (
    run_id           TEXT NOT NULL,
    paper_config_id  TEXT NOT NULL,
    balance_start    REAL NOT NULL,
    balance          REAL NOT NULL,
    equity           REAL NOT NULL,
    max_equity       REAL NOT NULL,
    max_drawdown_pct REAL NOT NULL DEFAULT 0,
    open_positions   TEXT NOT NULL DEFAULT '{}', -- OpenPositions JSON
    trades_count     INTEGER NOT NULL DEFAULT 0,
    wins_count       INTEGER NOT NULL DEFAULT 0,
    losses_count     INTEGER NOT NULL DEFAULT 0,
    gross_win_abs    REAL NOT NULL DEFAULT 0,
    gross_loss_abs   REAL NOT NULL DEFAULT 0,
    profit_factor    REAL NOT NULL DEFAULT 0,
    last_candle_ts   INTEGER,
    PRIMARY KEY (run_id, paper_config_id)
);

CREATE TABLE IF NOT EXISTS paper_trades (
    id        TEXT    NOT NULL,
    run_id    TEXT    NOT NULL,
    config_id TEXT    NOT NULL,
    opened_ts INTEGER NOT NULL,
    side      TEXT    NOT NULL,
    entry     REAL    NOT NULL,
    size      REAL    NOT NULL,
    sl        REAL    NOT NULL,
    tp        REAL    NOT NULL,
    closed_ts INTEGER,
    exit      REAL,
    pnl_pct   REAL,
    pnl_abs   REAL,
    fees_abs  REAL,
    result    TEXT,
    meta      TEXT NOT NULL DEFAULT '{}',
    UNIQUE (run_id, config_id, opened_ts, side, entry)
);

CREATE TABLE IF NOT EXISTS paper_equity_snapshots (
    run_id    TEXT    NOT NULL,
    config_id TEXT    NOT NULL,
    ts        INTEGER NOT NULL,
    equity    REAL    NOT NULL,
    balance   REAL    NOT NULL,
    dd_pct    REAL    NOT NULL,
    PRIMARY KEY (run_id, config_id, ts)
);

-- Append-only: auditoría de kills, checkpoints correctivos, paradas.
CREATE TABLE IF NOT EXISTS paper_events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id    TEXT    NOT NULL,
    config_id TEXT    NOT NULL DEFAULT '',
    ts        INTEGER NOT NULL,
    level     TEXT    NOT NULL DEFAULT 'info',
    kind      TEXT    NOT NULL,
    message   TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_paper_trades_run  ON paper_trades(run_id, config_id, opened_ts);
CREATE INDEX IF NOT EXISTS idx_paper_events_run  ON paper_events(run_id, ts);
`

// CreatePaperRun inserta la fila del run.
func (s *SQLiteStorage) CreatePaperRun(ctx context.Context, run *domain.PaperRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_runs (id, symbol, timeframe_min, status, optimizer_run_id, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.TimeframeMin, string(run.Status), run.OptimizerRunID, run.CreatedTs,
	)
	if err != nil {
		return fmt.Errorf("storage.CreatePaperRun: %w", err)
	}
	return nil
}

// GetPaperRun devuelve el run, o nil si no existe.
func (s *SQLiteStorage) GetPaperRun(ctx context.Context, runID string) (*domain.PaperRun, error) {
	var run domain.PaperRun
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, timeframe_min, status, optimizer_run_id, created_ts
		FROM paper_runs WHERE id = ?`, runID,
	).Scan(&run.ID, &run.Symbol, &run.TimeframeMin, &status, &run.OptimizerRunID, &run.CreatedTs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetPaperRun: %w", err)
	}
	run.Status = domain.PaperRunStatus(status)
	return &run, nil
}

// UpdatePaperRunStatus cambia el estado del run (running/stopped/finished).
func (s *SQLiteStorage) UpdatePaperRunStatus(ctx context.Context, runID string, status domain.PaperRunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE paper_runs SET status = ? WHERE id = ?`, string(status), runID)
	if err != nil {
		return fmt.Errorf("storage.UpdatePaperRunStatus: %w", err)
	}
	return nil
}

// SavePaperConfig hace upsert de una config rankeada, única por (run_id, rank).
func (s *SQLiteStorage) SavePaperConfig(ctx context.Context, cfg *domain.PaperConfig) error {
	cfgJSON, err := json.Marshal(cfg.Config)
	if err != nil {
		return fmt.Errorf("storage.SavePaperConfig: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paper_configs (id, run_id, rank, config, is_active, kill_reason)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, rank) DO UPDATE SET
			is_active = excluded.is_active, kill_reason = excluded.kill_reason`,
		cfg.ID, cfg.RunID, cfg.Rank, string(cfgJSON), boolInt(cfg.IsActive), cfg.KillReason,
	)
	if err != nil {
		return fmt.Errorf("storage.SavePaperConfig: %w", err)
	}
	return nil
}

// GetPaperConfigs devuelve las configs del run, ordenadas por rank.
func (s *SQLiteStorage) GetPaperConfigs(ctx context.Context, runID string, activeOnly bool) ([]domain.PaperConfig, error) {
	q := `SELECT id, run_id, rank, config, is_active, kill_reason
	      FROM paper_configs WHERE run_id = ?`
	if activeOnly {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY rank ASC`

	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetPaperConfigs: %w", err)
	}
	defer rows.Close()

	var out []domain.PaperConfig
	for rows.Next() {
		var pc domain.PaperConfig
		var cfgJSON string
		var active int
		if err := rows.Scan(&pc.ID, &pc.RunID, &pc.Rank, &cfgJSON, &active, &pc.KillReason); err != nil {
			return nil, fmt.Errorf("storage.GetPaperConfigs: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(cfgJSON), &pc.Config); err != nil {
			return nil, fmt.Errorf("storage.GetPaperConfigs: unmarshal rank=%d: %w", pc.Rank, err)
		}
		pc.IsActive = active == 1
		out = append(out, pc)
	}
	return out, rows.Err()
}

// DeactivatePaperConfig marca la config como muerta con su razón.
func (s *SQLiteStorage) DeactivatePaperConfig(ctx context.Context, configID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE paper_configs SET is_active = 0, kill_reason = ? WHERE id = ?`,
		reason, configID,
	)
	if err != nil {
		return fmt.Errorf("storage.DeactivatePaperConfig: %w", err)
	}
	return nil
}

// UpsertPaperAccount persiste el checkpoint completo de la cuenta.
func (s *SQLiteStorage) UpsertPaperAccount(ctx context.Context, acc *domain.PaperAccount) error {
	openJSON, err := json.Marshal(acc.Open)
	if err != nil {
		return fmt.Errorf("storage.UpsertPaperAccount: marshal positions: %w", err)
	}

	var lastTs any
	if acc.LastCandleTs != nil {
		lastTs = *acc.LastCandleTs
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paper_accounts
			(run_id, paper_config_id, balance_start, balance, equity, max_equity,
			 max_drawdown_pct, open_positions, trades_count, wins_count, losses_count,
			 gross_win_abs, gross_loss_abs, profit_factor, last_candle_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, paper_config_id) DO UPDATE SET
			balance = excluded.balance, equity = excluded.equity,
			max_equity = excluded.max_equity,
			max_drawdown_pct = excluded.max_drawdown_pct,
			open_positions = excluded.open_positions,
			trades_count = excluded.trades_count,
			wins_count = excluded.wins_count, losses_count = excluded.losses_count,
			gross_win_abs = excluded.gross_win_abs,
			gross_loss_abs = excluded.gross_loss_abs,
			profit_factor = excluded.profit_factor,
			last_candle_ts = excluded.last_candle_ts`,
		acc.RunID, acc.ConfigID, acc.BalanceStart, acc.Balance, acc.Equity, acc.MaxEquity,
		acc.MaxDrawdownPct, string(openJSON), acc.TradesCount, acc.WinsCount, acc.LossesCount,
		acc.GrossWinAbs, acc.GrossLossAbs, acc.ProfitFactor, lastTs,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertPaperAccount: %w", err)
	}
	return nil
}

// GetPaperAccount devuelve la cuenta, o nil si aún no existe checkpoint.
func (s *SQLiteStorage) GetPaperAccount(ctx context.Context, runID, configID string) (*domain.PaperAccount, error) {
	var acc domain.PaperAccount
	var openJSON string
	var lastTs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, paper_config_id, balance_start, balance, equity, max_equity,
		       max_drawdown_pct, open_positions, trades_count, wins_count, losses_count,
		       gross_win_abs, gross_loss_abs, profit_factor, last_candle_ts
		FROM paper_accounts WHERE run_id = ? AND paper_config_id = ?`,
		runID, configID,
	).Scan(&acc.RunID, &acc.ConfigID, &acc.BalanceStart, &acc.Balance, &acc.Equity,
		&acc.MaxEquity, &acc.MaxDrawdownPct, &openJSON, &acc.TradesCount,
		&acc.WinsCount, &acc.LossesCount, &acc.GrossWinAbs, &acc.GrossLossAbs,
		&acc.ProfitFactor, &lastTs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetPaperAccount: %w", err)
	}

	if err := json.Unmarshal([]byte(openJSON), &acc.Open); err != nil {
		return nil, fmt.Errorf("storage.GetPaperAccount: unmarshal positions: %w", err)
	}
	if lastTs.Valid {
		v := lastTs.Int64
		acc.LastCandleTs = &v
	}
	return &acc, nil
}

// InsertPaperTrade inserta el trade si no existía. Idempotente sobre
// (run_id, config_id, opened_ts, side, entry): si la fila ya existe,
// devuelve el id previo sin tocar nada.
func (s *SQLiteStorage) InsertPaperTrade(ctx context.Context, t *domain.Trade) (string, error) {
	metaJSON, err := json.Marshal(t.Meta)
	if err != nil {
		return "", fmt.Errorf("storage.InsertPaperTrade: marshal meta: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_trades (id, run_id, config_id, opened_ts, side, entry, size, sl, tp, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, config_id, opened_ts, side, entry) DO NOTHING`,
		t.ID, t.RunID, t.ConfigID, t.OpenedTs, string(t.Side), t.Entry, t.Size,
		t.StopLoss, t.TakeProf, string(metaJSON),
	)
	if err != nil {
		return "", fmt.Errorf("storage.InsertPaperTrade: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return t.ID, nil
	}

	// Conflicto: leer el id existente (semántica de idempotencia).
	var existing string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM paper_trades
		WHERE run_id = ? AND config_id = ? AND opened_ts = ? AND side = ? AND entry = ?`,
		t.RunID, t.ConfigID, t.OpenedTs, string(t.Side), t.Entry,
	).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("storage.InsertPaperTrade: fetch existing: %w", err)
	}
	return existing, nil
}

// ClosePaperTrade escribe el exit, pnl, fees y resultado del trade.
func (s *SQLiteStorage) ClosePaperTrade(ctx context.Context, t *domain.Trade) error {
	metaJSON, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("storage.ClosePaperTrade: marshal meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE paper_trades
		SET closed_ts = ?, exit = ?, pnl_pct = ?, pnl_abs = ?, fees_abs = ?, result = ?, meta = ?
		WHERE id = ?`,
		derefI64(t.ClosedTs), derefF64(t.Exit), derefF64(t.PnLPct), derefF64(t.PnLAbs),
		derefF64(t.FeesAbs), derefResult(t.Result), string(metaJSON), t.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.ClosePaperTrade: %w", err)
	}
	return nil
}

// UpsertEquitySnapshot persiste un snapshot, único por (run, config, ts).
func (s *SQLiteStorage) UpsertEquitySnapshot(ctx context.Context, snap domain.EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_equity_snapshots (run_id, config_id, ts, equity, balance, dd_pct)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, config_id, ts) DO UPDATE SET
			equity = excluded.equity, balance = excluded.balance, dd_pct = excluded.dd_pct`,
		snap.RunID, snap.ConfigID, snap.Ts, snap.Equity, snap.Balance, snap.DDPct,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertEquitySnapshot: %w", err)
	}
	return nil
}

// AppendPaperEvent añade una fila de auditoría (nunca se actualiza).
func (s *SQLiteStorage) AppendPaperEvent(ctx context.Context, ev domain.PaperEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_events (run_id, config_id, ts, level, kind, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.ConfigID, ev.Ts, ev.Level, ev.Kind, ev.Message,
	)
	if err != nil {
		return fmt.Errorf("storage.AppendPaperEvent: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func derefI64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func derefF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func derefResult(p *domain.TradeResult) any {
	if p == nil {
		return nil
	}
	return string(*p)
}
