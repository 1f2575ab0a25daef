package storage

// sqlite.go — almacén único del sistema sobre SQLite (pure Go, sin CGo).
//
// Estrategia:
//   - Una sola conexión escritora (SQLite es single-writer).
//   - Todas las tablas usan claves de conflicto naturales y UPSERT
//     (ON CONFLICT ... DO UPDATE): repetir un backfill o un checkpoint
//     es idempotente por construcción.
//   - Cada grupo de filas tiene un único proceso escritor (velas ← ingest,
//     estados ← state builder, cuentas ← paper runner), así que no hacen
//     falta locks más allá del mutex de la conexión.

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alejandrodnm/perpbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
    symbol        TEXT    NOT NULL,
    timeframe_min INTEGER NOT NULL,
    ts            INTEGER NOT NULL, -- epoch ms UTC, alineado al boundary
    open          REAL    NOT NULL,
    high          REAL    NOT NULL,
    low           REAL    NOT NULL,
    close         REAL    NOT NULL,
    volume        REAL    NOT NULL DEFAULT 0,
    source        TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (symbol, timeframe_min, ts)
);

CREATE TABLE IF NOT EXISTS timeframe_state (
    symbol        TEXT    NOT NULL,
    timeframe_min INTEGER NOT NULL,
    ts            INTEGER NOT NULL,
    trend         TEXT    NOT NULL,
    atr           REAL,
    pivot_high    REAL,
    pivot_low     REAL,
    bos           TEXT    NOT NULL DEFAULT '',
    choch         TEXT    NOT NULL DEFAULT '',
    pivot_length  INTEGER NOT NULL DEFAULT 0,
    pivot_highs   INTEGER NOT NULL DEFAULT 0,
    pivot_lows    INTEGER NOT NULL DEFAULT 0,
    candle_count  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (symbol, timeframe_min, ts)
);

CREATE INDEX IF NOT EXISTS idx_candles_ts ON candles(symbol, timeframe_min, ts DESC);
`

// SQLiteStorage implementa todos los ports de persistencia sobre un archivo
// SQLite (o ":memory:" en tests).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos y aplica los schemas.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db}
	for _, sch := range []string{schema, optimizerSchema, paperSchema} {
		if _, err := db.Exec(sch); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
		}
	}
	return s, nil
}

// Close cierra la conexión limpiamente.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// UpsertCandles inserta o actualiza velas con clave (symbol, timeframe_min, ts).
// Devuelve cuántas filas eran nuevas (repetir un rango ya cubierto ⇒ 0).
func (s *SQLiteStorage) UpsertCandles(ctx context.Context, candles []domain.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage.UpsertCandles: begin: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx,
		`SELECT 1 FROM candles WHERE symbol = ? AND timeframe_min = ? AND ts = ?`)
	if err != nil {
		return 0, fmt.Errorf("storage.UpsertCandles: prepare exists: %w", err)
	}
	defer exists.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe_min, ts, open, high, low, close, volume, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe_min, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume, source = excluded.source`)
	if err != nil {
		return 0, fmt.Errorf("storage.UpsertCandles: prepare upsert: %w", err)
	}
	defer upsert.Close()

	inserted := 0
	for _, c := range candles {
		var one int
		err := exists.QueryRowContext(ctx, c.Symbol, c.TimeframeMin, c.Ts).Scan(&one)
		switch err {
		case sql.ErrNoRows:
			inserted++
		case nil:
			// ya existía — el upsert solo refresca valores
		default:
			return 0, fmt.Errorf("storage.UpsertCandles: exists check: %w", err)
		}

		if _, err := upsert.ExecContext(ctx,
			c.Symbol, c.TimeframeMin, c.Ts, c.Open, c.High, c.Low, c.Close, c.Volume, c.Source,
		); err != nil {
			return 0, fmt.Errorf("storage.UpsertCandles: upsert ts=%d: %w", c.Ts, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage.UpsertCandles: commit: %w", err)
	}
	return inserted, nil
}

// GetCandles devuelve velas de [startTs, endTs] ascendentes. limit 0 = todas.
func (s *SQLiteStorage) GetCandles(ctx context.Context, symbol string, tfMin int, startTs, endTs int64, limit int) ([]domain.Candle, error) {
	q := `SELECT symbol, timeframe_min, ts, open, high, low, close, volume, source
	      FROM candles
	      WHERE symbol = ? AND timeframe_min = ? AND ts >= ? AND ts <= ?
	      ORDER BY ts ASC`
	args := []any{symbol, tfMin, startTs, endTs}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.GetCandles: %w", err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Symbol, &c.TimeframeMin, &c.Ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source); err != nil {
			return nil, fmt.Errorf("storage.GetCandles: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MaxCandleTs devuelve el ts máximo almacenado para (symbol, tf).
func (s *SQLiteStorage) MaxCandleTs(ctx context.Context, symbol string, tfMin int) (int64, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND timeframe_min = ?`,
		symbol, tfMin,
	).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("storage.MaxCandleTs: %w", err)
	}
	return ts.Int64, ts.Valid, nil
}

// UpsertState persiste un snapshot con clave (symbol, timeframe_min, ts).
func (s *SQLiteStorage) UpsertState(ctx context.Context, st *domain.TimeframeState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timeframe_state
			(symbol, timeframe_min, ts, trend, atr, pivot_high, pivot_low, bos, choch,
			 pivot_length, pivot_highs, pivot_lows, candle_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe_min, ts) DO UPDATE SET
			trend = excluded.trend, atr = excluded.atr,
			pivot_high = excluded.pivot_high, pivot_low = excluded.pivot_low,
			bos = excluded.bos, choch = excluded.choch,
			pivot_length = excluded.pivot_length,
			pivot_highs = excluded.pivot_highs, pivot_lows = excluded.pivot_lows,
			candle_count = excluded.candle_count`,
		st.Symbol, st.TimeframeMin, st.Ts, string(st.Trend),
		nullFloat(st.ATR), nullFloat(st.LastPivotHigh), nullFloat(st.LastPivotLow),
		string(st.BOS), string(st.CHoCH),
		st.PivotLength, st.PivotHighs, st.PivotLows, st.CandleCount,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertState: %w", err)
	}
	return nil
}

// GetLatestState devuelve el snapshot más reciente para (symbol, tf), o nil.
func (s *SQLiteStorage) GetLatestState(ctx context.Context, symbol string, tfMin int) (*domain.TimeframeState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, timeframe_min, ts, trend, atr, pivot_high, pivot_low, bos, choch,
		       pivot_length, pivot_highs, pivot_lows, candle_count
		FROM timeframe_state
		WHERE symbol = ? AND timeframe_min = ?
		ORDER BY ts DESC LIMIT 1`,
		symbol, tfMin,
	)

	var st domain.TimeframeState
	var trend, bos, choch string
	var atr, ph, pl sql.NullFloat64
	err := row.Scan(&st.Symbol, &st.TimeframeMin, &st.Ts, &trend, &atr, &ph, &pl, &bos, &choch,
		&st.PivotLength, &st.PivotHighs, &st.PivotLows, &st.CandleCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetLatestState: %w", err)
	}

	st.Trend = domain.Trend(trend)
	st.BOS = domain.StructureEvent(bos)
	st.CHoCH = domain.StructureEvent(choch)
	st.ATR = floatPtr(atr)
	st.LastPivotHigh = floatPtr(ph)
	st.LastPivotLow = floatPtr(pl)
	return &st, nil
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
