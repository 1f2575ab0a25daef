package ports

import (
	"context"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// CandleStorage persiste y consulta velas. Única escritora: el ingest engine.
type CandleStorage interface {
	// UpsertCandles inserta las velas con ON CONFLICT(symbol, timeframe_min, ts)
	// DO UPDATE. Devuelve cuántas filas eran nuevas.
	UpsertCandles(ctx context.Context, candles []domain.Candle) (int, error)

	// GetCandles devuelve las velas de [startTs, endTs] ascendentes por ts,
	// como máximo limit (0 = sin límite).
	GetCandles(ctx context.Context, symbol string, tfMin int, startTs, endTs int64, limit int) ([]domain.Candle, error)

	// MaxCandleTs devuelve el ts máximo almacenado para (symbol, tf),
	// ok=false si no hay velas.
	MaxCandleTs(ctx context.Context, symbol string, tfMin int) (int64, bool, error)
}

// StateStorage persiste snapshots de TimeframeState. Única escritora: el
// state builder.
type StateStorage interface {
	UpsertState(ctx context.Context, state *domain.TimeframeState) error
	GetLatestState(ctx context.Context, symbol string, tfMin int) (*domain.TimeframeState, error)
}
