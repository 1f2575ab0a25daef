package ports

import (
	"context"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// Exchange obtiene datos de mercado del exchange de perpetuos.
type Exchange interface {
	// FetchCandles devuelve velas cerradas en [startTs, endTs] (epoch ms),
	// ascendentes por ts, como máximo limit. Puede devolver slice vacío.
	FetchCandles(ctx context.Context, symbol string, tfMin int, startTs, endTs int64, limit int) ([]domain.Candle, error)

	// StreamTrades abre el stream de trades del instrumento y los publica en
	// el canal devuelto. El canal se cierra cuando el contexto se cancela.
	StreamTrades(ctx context.Context, symbol string) (<-chan domain.TradeTick, error)
}
