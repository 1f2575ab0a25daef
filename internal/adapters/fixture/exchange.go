// Package fixture implementa ports.Exchange con datos sintéticos
// deterministas. Se usa en modo dry-run para ejercitar todo el pipeline
// (ingesta, estados, paper) sin tocar el exchange real.
package fixture

import (
	"context"
	"math"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
)

const (
	basePrice = 50_000.0
	// waveAmp y wavePeriodMin definen una onda con swings suficientes para
	// que los pivots y triggers de estructura se disparen.
	waveAmp       = 1_500.0
	wavePeriodMin = 180.0
	driftPerDay   = 250.0
)

// Exchange genera velas OHLCV sintéticas, función pura del timestamp:
// dos llamadas con el mismo rango devuelven exactamente las mismas velas.
type Exchange struct {
	tickEvery time.Duration
}

// NewExchange crea el exchange sintético. tickEvery controla la cadencia
// del stream de trades simulado (<=0 lo desactiva).
func NewExchange(tickEvery time.Duration) *Exchange {
	return &Exchange{tickEvery: tickEvery}
}

// priceAt es la curva base: seno + drift lento, continua en el tiempo.
func priceAt(ts int64) float64 {
	minutes := float64(ts) / float64(timeutil.MinuteMs)
	wave := waveAmp * math.Sin(2*math.Pi*minutes/wavePeriodMin)
	drift := driftPerDay * minutes / (24 * 60)
	return basePrice + wave + math.Mod(drift, 10_000)
}

// FetchCandles genera velas alineadas para [startTs, endTs].
func (e *Exchange) FetchCandles(_ context.Context, symbol string, tfMin int, startTs, endTs int64, limit int) ([]domain.Candle, error) {
	step := int64(tfMin) * timeutil.MinuteMs
	var out []domain.Candle
	for ts := timeutil.FloorMinutes(startTs, tfMin); ts <= endTs; ts += step {
		if ts < startTs {
			continue
		}
		openPx := priceAt(ts)
		closePx := priceAt(ts + step - 1)
		// Muestrear el interior del bucket para high/low plausibles.
		high, low := math.Max(openPx, closePx), math.Min(openPx, closePx)
		for _, frac := range []float64{0.25, 0.5, 0.75} {
			p := priceAt(ts + int64(frac*float64(step)))
			high = math.Max(high, p)
			low = math.Min(low, p)
		}
		out = append(out, domain.Candle{
			Symbol:       symbol,
			TimeframeMin: tfMin,
			Ts:           ts,
			Open:         openPx,
			High:         high * 1.0005,
			Low:          low * 0.9995,
			Close:        closePx,
			Volume:       100 + 50*math.Abs(math.Sin(float64(ts))),
			Source:       "fixture",
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// StreamTrades emite un tick sintético por intervalo hasta que el contexto
// se cancele.
func (e *Exchange) StreamTrades(ctx context.Context, symbol string) (<-chan domain.TradeTick, error) {
	out := make(chan domain.TradeTick, 16)
	if e.tickEvery <= 0 {
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(e.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				ts := now.UTC().UnixMilli()
				side := "buy"
				if math.Sin(float64(ts)) < 0 {
					side = "sell"
				}
				out <- domain.TradeTick{
					Symbol: symbol,
					Ts:     ts,
					Price:  priceAt(ts),
					Amount: 0.1,
					Side:   side,
				}
			}
		}
	}()
	return out, nil
}
