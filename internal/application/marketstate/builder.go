package marketstate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/ports"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
)

// lookbackCandles is how many closed candles feed one state computation.
// Enough for ATR(14) plus a healthy pivot history.
const lookbackCandles = 200

// Compute derives the full TimeframeState from a closed-candle window.
// Pure function: the same prefix always yields byte-identical state.
// Returns nil on an empty window.
func Compute(symbol string, tfMin int, candles []domain.Candle) *domain.TimeframeState {
	if len(candles) == 0 {
		return nil
	}
	last := candles[len(candles)-1]

	highs := PivotHighs(candles)
	lows := PivotLows(candles)
	trend := TrendFromPivots(highs, lows)

	var lastHigh, lastLow *float64
	if len(highs) > 0 {
		lastHigh = &highs[len(highs)-1].Price
	}
	if len(lows) > 0 {
		lastLow = &lows[len(lows)-1].Price
	}

	bos, choch := StructureEvents(trend, last.Close, lastHigh, lastLow)

	return &domain.TimeframeState{
		Symbol:        symbol,
		TimeframeMin:  tfMin,
		Ts:            last.Ts,
		Trend:         trend,
		ATR:           ATR(candles),
		LastPivotHigh: lastHigh,
		LastPivotLow:  lastLow,
		BOS:           bos,
		CHoCH:         choch,
		PivotLength:   PivotLength,
		PivotHighs:    len(highs),
		PivotLows:     len(lows),
		CandleCount:   len(candles),
	}
}

// Builder recomputes and persists per-timeframe states as new closed candles
// arrive. It is the sole writer of timeframe_state rows.
type Builder struct {
	candles ports.CandleStorage
	states  ports.StateStorage
	symbol  string
}

// NewBuilder creates a Builder for one symbol.
func NewBuilder(candles ports.CandleStorage, states ports.StateStorage, symbol string) *Builder {
	return &Builder{candles: candles, states: states, symbol: symbol}
}

// Refresh recomputes the state for one timeframe from the latest stored
// candles and upserts it. No-op when no candles exist or when the latest
// candle is not newer than the persisted state.
func (b *Builder) Refresh(ctx context.Context, tfMin int) error {
	maxTs, ok, err := b.candles.MaxCandleTs(ctx, b.symbol, tfMin)
	if err != nil {
		return fmt.Errorf("marketstate.Refresh: max ts tf=%d: %w", tfMin, err)
	}
	if !ok {
		return nil
	}

	prev, err := b.states.GetLatestState(ctx, b.symbol, tfMin)
	if err != nil {
		return fmt.Errorf("marketstate.Refresh: latest state tf=%d: %w", tfMin, err)
	}
	if prev != nil && prev.Ts >= maxTs {
		return nil // monotonic: never move backwards
	}

	from := maxTs - int64(lookbackCandles*tfMin)*timeutil.MinuteMs
	candles, err := b.candles.GetCandles(ctx, b.symbol, tfMin, from, maxTs, 0)
	if err != nil {
		return fmt.Errorf("marketstate.Refresh: load candles tf=%d: %w", tfMin, err)
	}

	state := Compute(b.symbol, tfMin, candles)
	if state == nil {
		return nil
	}
	if err := b.states.UpsertState(ctx, state); err != nil {
		return fmt.Errorf("marketstate.Refresh: upsert tf=%d: %w", tfMin, err)
	}

	slog.Debug("state refreshed",
		"symbol", b.symbol, "tf", tfMin,
		"ts", timeutil.FormatISO(state.Ts),
		"trend", state.Trend, "bos", state.BOS, "choch", state.CHoCH,
	)
	return nil
}

// RefreshAll refreshes every timeframe, isolating failures per timeframe.
func (b *Builder) RefreshAll(ctx context.Context, timeframes []int) {
	for _, tf := range timeframes {
		if err := b.Refresh(ctx, tf); err != nil {
			slog.Warn("state refresh failed", "symbol", b.symbol, "tf", tf, "err", err)
		}
	}
}
