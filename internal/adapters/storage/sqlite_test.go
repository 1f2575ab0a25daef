package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTs() int64 {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
}

func makeCandle(ts int64, tf int, close float64) domain.Candle {
	return domain.Candle{
		Symbol:       "BTC-PERPETUAL",
		TimeframeMin: tf,
		Ts:           ts,
		Open:         close - 1,
		High:         close + 2,
		Low:          close - 2,
		Close:        close,
		Volume:       10,
		Source:       "fixture",
	}
}

func TestUpsertCandles_Idempotent(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	candles := []domain.Candle{
		makeCandle(baseTs(), 1, 100),
		makeCandle(timeutil.AddMinutes(baseTs(), 1), 1, 101),
		makeCandle(timeutil.AddMinutes(baseTs(), 2), 1, 102),
	}

	inserted, err := db.UpsertCandles(ctx, candles)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	// Repetir el mismo rango no inserta filas nuevas.
	inserted, err = db.UpsertCandles(ctx, candles)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	got, err := db.GetCandles(ctx, "BTC-PERPETUAL", 1, baseTs(), timeutil.AddMinutes(baseTs(), 10), 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Orden ascendente y alineación al boundary.
	for i, c := range got {
		assert.Equal(t, timeutil.FloorMinutes(c.Ts, c.TimeframeMin), c.Ts)
		if i > 0 {
			assert.Greater(t, c.Ts, got[i-1].Ts)
		}
	}
}

func TestUpsertCandles_ConflictRefreshesValues(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	c := makeCandle(baseTs(), 5, 100)
	_, err = db.UpsertCandles(ctx, []domain.Candle{c})
	require.NoError(t, err)

	c.Close = 123
	_, err = db.UpsertCandles(ctx, []domain.Candle{c})
	require.NoError(t, err)

	got, err := db.GetCandles(ctx, "BTC-PERPETUAL", 5, baseTs(), baseTs(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 123.0, got[0].Close, 1e-9)
}

func TestMaxCandleTs(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, ok, err := db.MaxCandleTs(ctx, "BTC-PERPETUAL", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	last := timeutil.AddMinutes(baseTs(), 5)
	_, err = db.UpsertCandles(ctx, []domain.Candle{
		makeCandle(baseTs(), 1, 100),
		makeCandle(last, 1, 105),
	})
	require.NoError(t, err)

	ts, ok, err := db.MaxCandleTs(ctx, "BTC-PERPETUAL", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, last, ts)
}

func TestUpsertState_RoundTrip(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	atr := 12.5
	ph := 50_200.0
	st := &domain.TimeframeState{
		Symbol:        "BTC-PERPETUAL",
		TimeframeMin:  15,
		Ts:            baseTs(),
		Trend:         domain.TrendUp,
		ATR:           &atr,
		LastPivotHigh: &ph,
		BOS:           domain.EventBOSUp,
		PivotLength:   2,
		PivotHighs:    4,
		PivotLows:     3,
		CandleCount:   120,
	}
	require.NoError(t, db.UpsertState(ctx, st))
	// Reescribir el mismo (symbol, tf, ts) no debe fallar.
	require.NoError(t, db.UpsertState(ctx, st))

	got, err := db.GetLatestState(ctx, "BTC-PERPETUAL", 15)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.TrendUp, got.Trend)
	require.NotNil(t, got.ATR)
	assert.InDelta(t, 12.5, *got.ATR, 1e-9)
	require.NotNil(t, got.LastPivotHigh)
	assert.InDelta(t, 50_200.0, *got.LastPivotHigh, 1e-9)
	assert.Nil(t, got.LastPivotLow)
	assert.Equal(t, domain.EventBOSUp, got.BOS)
}

func TestGetLatestState_Empty(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetLatestState(context.Background(), "BTC-PERPETUAL", 60)
	require.NoError(t, err)
	assert.Nil(t, got)
}
