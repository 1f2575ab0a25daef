package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchange sirve velas sintéticas desde un mapa por timeframe y
// registra los rangos pedidos para inspeccionar la paginación.
type fakeExchange struct {
	candles  map[int][]domain.Candle
	requests []fetchReq
	failAt   int // índice de request que falla (-1 = nunca)
}

type fetchReq struct {
	tf       int
	start    int64
	end      int64
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{candles: map[int][]domain.Candle{}, failAt: -1}
}

func (f *fakeExchange) seed(tf int, startTs int64, n int) {
	for i := 0; i < n; i++ {
		ts := startTs + int64(i*tf)*timeutil.MinuteMs
		px := 100 + float64(i)
		f.candles[tf] = append(f.candles[tf], domain.Candle{
			Symbol: "BTC-PERPETUAL", TimeframeMin: tf, Ts: ts,
			Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 10,
		})
	}
}

func (f *fakeExchange) FetchCandles(_ context.Context, _ string, tf int, startTs, endTs int64, limit int) ([]domain.Candle, error) {
	f.requests = append(f.requests, fetchReq{tf: tf, start: startTs, end: endTs})
	if f.failAt >= 0 && len(f.requests)-1 == f.failAt {
		return nil, errors.New("synthetic exchange failure")
	}

	var out []domain.Candle
	for _, c := range f.candles[tf] {
		if c.Ts >= startTs && c.Ts <= endTs {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeExchange) StreamTrades(context.Context, string) (<-chan domain.TradeTick, error) {
	return nil, errors.New("no stream in tests")
}

func newTestEngine(t *testing.T, ex *fakeExchange, tfs []int) (*Engine, *storage.SQLiteStorage) {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := New(Config{
		Symbol:     "BTC-PERPETUAL",
		Timeframes: tfs,
		BatchLimit: 100,
	}, ex, db, nil)
	return eng, db
}

func TestBackfill_PersistsAndIsIdempotent(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	ex := newFakeExchange()
	ex.seed(1, base, 120)
	eng, db := newTestEngine(t, ex, []int{1})

	end := base + 120*timeutil.MinuteMs
	require.NoError(t, eng.Backfill(context.Background(), base, end))

	got, err := db.GetCandles(context.Background(), "BTC-PERPETUAL", 1, base, end, 0)
	require.NoError(t, err)
	assert.Len(t, got, 120)

	// Segundo backfill del mismo rango: mismas filas, cero duplicados.
	require.NoError(t, eng.Backfill(context.Background(), base, end))
	got, err = db.GetCandles(context.Background(), "BTC-PERPETUAL", 1, base, end, 0)
	require.NoError(t, err)
	assert.Len(t, got, 120)
}

func TestBackfill_EmptyRange(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeExchange(), []int{1})
	err := eng.Backfill(context.Background(), 1000, 1000)
	require.Error(t, err)
}

func TestCatchUp_OnlyClosedCandles(t *testing.T) {
	// now cae en mitad de una vela de 5m: la vela del boundary actual y la
	// anterior a cerrar no deben persistirse... solo hasta floor(now)−tf.
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	now := base + 62*timeutil.MinuteMs + 30_000 // 01:02:30

	ex := newFakeExchange()
	ex.seed(5, base, 24) // hasta 01:55
	eng, db := newTestEngine(t, ex, []int{5})
	eng.now = func() int64 { return now }

	eng.catchUpAll(context.Background())

	maxTs, ok, err := db.MaxCandleTs(context.Background(), "BTC-PERPETUAL", 5)
	require.NoError(t, err)
	require.True(t, ok)
	// floor(01:02:30, 5m) = 01:00; endSafe = 00:55.
	wantMax := base + 55*timeutil.MinuteMs
	assert.Equal(t, wantMax, maxTs)
}

func TestCatchUp_ResumesFromMaxStored(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	ex := newFakeExchange()
	ex.seed(1, base, 60)
	eng, db := newTestEngine(t, ex, []int{1})
	eng.now = func() int64 { return base + 50*timeutil.MinuteMs }

	// Pre-cargar las primeras 30 velas a mano.
	_, err := db.UpsertCandles(context.Background(), ex.candles[1][:30])
	require.NoError(t, err)

	ex.requests = nil
	eng.catchUpAll(context.Background())

	require.NotEmpty(t, ex.requests)
	// El primer fetch arranca en max+tf, no en el lookback de bootstrap.
	assert.Equal(t, base+30*timeutil.MinuteMs, ex.requests[0].start)

	maxTs, ok, err := db.MaxCandleTs(context.Background(), "BTC-PERPETUAL", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base+49*timeutil.MinuteMs, maxTs) // endSafe = now−1m
}

func TestCatchUp_UpToDateFetchesNothing(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	ex := newFakeExchange()
	ex.seed(1, base, 10)
	eng, db := newTestEngine(t, ex, []int{1})
	eng.now = func() int64 { return base + 10*timeutil.MinuteMs + 30_000 }

	_, err := db.UpsertCandles(context.Background(), ex.candles[1])
	require.NoError(t, err)

	ex.requests = nil
	eng.catchUpAll(context.Background())
	assert.Empty(t, ex.requests)
}

func TestPageRange_ErrorAdvancesWindow(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	ex := newFakeExchange()
	ex.seed(1, base, 300)
	ex.failAt = 0 // la primera página falla
	eng, db := newTestEngine(t, ex, []int{1})

	end := base + 300*timeutil.MinuteMs
	require.NoError(t, eng.pageRange(context.Background(), 1, base, end))

	// La ventana fallida (100 velas con BatchLimit=100) se salta; el resto
	// del rango sí se persiste.
	got, err := db.GetCandles(context.Background(), "BTC-PERPETUAL", 1, base, end, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Greater(t, got[0].Ts, base+100*timeutil.MinuteMs-timeutil.MinuteMs)
	require.GreaterOrEqual(t, len(ex.requests), 2)
}

func TestNormalize_DropsBadYearAndAligns(t *testing.T) {
	eng, _ := newTestEngine(t, newFakeExchange(), []int{5})

	good := time.Date(2024, 3, 1, 0, 2, 0, 0, time.UTC).UnixMilli() // desalineada
	ancient := time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	out := eng.normalize([]domain.Candle{
		{Ts: good, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
		{Ts: ancient, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
	}, 5)

	require.Len(t, out, 1)
	assert.Equal(t, timeutil.FloorMinutes(good, 5), out[0].Ts)
	assert.Equal(t, "BTC-PERPETUAL", out[0].Symbol)
	assert.Equal(t, 5, out[0].TimeframeMin)
}
