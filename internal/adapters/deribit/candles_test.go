package deribit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alejandrodnm/perpbot/internal/adapters/deribit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCandles_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/get_tradingview_chart_data", r.URL.Path)
		assert.Equal(t, "BTC-PERPETUAL", r.URL.Query().Get("instrument_name"))
		assert.Equal(t, "5", r.URL.Query().Get("resolution"))

		w.Header().Set("Content-Type", "application/json")
		// Los ticks llegan desordenados a propósito: el adapter los ordena.
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"status": "ok",
				"ticks":  []int64{1709251500000, 1709251200000},
				"open":   []float64{101, 100},
				"high":   []float64{102, 101},
				"low":    []float64{100, 99},
				"close":  []float64{101.5, 100.5},
				"volume": []float64{12, 10},
			},
		})
	}))
	defer srv.Close()

	client := deribit.NewClient(srv.URL, "")
	candles, err := client.FetchCandles(context.Background(), "BTC-PERPETUAL", 5, 1709251200000, 1709251800000, 100)

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1709251200000), candles[0].Ts)
	assert.Equal(t, int64(1709251500000), candles[1].Ts)
	assert.Equal(t, 5, candles[0].TimeframeMin)
	assert.Equal(t, "deribit", candles[0].Source)
	assert.InDelta(t, 100.5, candles[0].Close, 1e-9)
	for _, c := range candles {
		assert.True(t, c.Aligned())
		assert.True(t, c.Valid())
	}
}

func TestFetchCandles_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"status": "no_data"},
		})
	}))
	defer srv.Close()

	client := deribit.NewClient(srv.URL, "")
	candles, err := client.FetchCandles(context.Background(), "BTC-PERPETUAL", 1, 0, 1000, 10)
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestFetchCandles_RaggedArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"status": "ok",
				"ticks":  []int64{1709251200000, 1709251260000},
				"open":   []float64{100},
				"high":   []float64{101, 102},
				"low":    []float64{99, 100},
				"close":  []float64{100.5, 101.5},
				"volume": []float64{10, 11},
			},
		})
	}))
	defer srv.Close()

	client := deribit.NewClient(srv.URL, "")
	_, err := client.FetchCandles(context.Background(), "BTC-PERPETUAL", 1, 0, 1709251300000, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ragged")
}

func TestFetchCandles_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 10001, "message": "invalid instrument"},
		})
	}))
	defer srv.Close()

	client := deribit.NewClient(srv.URL, "")
	_, err := client.FetchCandles(context.Background(), "NOPE", 1, 0, 1000, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid instrument")
}

func TestFetchCandles_LimitTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"status": "ok",
				"ticks":  []int64{1709251200000, 1709251260000, 1709251320000},
				"open":   []float64{100, 101, 102},
				"high":   []float64{101, 102, 103},
				"low":    []float64{99, 100, 101},
				"close":  []float64{100.5, 101.5, 102.5},
				"volume": []float64{10, 11, 12},
			},
		})
	}))
	defer srv.Close()

	client := deribit.NewClient(srv.URL, "")
	candles, err := client.FetchCandles(context.Background(), "BTC-PERPETUAL", 1, 0, 1709251400000, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1709251260000), candles[1].Ts)
}
