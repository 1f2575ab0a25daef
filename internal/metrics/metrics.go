// Package metrics expone los contadores Prometheus del bot. Se registran en
// init() y se sirven en /metrics cuando METRICS_ADDR está configurado.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CandlesIngested cuenta velas upserted por timeframe.
	CandlesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_candles_ingested_total",
			Help: "Candles upserted into the store",
		},
		[]string{"timeframe"},
	)

	// IngestErrors cuenta fallos de fetch/upsert por timeframe.
	IngestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_ingest_errors_total",
			Help: "Ingest page failures",
		},
		[]string{"timeframe"},
	)

	// TradeTicks cuenta trades vistos en el stream del exchange.
	TradeTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perpbot_trade_ticks_total",
			Help: "Trades observed on the exchange stream",
		},
	)

	// LastTradePrice es el último precio visto en el stream.
	LastTradePrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpbot_last_trade_price",
			Help: "Last traded price from the exchange stream",
		},
	)

	// PaperCandles cuenta velas procesadas por cuenta (rank como label).
	PaperCandles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_paper_candles_total",
			Help: "Candles processed per paper account",
		},
		[]string{"rank"},
	)

	// PaperEquity es la equity actual por cuenta.
	PaperEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpbot_paper_equity",
			Help: "Mark-to-market equity per paper account",
		},
		[]string{"rank"},
	)

	// PaperOpenPositions son las posiciones abiertas por cuenta.
	PaperOpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpbot_paper_open_positions",
			Help: "Open positions per paper account",
		},
		[]string{"rank"},
	)

	// PaperKills cuenta configs desactivadas por kill rule.
	PaperKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_paper_kills_total",
			Help: "Configs deactivated by kill rules",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		CandlesIngested, IngestErrors, TradeTicks, LastTradePrice,
		PaperCandles, PaperEquity, PaperOpenPositions, PaperKills,
	)
}

// Serve arranca el listener de /metrics en addr. No bloquea; addr vacío es no-op.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics listener starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics listener stopped", "err", err)
		}
	}()
}
