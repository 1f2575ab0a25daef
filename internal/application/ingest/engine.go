package ingest

// ingest — mantiene el candle store al día con la última vela CERRADA de
// cada timeframe. Dos modos:
//
//   - Backfill: rango [start, end] dado por el caller; paginar, upsert, salir.
//   - Continuo: poll cada P segundos. Por timeframe, el final seguro es
//     floor(now, tf) − tf: la vela del boundary actual sigue abierta y no
//     se toca jamás.
//
// Decisión de cursor (documentada): con datos, el cursor avanza a
// última-vela + tf; con página vacía o error, avanza una ventana completa
// para no reintentar eternamente un rango malo.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/perpbot/internal/application/marketstate"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/metrics"
	"github.com/alejandrodnm/perpbot/internal/ports"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
)

const (
	// maxWindowMs acota cada fetch a 7 días.
	maxWindowMs = 7 * timeutil.DayMs
	// maxPages corta timeframes que no convergen (rango imposible).
	maxPages = 1000
	// defaultBatchLimit es el máximo de velas pedidas por página.
	defaultBatchLimit = 1000
	// bootstrapLookback: sin velas almacenadas, empezar 24h atrás.
	bootstrapLookback = 24 * 60
)

// Config parametriza el engine de ingesta.
type Config struct {
	Symbol       string
	Timeframes   []int // minutos: {1, 5, 15, 60}
	PollInterval time.Duration
	BatchLimit   int
	DryRun       bool // loggear sin escribir
}

// Engine es el único escritor de la tabla candles.
type Engine struct {
	cfg      Config
	exchange ports.Exchange
	store    ports.CandleStorage
	builder  *marketstate.Builder // refresca estados tras cada catch-up; puede ser nil
	now      func() int64         // inyectable en tests
}

// New crea un Engine. builder puede ser nil si nadie consume estados.
func New(cfg Config, exchange ports.Exchange, store ports.CandleStorage, builder *marketstate.Builder) *Engine {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []int{1, 5, 15, 60}
	}
	return &Engine{
		cfg:      cfg,
		exchange: exchange,
		store:    store,
		builder:  builder,
		now:      func() int64 { return time.Now().UTC().UnixMilli() },
	}
}

// Backfill pagina [startTs, endTs] para todos los timeframes y termina.
func (e *Engine) Backfill(ctx context.Context, startTs, endTs int64) error {
	if startTs >= endTs {
		return fmt.Errorf("ingest.Backfill: empty range [%s, %s)",
			timeutil.FormatISO(startTs), timeutil.FormatISO(endTs))
	}

	slog.Info("backfill starting",
		"symbol", e.cfg.Symbol, "timeframes", e.cfg.Timeframes,
		"start", timeutil.FormatISO(startTs), "end", timeutil.FormatISO(endTs))

	for _, tf := range e.cfg.Timeframes {
		from := timeutil.FloorMinutes(startTs, tf)
		to := timeutil.FloorMinutes(endTs, tf)
		if err := e.pageRange(ctx, tf, from, to); err != nil {
			// Aislamiento por timeframe: los demás siguen.
			slog.Error("backfill timeframe failed", "tf", tf, "err", err)
		}
	}
	slog.Info("backfill finished", "symbol", e.cfg.Symbol)
	return nil
}

// RunContinuous hace polling hasta que el contexto se cancele. También drena
// el stream de trades para observabilidad (último precio, throughput).
func (e *Engine) RunContinuous(ctx context.Context) error {
	slog.Info("ingest starting",
		"symbol", e.cfg.Symbol, "timeframes", e.cfg.Timeframes,
		"poll", e.cfg.PollInterval, "dry_run", e.cfg.DryRun)

	go e.drainTrades(ctx)

	e.catchUpAll(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest stopped")
			return nil
		case <-ticker.C:
			e.catchUpAll(ctx)
		}
	}
}

// CatchUpOnce ejecuta un único ciclo de catch-up y termina (flag -once).
func (e *Engine) CatchUpOnce(ctx context.Context) error {
	e.catchUpAll(ctx)
	return ctx.Err()
}

func (e *Engine) catchUpAll(ctx context.Context) {
	for _, tf := range e.cfg.Timeframes {
		if ctx.Err() != nil {
			return
		}
		if err := e.catchUp(ctx, tf); err != nil {
			metrics.IngestErrors.WithLabelValues(fmt.Sprint(tf)).Inc()
			slog.Warn("catch-up failed", "tf", tf, "err", err)
		}
	}
	if e.builder != nil {
		e.builder.RefreshAll(ctx, e.cfg.Timeframes)
	}
}

// catchUp avanza un timeframe hasta su última vela cerrada.
func (e *Engine) catchUp(ctx context.Context, tf int) error {
	now := e.now()
	// Última vela cerrada: el boundary actual sigue abierto.
	endSafe := timeutil.FloorMinutes(now, tf) - int64(tf)*timeutil.MinuteMs

	var start int64
	maxTs, ok, err := e.store.MaxCandleTs(ctx, e.cfg.Symbol, tf)
	if err != nil {
		return fmt.Errorf("ingest.catchUp: max ts: %w", err)
	}
	if ok {
		start = maxTs + int64(tf)*timeutil.MinuteMs
	} else {
		start = timeutil.FloorMinutes(now-bootstrapLookback*timeutil.MinuteMs, tf)
	}

	if start >= endSafe {
		return nil // al día
	}
	return e.pageRange(ctx, tf, start, endSafe)
}

// pageRange pagina [start, end] en ventanas acotadas y hace upsert.
func (e *Engine) pageRange(ctx context.Context, tf int, start, end int64) error {
	windowMs := int64(e.cfg.BatchLimit*tf) * timeutil.MinuteMs
	if windowMs > maxWindowMs {
		windowMs = maxWindowMs
	}

	cursor := start
	pages := 0
	for cursor <= end {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pages++
		if pages > maxPages {
			return fmt.Errorf("ingest.pageRange: tf=%d aborted after %d pages", tf, maxPages)
		}

		windowEnd := cursor + windowMs
		if windowEnd > end {
			windowEnd = end
		}

		batch, err := e.exchange.FetchCandles(ctx, e.cfg.Symbol, tf, cursor, windowEnd, e.cfg.BatchLimit)
		if err != nil {
			// Página fallida: avanzar una ventana para no ciclar en un
			// rango malo; el hueco se recupera en un backfill posterior.
			metrics.IngestErrors.WithLabelValues(fmt.Sprint(tf)).Inc()
			slog.Warn("fetch page failed", "tf", tf,
				"cursor", timeutil.FormatISO(cursor), "err", err)
			cursor = windowEnd + int64(tf)*timeutil.MinuteMs
			continue
		}

		if len(batch) > e.cfg.BatchLimit*2 {
			return fmt.Errorf("ingest.pageRange: tf=%d got %d candles for one page", tf, len(batch))
		}

		if len(batch) == 0 {
			slog.Debug("empty page", "tf", tf, "cursor", timeutil.FormatISO(cursor))
			cursor = windowEnd + int64(tf)*timeutil.MinuteMs
			continue
		}

		clean := e.normalize(batch, tf)
		if !e.cfg.DryRun && len(clean) > 0 {
			inserted, err := e.store.UpsertCandles(ctx, clean)
			if err != nil {
				return fmt.Errorf("ingest.pageRange: upsert tf=%d: %w", tf, err)
			}
			metrics.CandlesIngested.WithLabelValues(fmt.Sprint(tf)).Add(float64(inserted))
			if inserted > 0 {
				slog.Debug("candles ingested", "tf", tf, "new", inserted, "page", pages)
			}
		}

		// Con datos: el cursor avanza a la última vela devuelta + tf.
		cursor = batch[len(batch)-1].Ts + int64(tf)*timeutil.MinuteMs
	}
	return nil
}

// normalize alinea timestamps al boundary y descarta velas con año fuera de
// [2009, 2100] (warning, el batch continúa).
func (e *Engine) normalize(batch []domain.Candle, tf int) []domain.Candle {
	out := make([]domain.Candle, 0, len(batch))
	for _, c := range batch {
		c.Symbol = e.cfg.Symbol
		c.TimeframeMin = tf
		c.Ts = timeutil.FloorMinutes(c.Ts, tf)
		if !c.Valid() {
			slog.Warn("dropping invalid candle",
				"tf", tf, "ts", c.Ts, "high", c.High, "low", c.Low)
			continue
		}
		out = append(out, c)
	}
	return out
}

// drainTrades consume el stream de trades solo para métricas.
func (e *Engine) drainTrades(ctx context.Context) {
	ticks, err := e.exchange.StreamTrades(ctx, e.cfg.Symbol)
	if err != nil {
		slog.Warn("trade stream unavailable", "err", err)
		return
	}
	for tick := range ticks {
		metrics.TradeTicks.Inc()
		metrics.LastTradePrice.Set(tick.Price)
	}
}
