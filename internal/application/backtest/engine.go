package backtest

// backtest — replay event-driven sobre velas históricas de 1m, con refresh
// multi-timeframe y ciclo de vida completo de la posición (una posición viva
// como máximo; el paper runner es quien simula long+short simultáneos).
//
// Los estados viven solo en memoria durante el replay: un backtest no
// escribe nada en el store más allá de lo que persista su llamador.

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/perpbot/internal/application/marketstate"
	"github.com/alejandrodnm/perpbot/internal/application/strategy"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/ports"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
)

// Timeframes que alimentan el replay. El 1m es el reloj del loop.
var timeframes = []int{1, 5, 15, 60}

// lookbackMs es el margen previo al rango para sembrar los estados.
const lookbackMs = 24 * 60 * timeutil.MinuteMs

// stateWindow son las velas por timeframe que entran en cada cómputo de estado.
const stateWindow = 200

// Engine ejecuta backtests contra el candle store.
type Engine struct {
	candles ports.CandleStorage
	symbol  string
}

// New crea un Engine para un símbolo.
func New(candles ports.CandleStorage, symbol string) *Engine {
	return &Engine{candles: candles, symbol: symbol}
}

// Result es la salida completa de un backtest.
type Result struct {
	Trades  []domain.Trade
	Metrics domain.BacktestMetrics
}

// Run reproduce [startTs, endTs] con la config dada y devuelve trades y
// métricas agregadas. Falla si no hay velas de 1m en el rango.
func (e *Engine) Run(ctx context.Context, startTs, endTs int64, cfg domain.StrategyConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backtest.Run: %w", err)
	}

	// 1. Cargar velas con lookback para sembrar estados.
	byTF := make(map[int][]domain.Candle, len(timeframes))
	for _, tf := range timeframes {
		candles, err := e.candles.GetCandles(ctx, e.symbol, tf, startTs-lookbackMs, endTs, 0)
		if err != nil {
			return nil, fmt.Errorf("backtest.Run: load tf=%d: %w", tf, err)
		}
		byTF[tf] = candles
	}

	var inRange bool
	for _, c := range byTF[1] {
		if c.Ts >= startTs {
			inRange = true
			break
		}
	}
	if !inRange {
		return nil, fmt.Errorf("backtest.Run: no 1m candles in [%s, %s]",
			timeutil.FormatISO(startTs), timeutil.FormatISO(endTs))
	}

	sim := newSimulation(e.symbol, cfg, byTF)

	// 2-3. Replay de cada vela de 1m del rango en orden temporal.
	for _, c := range byTF[1] {
		if c.Ts < startTs {
			continue
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("backtest.Run: %w", ctx.Err())
		}
		sim.step(c)
	}

	// 4. Cierre forzoso al final del rango.
	sim.closeAtEnd()

	return &Result{Trades: sim.trades, Metrics: computeMetrics(sim.trades)}, nil
}

// simulation es el estado mutable de un replay.
type simulation struct {
	symbol string
	cfg    domain.StrategyConfig

	byTF    map[int][]domain.Candle
	cursors map[int]int // velas ya consumidas por timeframe
	states  strategy.States

	position  *domain.Position
	trigger   string // trigger de la posición abierta, para meta
	lastClose float64
	lastTs    int64
	trades    []domain.Trade
}

func newSimulation(symbol string, cfg domain.StrategyConfig, byTF map[int][]domain.Candle) *simulation {
	return &simulation{
		symbol:  symbol,
		cfg:     cfg,
		byTF:    byTF,
		cursors: make(map[int]int, len(timeframes)),
		states:  make(strategy.States, len(timeframes)),
	}
}

// step procesa una vela de 1m: refresh de estados, gestión de la posición
// abierta y, si no hay posición, evaluación de entrada.
func (s *simulation) step(c domain.Candle) {
	s.refreshStates(c.Ts)
	s.lastClose = c.Close
	s.lastTs = c.Ts

	if s.position != nil {
		s.managePosition(c)
	}
	if s.position == nil {
		if sig := strategy.Evaluate(s.states, c, s.cfg); sig != nil {
			s.open(sig, c)
		}
	}
}

// refreshStates avanza los cursores y recomputa: 1m en cada vela, los
// timeframes superiores solo cuando ts cae a ≤1 min de su boundary.
func (s *simulation) refreshStates(ts int64) {
	for _, tf := range timeframes {
		if tf != 1 && !nearBoundary(ts, tf) && s.states[tf] != nil {
			continue
		}
		candles := s.byTF[tf]
		i := s.cursors[tf]
		for i < len(candles) && candles[i].Ts <= ts {
			i++
		}
		s.cursors[tf] = i
		if i == 0 {
			continue
		}
		lo := i - stateWindow
		if lo < 0 {
			lo = 0
		}
		s.states[tf] = marketstate.Compute(s.symbol, tf, candles[lo:i])
	}
}

// nearBoundary: el ts del minuto está a menos de un minuto del boundary del tf.
func nearBoundary(ts int64, tf int) bool {
	return ts-timeutil.FloorMinutes(ts, tf) < timeutil.MinuteMs
}

func (s *simulation) managePosition(c domain.Candle) {
	pos := s.position

	if exitPx, reason, hit := pos.CheckExit(c); hit {
		s.close(exitPx, reason, c.Ts)
		return
	}

	pos.UpdateExcursion(c)

	if s.cfg.TimeoutMin > 0 {
		elapsed := (c.Ts - pos.OpenedAt) / timeutil.MinuteMs
		if elapsed >= int64(s.cfg.TimeoutMin) {
			s.close(c.Close, domain.ExitTimeout, c.Ts)
		}
	}
}

func (s *simulation) open(sig *domain.Signal, c domain.Candle) {
	// En backtest la equity de sizing es la curva compuesta realizada.
	equity := equityAt(s.trades)
	pos := domain.OpenPosition(sig.Direction, sig.Entry, sig.StopLoss, sig.TakeProfit,
		equity, s.cfg.MinRiskPct, s.cfg.TakerFeeBps, s.cfg.SlippageBps, c.Ts)
	if pos == nil {
		return
	}
	s.position = pos
	s.trigger = sig.TriggerType
}

func (s *simulation) close(exitPx float64, reason domain.ExitReason, ts int64) {
	pos := s.position
	out := pos.ClosePosition(exitPx, s.cfg.TakerFeeBps, s.cfg.SlippageBps)

	closedTs := ts
	result := out.Result
	s.trades = append(s.trades, domain.Trade{
		ConfigID: s.cfg.ID(),
		Side:     pos.Side,
		Entry:    pos.Entry,
		Size:     pos.Size,
		StopLoss: pos.StopLoss,
		TakeProf: pos.TakeProfit,
		OpenedTs: pos.OpenedAt,
		ClosedTs: &closedTs,
		Exit:     &out.ExitFill,
		PnLPct:   &out.PnLPct,
		PnLAbs:   &out.PnLAbs,
		FeesAbs:  &out.FeesTotal,
		Result:   &result,
		Meta: map[string]string{
			"exit_reason": string(reason),
			"trigger":     s.trigger,
			"mfe":         fmt.Sprintf("%.4f", pos.MFE),
			"mae":         fmt.Sprintf("%.4f", pos.MAE),
		},
	})
	s.position = nil
}

// closeAtEnd fuerza el cierre de la posición viva al último close del rango.
func (s *simulation) closeAtEnd() {
	if s.position != nil {
		s.close(s.lastClose, domain.ExitTimeout, s.lastTs)
	}
}

// equityAt es la equity compuesta (base 100) tras los trades cerrados.
func equityAt(trades []domain.Trade) float64 {
	equity := 100.0
	for _, t := range trades {
		if t.PnLPct != nil {
			equity *= 1 + *t.PnLPct/100
		}
	}
	return equity
}
