package paper

// Avance por cuenta: pagina velas de 1m hasta el final seguro, mantiene una
// caché de estados multi-timeframe y aplica el paso de cuenta vela a vela.
// Checkpoint cada 100 velas, snapshot de equity cada 10; sin velas nuevas no
// se escribe nada.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/perpbot/internal/application/marketstate"
	"github.com/alejandrodnm/perpbot/internal/application/strategy"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/metrics"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
	"github.com/google/uuid"
)

// stateWindow son las velas por timeframe que entran en cada cómputo.
const stateWindow = 200

// Razones de kill persistidas en paper_configs.kill_reason.
const (
	killMaxDD  = "max_dd"
	killMinPF  = "min_pf"
	killMinPnL = "min_pnl"
)

// processAccount avanza una cuenta hasta safeEnd.
func (r *Runner) processAccount(ctx context.Context, cfg *domain.PaperConfig, safeEnd int64, first bool) error {
	acc, err := r.store.GetPaperAccount(ctx, r.run.ID, cfg.ID)
	if err != nil {
		return fmt.Errorf("paper.processAccount: load account: %w", err)
	}
	if acc == nil {
		return fmt.Errorf("paper.processAccount: account for config %s not found", cfg.ID)
	}

	// Corrección de arranque: un checkpoint por delante del final seguro
	// (reloj torcido, datos re-ingestados) se capa hacia atrás una vela.
	if first && acc.LastCandleTs != nil && *acc.LastCandleTs > safeEnd {
		capped := safeEnd - int64(baseTimeframe)*timeutil.MinuteMs
		slog.Warn("paper checkpoint ahead of safe end, capping",
			"rank", cfg.Rank, "was", timeutil.FormatISO(*acc.LastCandleTs),
			"now", timeutil.FormatISO(capped))
		acc.LastCandleTs = &capped
		if err := r.store.UpsertPaperAccount(ctx, acc); err != nil {
			return fmt.Errorf("paper.processAccount: cap checkpoint: %w", err)
		}
		_ = r.store.AppendPaperEvent(ctx, domain.PaperEvent{
			RunID: r.run.ID, ConfigID: cfg.ID, Ts: r.now(),
			Level: "warn", Kind: "checkpoint_capped",
			Message: fmt.Sprintf("last_candle_ts capped to %s", timeutil.FormatISO(capped)),
		})
	}

	var start int64
	if acc.LastCandleTs != nil {
		start = *acc.LastCandleTs + int64(baseTimeframe)*timeutil.MinuteMs
	} else {
		start = safeEnd - bootstrapLookbackMs
	}
	if start >= safeEnd {
		return nil // al día; sin checkpoint
	}

	sim, err := r.newAccountSim(ctx, cfg, acc, start, safeEnd)
	if err != nil {
		return err
	}

	processed := 0
	cursor := start
	for cursor <= safeEnd {
		if ctx.Err() != nil {
			break
		}
		page, err := r.candles.GetCandles(ctx, r.run.Symbol, baseTimeframe, cursor, safeEnd, pageSize)
		if err != nil {
			return fmt.Errorf("paper.processAccount: page candles: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, c := range page {
			if err := sim.step(ctx, c); err != nil {
				return err
			}
			processed++
			metrics.PaperCandles.WithLabelValues(fmt.Sprint(cfg.Rank)).Inc()

			if processed%snapshotEvery == 0 {
				r.snapshot(ctx, cfg, acc, c.Ts)
			}
			if processed%checkpointEvery == 0 {
				if err := r.checkpoint(ctx, cfg, acc); err != nil {
					return err
				}
			}

			if killed, reason := r.applyKillRules(ctx, cfg, acc); killed {
				slog.Info("paper config killed",
					"rank", cfg.Rank, "config", cfg.Config.ID(), "reason", reason,
					"trades", acc.TradesCount,
					"pnl_pct", fmt.Sprintf("%.2f", acc.RealizedPnLPct()),
					"dd_pct", fmt.Sprintf("%.2f", acc.MaxDrawdownPct))
				return r.checkpoint(ctx, cfg, acc)
			}
		}
		cursor = page[len(page)-1].Ts + int64(baseTimeframe)*timeutil.MinuteMs
	}

	if processed == 0 {
		return nil
	}
	return r.checkpoint(ctx, cfg, acc)
}

// checkpoint persiste la cuenta completa (incluye posiciones abiertas).
func (r *Runner) checkpoint(ctx context.Context, cfg *domain.PaperConfig, acc *domain.PaperAccount) error {
	if err := r.store.UpsertPaperAccount(ctx, acc); err != nil {
		return fmt.Errorf("paper.checkpoint: %w", err)
	}
	rank := fmt.Sprint(cfg.Rank)
	metrics.PaperEquity.WithLabelValues(rank).Set(acc.Equity)
	metrics.PaperOpenPositions.WithLabelValues(rank).Set(float64(len(acc.Open.All())))
	return nil
}

func (r *Runner) snapshot(ctx context.Context, cfg *domain.PaperConfig, acc *domain.PaperAccount, ts int64) {
	snap := domain.EquitySnapshot{
		RunID: r.run.ID, ConfigID: cfg.ID, Ts: ts,
		Equity: acc.Equity, Balance: acc.Balance, DDPct: acc.MaxDrawdownPct,
	}
	if err := r.store.UpsertEquitySnapshot(ctx, snap); err != nil {
		slog.Warn("paper snapshot failed", "rank", cfg.Rank, "err", err)
	}
}

// applyKillRules desactiva la config cuando, con historial suficiente, la
// cuenta viola cualquiera de los límites.
func (r *Runner) applyKillRules(ctx context.Context, cfg *domain.PaperConfig, acc *domain.PaperAccount) (bool, string) {
	if acc.TradesCount < r.cfg.MinTradesBeforeKill {
		return false, ""
	}

	var reason string
	switch {
	case acc.MaxDrawdownPct > r.cfg.KillMaxDDPct:
		reason = killMaxDD
	case acc.ProfitFactor < r.cfg.KillMinPF:
		reason = killMinPF
	case acc.RealizedPnLPct() < r.cfg.KillMinPnLPct:
		reason = killMinPnL
	default:
		return false, ""
	}

	if err := r.store.DeactivatePaperConfig(ctx, cfg.ID, reason); err != nil {
		slog.Warn("paper kill: deactivate failed", "rank", cfg.Rank, "err", err)
		return false, ""
	}
	cfg.IsActive = false
	cfg.KillReason = reason

	_ = r.store.AppendPaperEvent(ctx, domain.PaperEvent{
		RunID: r.run.ID, ConfigID: cfg.ID, Ts: r.now(),
		Level: "warn", Kind: "kill",
		Message: fmt.Sprintf("reason=%s trades=%d pnl=%.2f%% dd=%.2f%% pf=%.2f",
			reason, acc.TradesCount, acc.RealizedPnLPct(), acc.MaxDrawdownPct, acc.ProfitFactor),
	})
	metrics.PaperKills.WithLabelValues(reason).Inc()

	if r.notifier != nil {
		if err := r.notifier.NotifyKill(ctx, *cfg, *acc, reason); err != nil {
			slog.Warn("paper kill: notify failed", "rank", cfg.Rank, "err", err)
		}
	}
	return true, reason
}

// accountSim mantiene la caché de estados de UNA cuenta durante un batch.
type accountSim struct {
	runner *Runner
	cfg    *domain.PaperConfig
	acc    *domain.PaperAccount

	byTF    map[int][]domain.Candle // timeframes superiores, cargados de golpe
	cursors map[int]int
	base    []domain.Candle // trailing de velas de 1m ya procesadas
	states  strategy.States
}

// newAccountSim precarga las velas de los timeframes superiores del batch.
func (r *Runner) newAccountSim(ctx context.Context, cfg *domain.PaperConfig, acc *domain.PaperAccount, start, end int64) (*accountSim, error) {
	sim := &accountSim{
		runner:  r,
		cfg:     cfg,
		acc:     acc,
		byTF:    make(map[int][]domain.Candle),
		cursors: make(map[int]int),
		states:  make(strategy.States, len(stateTimeframes)),
	}
	for _, tf := range stateTimeframes {
		if tf == baseTimeframe {
			// El 1m llega paginado; sembrar el trailing con el lookback.
			seed, err := r.candles.GetCandles(ctx, r.run.Symbol, tf, start-bootstrapLookbackMs, start-1, 0)
			if err != nil {
				return nil, fmt.Errorf("paper.newAccountSim: seed tf=%d: %w", tf, err)
			}
			if len(seed) > stateWindow {
				seed = seed[len(seed)-stateWindow:]
			}
			sim.base = seed
			continue
		}
		candles, err := r.candles.GetCandles(ctx, r.run.Symbol, tf, start-bootstrapLookbackMs, end, 0)
		if err != nil {
			return nil, fmt.Errorf("paper.newAccountSim: load tf=%d: %w", tf, err)
		}
		sim.byTF[tf] = candles
	}
	return sim, nil
}

// step procesa una vela de 1m contra la cuenta.
func (s *accountSim) step(ctx context.Context, c domain.Candle) error {
	s.refreshStates(c)

	// 1. Salidas por lado, de forma independiente.
	for _, side := range []domain.Side{domain.SideLong, domain.SideShort} {
		pos := s.acc.Open.Get(side)
		if pos == nil {
			continue
		}
		if exitPx, reason, hit := pos.CheckExit(c); hit {
			if err := s.closePosition(ctx, pos, exitPx, reason, c.Ts); err != nil {
				return err
			}
			continue
		}
		pos.UpdateExcursion(c)
		if s.cfg.Config.TimeoutMin > 0 {
			elapsed := (c.Ts - pos.OpenedAt) / timeutil.MinuteMs
			if elapsed >= int64(s.cfg.Config.TimeoutMin) {
				if err := s.closePosition(ctx, pos, c.Close, domain.ExitTimeout, c.Ts); err != nil {
					return err
				}
			}
		}
	}

	// 2. Mark-to-market y drawdown.
	s.acc.Equity = domain.MarkToMarket(s.acc.Balance, &s.acc.Open, c.Close)
	s.acc.MaxEquity, s.acc.MaxDrawdownPct = domain.UpdateEquityAndDD(s.acc.Equity, s.acc.MaxEquity)

	// 3. Entrada, si el lado está libre.
	if sig := strategy.Evaluate(s.states, c, s.cfg.Config); sig != nil {
		if s.acc.Open.Get(sig.Direction) != nil {
			slog.Debug("paper signal ignored, side already open",
				"rank", s.cfg.Rank, "side", sig.Direction)
		} else if err := s.openPosition(ctx, sig, c); err != nil {
			return err
		}
	}

	ts := c.Ts
	s.acc.LastCandleTs = &ts
	return nil
}

// refreshStates: el 1m se recomputa en cada vela sobre el trailing; los
// superiores solo al cruzar su boundary.
func (s *accountSim) refreshStates(c domain.Candle) {
	s.base = append(s.base, c)
	if len(s.base) > stateWindow {
		s.base = s.base[len(s.base)-stateWindow:]
	}
	s.states[baseTimeframe] = marketstate.Compute(s.runner.run.Symbol, baseTimeframe, s.base)

	for _, tf := range stateTimeframes {
		if tf == baseTimeframe {
			continue
		}
		if s.states[tf] != nil && !nearBoundary(c.Ts, tf) {
			continue
		}
		candles := s.byTF[tf]
		i := s.cursors[tf]
		for i < len(candles) && candles[i].Ts <= c.Ts {
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
		s.states[tf] = marketstate.Compute(s.runner.run.Symbol, tf, candles[lo:i])
	}
}

// nearBoundary: ts está a menos de un minuto del boundary del timeframe.
func nearBoundary(ts int64, tf int) bool {
	return ts-timeutil.FloorMinutes(ts, tf) < timeutil.MinuteMs
}

// openPosition abre con sizing sobre la equity marcada y persiste el trade.
// El insert es idempotente: reprocesar la misma vela devuelve el id original.
func (s *accountSim) openPosition(ctx context.Context, sig *domain.Signal, c domain.Candle) error {
	cfg := s.cfg.Config
	pos := domain.OpenPosition(sig.Direction, sig.Entry, sig.StopLoss, sig.TakeProfit,
		s.acc.Equity, cfg.MinRiskPct, cfg.TakerFeeBps, cfg.SlippageBps, c.Ts)
	if pos == nil {
		return nil
	}

	trade := &domain.Trade{
		ID:       uuid.NewString(),
		RunID:    s.runner.run.ID,
		ConfigID: s.cfg.ID,
		Side:     pos.Side,
		Entry:    pos.Entry,
		Size:     pos.Size,
		StopLoss: pos.StopLoss,
		TakeProf: pos.TakeProfit,
		OpenedTs: pos.OpenedAt,
		Meta:     map[string]string{"trigger": sig.TriggerType},
	}
	id, err := s.runner.store.InsertPaperTrade(ctx, trade)
	if err != nil {
		return fmt.Errorf("paper.openPosition: %w", err)
	}
	pos.TradeID = id
	s.acc.Open.Set(pos)
	return nil
}

// closePosition realiza el cierre: balance, contadores, profit factor y
// actualización del trade persistido.
func (s *accountSim) closePosition(ctx context.Context, pos *domain.Position, exitPx float64, reason domain.ExitReason, ts int64) error {
	cfg := s.cfg.Config
	out := pos.ClosePosition(exitPx, cfg.TakerFeeBps, cfg.SlippageBps)

	s.acc.Balance += out.PnLAbs
	s.acc.TradesCount++
	switch out.Result {
	case domain.ResultWin:
		s.acc.WinsCount++
		s.acc.GrossWinAbs += out.PnLAbs
	case domain.ResultLoss:
		s.acc.LossesCount++
		s.acc.GrossLossAbs += -out.PnLAbs
	}
	s.acc.RecomputeProfitFactor()
	s.acc.Open.Clear(pos.Side)

	closedTs := ts
	result := out.Result
	trade := &domain.Trade{
		ID:       pos.TradeID,
		RunID:    s.runner.run.ID,
		ConfigID: s.cfg.ID,
		Side:     pos.Side,
		Entry:    pos.Entry,
		OpenedTs: pos.OpenedAt,
		ClosedTs: &closedTs,
		Exit:     &out.ExitFill,
		PnLPct:   &out.PnLPct,
		PnLAbs:   &out.PnLAbs,
		FeesAbs:  &out.FeesTotal,
		Result:   &result,
		Meta: map[string]string{
			"exit_reason": string(reason),
			"mfe":         fmt.Sprintf("%.4f", pos.MFE),
			"mae":         fmt.Sprintf("%.4f", pos.MAE),
		},
	}
	if err := s.runner.store.ClosePaperTrade(ctx, trade); err != nil {
		return fmt.Errorf("paper.closePosition: %w", err)
	}
	return nil
}
