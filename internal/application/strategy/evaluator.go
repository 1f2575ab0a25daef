package strategy

// evaluator — aplica una StrategyConfig al estado multi-timeframe y a la vela
// actual de 1m, y devuelve una señal de entrada o nada.
//
// Orden de decisión: filtro de dirección (15m primario, gates opcionales de
// 60m/5m) → trigger de entrada en 1m (evento de estructura o ruptura de
// swing) → sizing por ATR con rechazo por riesgo mínimo.

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// States is the per-timeframe state cache handed to the evaluator,
// keyed by timeframe minutes.
type States map[int]*domain.TimeframeState

// Evaluate returns an entry signal or nil.
func Evaluate(states States, candle domain.Candle, cfg domain.StrategyConfig) *domain.Signal {
	direction, ok := directionFilter(states, cfg)
	if !ok {
		return nil
	}

	state1m := states[1]
	if state1m == nil {
		return nil
	}

	triggerType, reason, ok := entryTrigger(state1m, candle, direction, cfg)
	if !ok {
		return nil
	}

	return size(state1m, candle, direction, triggerType, reason, cfg)
}

// directionFilter decides the proposed direction from the 15m primary trend
// with tolerant 5m/60m gates.
func directionFilter(states States, cfg domain.StrategyConfig) (domain.Side, bool) {
	primary := states[15]
	if primary == nil || !primary.HasTrend() {
		return "", false
	}

	if cfg.Require60mAlign {
		s60 := states[60]
		if s60 == nil || s60.Trend != primary.Trend {
			return "", false
		}
	}

	s5 := states[5]
	if cfg.Require5mAlign {
		if s5 == nil || s5.Trend != primary.Trend {
			return "", false
		}
	}

	// Tolerante: el 5m solo veta si contradice frontalmente.
	switch primary.Trend {
	case domain.TrendUp:
		if s5 != nil && s5.Trend == domain.TrendDown {
			return "", false
		}
		return domain.SideLong, true
	case domain.TrendDown:
		if s5 != nil && s5.Trend == domain.TrendUp {
			return "", false
		}
		return domain.SideShort, true
	}
	return "", false
}

// entryTrigger checks the 1m structure event (primary) or a swing break
// (fallback). Either one satisfies the trigger.
func entryTrigger(s1 *domain.TimeframeState, c domain.Candle, dir domain.Side, cfg domain.StrategyConfig) (triggerType, reason string, ok bool) {
	if ev, match := primaryEvent(s1, dir, cfg.EntryTrigger); match {
		return "primary", fmt.Sprintf("1m %s in %s direction", ev, dir), true
	}

	// Fallback: ruptura del último swing confirmado.
	if dir == domain.SideLong && s1.LastPivotHigh != nil {
		if c.Close > *s1.LastPivotHigh || c.High > *s1.LastPivotHigh {
			return "fallback", fmt.Sprintf("break above swing high %.2f", *s1.LastPivotHigh), true
		}
	}
	if dir == domain.SideShort && s1.LastPivotLow != nil {
		if c.Close < *s1.LastPivotLow || c.Low < *s1.LastPivotLow {
			return "fallback", fmt.Sprintf("break below swing low %.2f", *s1.LastPivotLow), true
		}
	}
	return "", "", false
}

func primaryEvent(s1 *domain.TimeframeState, dir domain.Side, trigger domain.EntryTrigger) (domain.StructureEvent, bool) {
	wantCHoCH := trigger == domain.TriggerCHoCH || trigger == domain.TriggerEither
	wantBOS := trigger == domain.TriggerBOS || trigger == domain.TriggerEither

	if wantCHoCH {
		if dir == domain.SideLong && s1.CHoCH == domain.EventCHoCHUp {
			return s1.CHoCH, true
		}
		if dir == domain.SideShort && s1.CHoCH == domain.EventCHoCHDown {
			return s1.CHoCH, true
		}
	}
	if wantBOS {
		if dir == domain.SideLong && s1.BOS == domain.EventBOSUp {
			return s1.BOS, true
		}
		if dir == domain.SideShort && s1.BOS == domain.EventBOSDown {
			return s1.BOS, true
		}
	}
	return domain.EventNone, false
}

// size builds SL/TP from the 1m ATR and swing levels; rejects entries whose
// risk fraction is below min_risk_pct.
func size(s1 *domain.TimeframeState, c domain.Candle, dir domain.Side, triggerType, reason string, cfg domain.StrategyConfig) *domain.Signal {
	if s1.ATR == nil || *s1.ATR <= 0 {
		return nil
	}
	atr := *s1.ATR
	entry := c.Close

	var sl float64
	if dir == domain.SideLong {
		if s1.LastPivotLow == nil {
			return nil
		}
		sl = *s1.LastPivotLow - cfg.SLATRBuffer*atr
	} else {
		if s1.LastPivotHigh == nil {
			return nil
		}
		sl = *s1.LastPivotHigh + cfg.SLATRBuffer*atr
	}

	risk := math.Abs(entry - sl)
	if entry <= 0 || risk/entry < cfg.MinRiskPct {
		return nil
	}

	var tp float64
	if dir == domain.SideLong {
		tp = entry + risk*cfg.RRTarget
	} else {
		tp = entry - risk*cfg.RRTarget
	}

	return &domain.Signal{
		Direction:   dir,
		Entry:       entry,
		StopLoss:    sl,
		TakeProfit:  tp,
		RR:          cfg.RRTarget,
		TriggerType: triggerType,
		Reason:      reason,
	}
}
