package domain

import "fmt"

// EntryTrigger selecciona qué evento de estructura dispara la entrada.
type EntryTrigger string

const (
	TriggerCHoCH  EntryTrigger = "choch"
	TriggerBOS    EntryTrigger = "bos"
	TriggerEither EntryTrigger = "either"
)

// StrategyConfig es la bolsa de knobs de una estrategia. Inmutable una vez
// creada; el optimizer genera el producto cartesiano de sus valores.
type StrategyConfig struct {
	Require5mAlign  bool         `json:"require_5m_align"`
	Require60mAlign bool         `json:"require_60m_align"`
	EntryTrigger    EntryTrigger `json:"entry_trigger"`
	RRTarget        float64      `json:"rr_target"`
	TimeoutMin      int          `json:"timeout_min"` // 0 = sin timeout
	SLATRBuffer     float64      `json:"sl_atr_buffer"`
	MinRiskPct      float64      `json:"min_risk_pct"` // fraccional: 0.001 = 0.1%
	TakerFeeBps     int          `json:"taker_fee_bps"`
	SlippageBps     int          `json:"slippage_bps"`
}

// ID devuelve un identificador determinista y legible de la config.
// Se usa como clave de persistencia (paper_configs, optimizer rows).
func (c StrategyConfig) ID() string {
	return fmt.Sprintf("t=%s_rr=%.1f_slb=%.1f_a5=%t_a60=%t_to=%d",
		c.EntryTrigger, c.RRTarget, c.SLATRBuffer,
		c.Require5mAlign, c.Require60mAlign, c.TimeoutMin)
}

// Validate comprueba que los knobs están en rangos operables.
func (c StrategyConfig) Validate() error {
	switch c.EntryTrigger {
	case TriggerCHoCH, TriggerBOS, TriggerEither:
	default:
		return fmt.Errorf("domain.StrategyConfig: invalid entry_trigger %q", c.EntryTrigger)
	}
	if c.RRTarget <= 0 {
		return fmt.Errorf("domain.StrategyConfig: rr_target must be > 0, got %v", c.RRTarget)
	}
	if c.MinRiskPct < 0 || c.SLATRBuffer < 0 || c.TimeoutMin < 0 {
		return fmt.Errorf("domain.StrategyConfig: negative knob")
	}
	return nil
}

// Signal es la señal de entrada producida por el evaluador de estrategia.
type Signal struct {
	Direction   Side
	Entry       float64
	StopLoss    float64
	TakeProfit  float64
	RR          float64
	TriggerType string // "primary" | "fallback"
	Reason      string
}
