package domain

// Trend es el régimen de tendencia derivado de los pivots.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendChop Trend = "chop"
)

// StructureEvent es un evento de estructura de mercado (BOS/CHoCH) con dirección.
type StructureEvent string

const (
	EventNone      StructureEvent = ""
	EventBOSUp     StructureEvent = "bos_up"
	EventBOSDown   StructureEvent = "bos_down"
	EventCHoCHUp   StructureEvent = "choch_up"
	EventCHoCHDown StructureEvent = "choch_down"
)

// TimeframeState es el snapshot derivado por timeframe: tendencia, ATR,
// últimos pivots confirmados y el último evento BOS/CHoCH.
//
// Se computa exclusivamente a partir de velas con ts <= Ts, y avanza de forma
// monótona en Ts para un (symbol, tf) dado. Mismo input ⇒ mismo output.
type TimeframeState struct {
	Symbol       string
	TimeframeMin int
	Ts           int64 // ts de la última vela usada

	Trend Trend
	ATR   *float64 // nil si hay menos de 15 velas

	LastPivotHigh *float64
	LastPivotLow  *float64

	BOS   StructureEvent // último BOS (bos_up / bos_down) o vacío
	CHoCH StructureEvent // último CHoCH (choch_up / choch_down) o vacío

	// Metadata del cómputo.
	PivotLength int
	PivotHighs  int // pivots high confirmados en la ventana
	PivotLows   int // pivots low confirmados en la ventana
	CandleCount int
}

// HasTrend devuelve true si el estado define una dirección operable.
func (s *TimeframeState) HasTrend() bool {
	return s != nil && (s.Trend == TrendUp || s.Trend == TrendDown)
}
