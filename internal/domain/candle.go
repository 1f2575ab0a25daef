package domain

import "github.com/alejandrodnm/perpbot/internal/timeutil"

// Candle es una observación OHLCV inmutable de un bucket de timeframe.
// Ts está en epoch ms UTC, siempre alineado al boundary del timeframe.
type Candle struct {
	Symbol       string
	TimeframeMin int
	Ts           int64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Source       string // "deribit" | "backfill" | "fixture"
}

// Aligned devuelve true si el timestamp está alineado al boundary del timeframe.
func (c Candle) Aligned() bool {
	return timeutil.FloorMinutes(c.Ts, c.TimeframeMin) == c.Ts
}

// Valid comprueba los invariantes mínimos de persistencia: año en rango
// [2009, 2100], timeframe positivo y precios coherentes.
func (c Candle) Valid() bool {
	if c.TimeframeMin <= 0 || !timeutil.ValidYear(c.Ts) {
		return false
	}
	if c.High < c.Low || c.Open <= 0 || c.Close <= 0 {
		return false
	}
	return true
}

// TradeTick es un trade individual del stream del exchange. Solo se usa
// para observabilidad (último precio, throughput); el sistema opera sobre
// velas cerradas.
type TradeTick struct {
	Symbol string
	Ts     int64
	Price  float64
	Amount float64
	Side   string // "buy" | "sell"
}
