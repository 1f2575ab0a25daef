package domain

import "math"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// TradeResult classifies a closed trade.
type TradeResult string

const (
	ResultWin       TradeResult = "win"
	ResultLoss      TradeResult = "loss"
	ResultBreakeven TradeResult = "breakeven"
)

// breakevenDeadZone is the ±pnlAbs band classified as breakeven.
const breakevenDeadZone = 0.01

// Position is a live position inside a simulation (backtest or paper).
// Invariant: for long, StopLoss < Entry < TakeProfit; inverted for short.
type Position struct {
	Side       Side
	Entry      float64 // fill price after slippage
	Size       float64 // units of the instrument
	StopLoss   float64
	TakeProfit float64
	OpenedAt   int64 // epoch ms of the opening candle
	FeesPaid   float64
	TradeID    string // persisted trade row id, if any

	// Excursion tracking, in raw price points from entry.
	MFE float64 // max favorable excursion
	MAE float64 // max adverse excursion
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitTimeout    ExitReason = "timeout"
)

// CalcFees returns the fee on a notional at the given bps rate.
func CalcFees(notional float64, feeBps int) float64 {
	return notional * float64(feeBps) / 10_000
}

// ApplySlippage worsens price in the taker's disfavor at entry: a long buys
// higher, a short sells lower. For exits use the opposite side — the exit of
// a long is a sell.
func ApplySlippage(price float64, side Side, bps int) float64 {
	adj := float64(bps) / 10_000
	if side == SideLong {
		return price * (1 + adj)
	}
	return price * (1 - adj)
}

// exitSide returns the side whose slippage direction applies when closing.
func exitSide(side Side) Side {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}

// OpenPosition sizes and opens a position risking equity·riskPct between
// entry and stop. The fill applies entry slippage; open fees accrue on the
// fill notional. Returns nil if the inputs cannot produce a sane position.
func OpenPosition(side Side, entry, sl, tp float64, equity, riskPct float64, feeBps, slippageBps int, openedAt int64) *Position {
	if equity <= 0 || entry <= 0 {
		return nil
	}
	riskFrac := math.Abs(entry-sl) / entry
	if riskFrac <= 0 {
		return nil
	}
	size := (equity * riskPct) / (riskFrac * entry)
	if size <= 0 || math.IsInf(size, 0) || math.IsNaN(size) {
		return nil
	}

	fill := ApplySlippage(entry, side, slippageBps)
	fees := CalcFees(fill*size, feeBps)

	return &Position{
		Side:       side,
		Entry:      fill,
		Size:       size,
		StopLoss:   sl,
		TakeProfit: tp,
		OpenedAt:   openedAt,
		FeesPaid:   fees,
	}
}

// CheckExit tests SL/TP against a candle's range with worst-case fill
// semantics: if both levels are inside [low, high], the stop wins.
// Returns the exit price and reason, or (0, "", false).
func (p *Position) CheckExit(c Candle) (float64, ExitReason, bool) {
	var slHit, tpHit bool
	if p.Side == SideLong {
		slHit = c.Low <= p.StopLoss
		tpHit = c.High >= p.TakeProfit
	} else {
		slHit = c.High >= p.StopLoss
		tpHit = c.Low <= p.TakeProfit
	}

	switch {
	case slHit: // worst case: stop wins even if TP was also touched
		return p.StopLoss, ExitStopLoss, true
	case tpHit:
		return p.TakeProfit, ExitTakeProfit, true
	default:
		return 0, "", false
	}
}

// UpdateExcursion records MFE/MAE from the candle extremes.
func (p *Position) UpdateExcursion(c Candle) {
	var fav, adv float64
	if p.Side == SideLong {
		fav = c.High - p.Entry
		adv = p.Entry - c.Low
	} else {
		fav = p.Entry - c.Low
		adv = c.High - p.Entry
	}
	p.MFE = math.Max(p.MFE, fav)
	p.MAE = math.Max(p.MAE, adv)
}

// CloseOutcome is the realized result of closing a position.
type CloseOutcome struct {
	ExitFill  float64 // exit price after slippage
	PnLAbs    float64 // net of all fees
	PnLPct    float64 // vs entry notional, ×100
	FeesTotal float64 // open + close fees
	Result    TradeResult
}

// ClosePosition closes at exitPx, applying inverted-side slippage and exit
// fees. PnL is net of total fees; result uses a ±0.01 dead zone.
func (p *Position) ClosePosition(exitPx float64, feeBps, slippageBps int) CloseOutcome {
	fill := ApplySlippage(exitPx, exitSide(p.Side), slippageBps)
	exitFees := CalcFees(fill*p.Size, feeBps)
	totalFees := p.FeesPaid + exitFees

	var gross float64
	if p.Side == SideLong {
		gross = (fill - p.Entry) * p.Size
	} else {
		gross = (p.Entry - fill) * p.Size
	}
	pnlAbs := gross - totalFees

	notional := p.Entry * p.Size
	var pnlPct float64
	if notional > 0 {
		pnlPct = pnlAbs / notional * 100
	}

	result := ResultBreakeven
	if pnlAbs > breakevenDeadZone {
		result = ResultWin
	} else if pnlAbs < -breakevenDeadZone {
		result = ResultLoss
	}

	return CloseOutcome{
		ExitFill:  fill,
		PnLAbs:    pnlAbs,
		PnLPct:    pnlPct,
		FeesTotal: totalFees,
		Result:    result,
	}
}

// UnrealizedPnL marks the position to the given price, gross of exit costs.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	if p.Side == SideLong {
		return (mark - p.Entry) * p.Size
	}
	return (p.Entry - mark) * p.Size
}

// OpenPositions is the at-most-one-per-side pair an account may hold.
type OpenPositions struct {
	Long  *Position `json:"long,omitempty"`
	Short *Position `json:"short,omitempty"`
}

// Get returns the position on the given side, or nil.
func (o *OpenPositions) Get(side Side) *Position {
	if side == SideLong {
		return o.Long
	}
	return o.Short
}

// Set places a position on its side, replacing any previous one.
func (o *OpenPositions) Set(p *Position) {
	if p.Side == SideLong {
		o.Long = p
	} else {
		o.Short = p
	}
}

// Clear removes the position on the given side.
func (o *OpenPositions) Clear(side Side) {
	if side == SideLong {
		o.Long = nil
	} else {
		o.Short = nil
	}
}

// All returns the non-nil open positions.
func (o *OpenPositions) All() []*Position {
	var out []*Position
	if o.Long != nil {
		out = append(out, o.Long)
	}
	if o.Short != nil {
		out = append(out, o.Short)
	}
	return out
}

// MarkToMarket returns balance plus unrealized PnL over the open positions.
func MarkToMarket(balance float64, open *OpenPositions, mark float64) float64 {
	equity := balance
	for _, p := range open.All() {
		equity += p.UnrealizedPnL(mark)
	}
	return equity
}

// UpdateEquityAndDD advances the equity peak and recomputes drawdown.
// ddPct is 0 while maxEquity is not positive.
func UpdateEquityAndDD(equity, maxEquity float64) (newMax, ddPct float64) {
	newMax = math.Max(equity, maxEquity)
	if newMax > 0 {
		ddPct = (newMax - equity) / newMax * 100
	}
	return newMax, ddPct
}
