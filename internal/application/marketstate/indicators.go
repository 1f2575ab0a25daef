package marketstate

import (
	"math"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

const (
	// atrPeriod is the SMA window over true ranges.
	atrPeriod = 14
	// PivotLength is the confirmation span L on each side of a pivot.
	PivotLength = 2
)

// ATR returns the 14-period simple average of the true range, or nil when
// fewer than atrPeriod+1 candles are available (the first TR needs a
// previous close).
func ATR(candles []domain.Candle) *float64 {
	if len(candles) < atrPeriod+1 {
		return nil
	}

	sum := 0.0
	// Last atrPeriod true ranges, each using the close of the candle before.
	for i := len(candles) - atrPeriod; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr := math.Max(c.High-c.Low,
			math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		sum += tr
	}
	atr := sum / atrPeriod
	return &atr
}

// Pivot is a confirmed swing point.
type Pivot struct {
	Index int
	Price float64
	Ts    int64
}

// PivotHighs returns all confirmed pivot highs in order. A pivot high at i
// requires high[i] strictly greater than the L highs on each side; ties
// disqualify. The trailing L candles can never confirm.
func PivotHighs(candles []domain.Candle) []Pivot {
	return findPivots(candles, func(a, b float64) bool { return a > b },
		func(c domain.Candle) float64 { return c.High })
}

// PivotLows is the symmetric counterpart of PivotHighs.
func PivotLows(candles []domain.Candle) []Pivot {
	return findPivots(candles, func(a, b float64) bool { return a < b },
		func(c domain.Candle) float64 { return c.Low })
}

func findPivots(candles []domain.Candle, beats func(a, b float64) bool, price func(domain.Candle) float64) []Pivot {
	var out []Pivot
	for i := PivotLength; i < len(candles)-PivotLength; i++ {
		p := price(candles[i])
		ok := true
		for j := i - PivotLength; j <= i+PivotLength; j++ {
			if j == i {
				continue
			}
			if !beats(p, price(candles[j])) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, Pivot{Index: i, Price: p, Ts: candles[i].Ts})
		}
	}
	return out
}

// TrendFromPivots derives the regime from the last two pivot highs and lows:
// higher highs + higher lows = up, lower highs + lower lows = down,
// anything else (including fewer than two of either) = chop.
func TrendFromPivots(highs, lows []Pivot) domain.Trend {
	if len(highs) < 2 || len(lows) < 2 {
		return domain.TrendChop
	}
	h1, h2 := highs[len(highs)-2].Price, highs[len(highs)-1].Price
	l1, l2 := lows[len(lows)-2].Price, lows[len(lows)-1].Price

	switch {
	case h2 > h1 && l2 > l1:
		return domain.TrendUp
	case h2 < h1 && l2 < l1:
		return domain.TrendDown
	default:
		return domain.TrendChop
	}
}

// StructureEvents derives BOS/CHoCH from the latest close against the last
// pivots, given the current trend. Chop produces neither.
func StructureEvents(trend domain.Trend, close float64, lastHigh, lastLow *float64) (bos, choch domain.StructureEvent) {
	switch trend {
	case domain.TrendUp:
		if lastHigh != nil && close > *lastHigh {
			bos = domain.EventBOSUp
		}
		if lastLow != nil && close < *lastLow {
			choch = domain.EventCHoCHDown
		}
	case domain.TrendDown:
		if lastLow != nil && close < *lastLow {
			bos = domain.EventBOSDown
		}
		if lastHigh != nil && close > *lastHigh {
			choch = domain.EventCHoCHUp
		}
	}
	return bos, choch
}
