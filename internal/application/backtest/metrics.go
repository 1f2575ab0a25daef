package backtest

import (
	"math"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// computeMetrics agrega los trades cerrados de un replay.
//
// Drawdown máximo sobre la curva de equity compuesta empezando en 100;
// profit factor = Σ ganancias / Σ |pérdidas| (+Inf si solo hay winners);
// expectancy = winrate·avgWin − (1−winrate)·|avgLoss| en puntos de pnl%.
func computeMetrics(trades []domain.Trade) domain.BacktestMetrics {
	m := domain.BacktestMetrics{Trades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var sumWinPct, sumLossPct, sumDuration float64
	equity, peak, maxDD := 100.0, 100.0, 0.0

	for _, t := range trades {
		if t.PnLPct == nil {
			continue
		}
		pnl := *t.PnLPct
		m.TotalPnLPct += pnl
		sumDuration += t.DurationMin()

		switch {
		case t.Result != nil && *t.Result == domain.ResultWin:
			m.Wins++
			sumWinPct += pnl
		case t.Result != nil && *t.Result == domain.ResultLoss:
			m.Losses++
			sumLossPct += math.Abs(pnl)
		}

		equity *= 1 + pnl/100
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}

	m.Winrate = float64(m.Wins) / float64(len(trades))
	m.MaxDrawdownPct = maxDD
	m.AvgDurationMin = sumDuration / float64(len(trades))

	var avgWin, avgLoss float64
	if m.Wins > 0 {
		avgWin = sumWinPct / float64(m.Wins)
	}
	if m.Losses > 0 {
		avgLoss = sumLossPct / float64(m.Losses)
	}
	m.ExpectancyPct = m.Winrate*avgWin - (1-m.Winrate)*avgLoss

	switch {
	case sumLossPct > 0:
		m.ProfitFactor = sumWinPct / sumLossPct
	case sumWinPct > 0:
		m.ProfitFactor = math.Inf(1)
	}

	return m
}
