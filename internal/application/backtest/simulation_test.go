package backtest

import (
	"testing"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		EntryTrigger: domain.TriggerEither,
		RRTarget:     2.0,
		SLATRBuffer:  0.3,
		MinRiskPct:   0.001,
		TakerFeeBps:  0,
		SlippageBps:  0,
	}
}

func TestSimulation_OpenAndStopOut(t *testing.T) {
	sim := newSimulation("BTC-PERPETUAL", testConfig(), nil)

	sim.open(&domain.Signal{
		Direction: domain.SideLong, Entry: 100, StopLoss: 95, TakeProfit: 110,
		TriggerType: "primary",
	}, domain.Candle{Ts: 0, Close: 100})
	require.NotNil(t, sim.position)

	// Vela que toca SL y TP a la vez → worst case, sale por SL.
	sim.managePosition(domain.Candle{Ts: 60_000, Open: 100, High: 111, Low: 94, Close: 100})
	require.Nil(t, sim.position)
	require.Len(t, sim.trades, 1)

	tr := sim.trades[0]
	require.NotNil(t, tr.Exit)
	assert.InDelta(t, 95.0, *tr.Exit, 1e-9)
	assert.Equal(t, "stop_loss", tr.Meta["exit_reason"])
	assert.Equal(t, "primary", tr.Meta["trigger"])
	require.NotNil(t, tr.Result)
	assert.Equal(t, domain.ResultLoss, *tr.Result)
}

func TestSimulation_TimeoutClose(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutMin = 30
	sim := newSimulation("BTC-PERPETUAL", cfg, nil)

	sim.open(&domain.Signal{
		Direction: domain.SideLong, Entry: 100, StopLoss: 95, TakeProfit: 110,
		TriggerType: "fallback",
	}, domain.Candle{Ts: 0, Close: 100})

	// 29 minutos: sigue viva.
	sim.managePosition(domain.Candle{Ts: 29 * 60_000, Open: 100, High: 101, Low: 99, Close: 100})
	require.NotNil(t, sim.position)

	// 30 minutos sin tocar SL/TP: cierre forzoso al close.
	sim.managePosition(domain.Candle{Ts: 30 * 60_000, Open: 100, High: 101, Low: 99, Close: 100.5})
	require.Nil(t, sim.position)
	require.Len(t, sim.trades, 1)
	assert.Equal(t, "timeout", sim.trades[0].Meta["exit_reason"])
}

func TestSimulation_CloseAtEnd(t *testing.T) {
	sim := newSimulation("BTC-PERPETUAL", testConfig(), nil)
	sim.open(&domain.Signal{
		Direction: domain.SideShort, Entry: 100, StopLoss: 105, TakeProfit: 90,
	}, domain.Candle{Ts: 0, Close: 100})

	sim.lastClose = 98
	sim.lastTs = 10 * 60_000
	sim.closeAtEnd()

	require.Nil(t, sim.position)
	require.Len(t, sim.trades, 1)
	assert.Equal(t, "timeout", sim.trades[0].Meta["exit_reason"])
	require.NotNil(t, sim.trades[0].PnLAbs)
	assert.Greater(t, *sim.trades[0].PnLAbs, 0.0) // short cerrado más abajo
}

func TestNearBoundary(t *testing.T) {
	base := int64(1_700_000_000_000)
	onBoundary := base - base%(15*60_000)

	assert.True(t, nearBoundary(onBoundary, 15))
	assert.True(t, nearBoundary(onBoundary+59_999, 15))
	assert.False(t, nearBoundary(onBoundary+60_000, 15))
	assert.False(t, nearBoundary(onBoundary+7*60_000, 15))
}
