package domain_test

import (
	"testing"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcFees(t *testing.T) {
	assert.InDelta(t, 5.0, domain.CalcFees(10_000, 5), 1e-9)
	assert.InDelta(t, 0.0, domain.CalcFees(10_000, 0), 1e-9)
}

func TestApplySlippage(t *testing.T) {
	// Long paga más caro, short recibe menos.
	assert.InDelta(t, 100.02, domain.ApplySlippage(100, domain.SideLong, 2), 1e-9)
	assert.InDelta(t, 99.98, domain.ApplySlippage(100, domain.SideShort, 2), 1e-9)
}

func TestCheckExit_WorstCaseFill(t *testing.T) {
	// Long en 100, SL=95, TP=110. La vela toca ambos → gana el SL.
	pos := &domain.Position{Side: domain.SideLong, Entry: 100, Size: 1, StopLoss: 95, TakeProfit: 110}
	candle := domain.Candle{Open: 100, High: 111, Low: 94, Close: 100}

	exit, reason, hit := pos.CheckExit(candle)
	require.True(t, hit)
	assert.Equal(t, domain.ExitStopLoss, reason)
	assert.InDelta(t, 95.0, exit, 1e-9)
}

func TestCheckExit_TPOnly(t *testing.T) {
	pos := &domain.Position{Side: domain.SideLong, Entry: 100, Size: 1, StopLoss: 95, TakeProfit: 110}
	exit, reason, hit := pos.CheckExit(domain.Candle{Open: 100, High: 111, Low: 99, Close: 110})
	require.True(t, hit)
	assert.Equal(t, domain.ExitTakeProfit, reason)
	assert.InDelta(t, 110.0, exit, 1e-9)
}

func TestCheckExit_ShortMirrors(t *testing.T) {
	pos := &domain.Position{Side: domain.SideShort, Entry: 100, Size: 1, StopLoss: 105, TakeProfit: 90}

	_, reason, hit := pos.CheckExit(domain.Candle{Open: 100, High: 106, Low: 89, Close: 100})
	require.True(t, hit)
	assert.Equal(t, domain.ExitStopLoss, reason)

	_, reason, hit = pos.CheckExit(domain.Candle{Open: 100, High: 101, Low: 89, Close: 91})
	require.True(t, hit)
	assert.Equal(t, domain.ExitTakeProfit, reason)
}

func TestOpenClose_RoundTrip(t *testing.T) {
	// Escenario del spec de producto: balance=1000, riskPct=0.001,
	// entry=100, sl=99, fees=5bps, slippage=2bps.
	pos := domain.OpenPosition(domain.SideLong, 100, 99, 102, 1000, 0.001, 5, 2, 0)
	require.NotNil(t, pos)

	// size = (1000·0.001)/(0.01) = 100 unidades
	assert.InDelta(t, 100.0, pos.Size, 1e-9)
	assert.InDelta(t, 100.02, pos.Entry, 1e-9)
	assert.InDelta(t, 5.001, pos.FeesPaid, 1e-6)

	// Cerrar sin movimiento: fees + spread dominan → loss.
	out := pos.ClosePosition(100.02, 5, 2)
	assert.Less(t, out.PnLAbs, 0.0)
	assert.Equal(t, domain.ResultLoss, out.Result)
}

func TestClose_AtEntryZeroCosts_IsBreakeven(t *testing.T) {
	pos := domain.OpenPosition(domain.SideLong, 100, 99, 102, 1000, 0.001, 0, 0, 0)
	require.NotNil(t, pos)

	out := pos.ClosePosition(100, 0, 0)
	assert.InDelta(t, 0.0, out.PnLAbs, 1e-9)
	assert.Equal(t, domain.ResultBreakeven, out.Result)
}

func TestClosePosition_ShortProfit(t *testing.T) {
	pos := domain.OpenPosition(domain.SideShort, 100, 101, 97, 1000, 0.001, 0, 0, 0)
	require.NotNil(t, pos)

	out := pos.ClosePosition(97, 0, 0)
	assert.InDelta(t, (100.0-97.0)*pos.Size, out.PnLAbs, 1e-9)
	assert.Equal(t, domain.ResultWin, out.Result)
}

func TestMarkToMarket(t *testing.T) {
	open := &domain.OpenPositions{}
	open.Set(&domain.Position{Side: domain.SideLong, Entry: 100, Size: 2})
	open.Set(&domain.Position{Side: domain.SideShort, Entry: 110, Size: 1})

	// long: (105-100)*2 = +10; short: (110-105)*1 = +5
	assert.InDelta(t, 1015.0, domain.MarkToMarket(1000, open, 105), 1e-9)
}

func TestOpenPositions_OnePerSide(t *testing.T) {
	open := &domain.OpenPositions{}
	assert.Nil(t, open.Get(domain.SideLong))

	open.Set(&domain.Position{Side: domain.SideLong, Entry: 100})
	open.Set(&domain.Position{Side: domain.SideLong, Entry: 101}) // reemplaza, nunca dos del mismo lado
	require.NotNil(t, open.Long)
	assert.InDelta(t, 101.0, open.Long.Entry, 1e-9)
	assert.Len(t, open.All(), 1)

	open.Clear(domain.SideLong)
	assert.Empty(t, open.All())
}

func TestUpdateEquityAndDD(t *testing.T) {
	maxEq, dd := domain.UpdateEquityAndDD(1100, 1000)
	assert.InDelta(t, 1100.0, maxEq, 1e-9)
	assert.InDelta(t, 0.0, dd, 1e-9)

	maxEq, dd = domain.UpdateEquityAndDD(990, maxEq)
	assert.InDelta(t, 1100.0, maxEq, 1e-9)
	assert.InDelta(t, 10.0, dd, 1e-9)

	// maxEquity aún no inicializado → dd 0
	_, dd = domain.UpdateEquityAndDD(0, 0)
	assert.InDelta(t, 0.0, dd, 1e-9)
}

func TestRecomputeProfitFactor(t *testing.T) {
	a := &domain.PaperAccount{GrossWinAbs: 30, GrossLossAbs: 10}
	a.RecomputeProfitFactor()
	assert.InDelta(t, 3.0, a.ProfitFactor, 1e-9)

	a = &domain.PaperAccount{GrossWinAbs: 5}
	a.RecomputeProfitFactor()
	assert.InDelta(t, 999.0, a.ProfitFactor, 1e-9)

	a = &domain.PaperAccount{}
	a.RecomputeProfitFactor()
	assert.InDelta(t, 0.0, a.ProfitFactor, 1e-9)
}

func TestUpdateExcursion(t *testing.T) {
	pos := &domain.Position{Side: domain.SideLong, Entry: 100, Size: 1}
	pos.UpdateExcursion(domain.Candle{High: 104, Low: 98})
	pos.UpdateExcursion(domain.Candle{High: 102, Low: 97})
	assert.InDelta(t, 4.0, pos.MFE, 1e-9)
	assert.InDelta(t, 3.0, pos.MAE, 1e-9)
}
