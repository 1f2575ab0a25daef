package paper

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSymbol = "BTC-PERPETUAL"

func testStrategyConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		EntryTrigger: domain.TriggerEither,
		RRTarget:     2.0,
		SLATRBuffer:  0.3,
		MinRiskPct:   0.001,
		TakerFeeBps:  5,
		SlippageBps:  2,
	}
}

// seedOptimizerTop crea un run del optimizer con n configs rankeadas.
func seedOptimizerTop(t *testing.T, db *storage.SQLiteStorage, n int) string {
	t.Helper()
	ctx := context.Background()
	run := &domain.OptimizerRun{
		ID: "opt-run-1", Symbol: testSymbol,
		CreatedTs: time.Now().UnixMilli(),
	}
	require.NoError(t, db.CreateOptimizerRun(ctx, run))
	for i := 1; i <= n; i++ {
		cfg := testStrategyConfig()
		cfg.RRTarget = 1.0 + float64(i)*0.5 // IDs únicos por rank
		require.NoError(t, db.SaveTopConfig(ctx, domain.RankedConfig{
			RunID: run.ID, Rank: i, Score: float64(n - i), Config: cfg,
		}))
	}
	return run.ID
}

// seedFlatCandles siembra velas planas (sin señales) en todos los TFs.
func seedFlatCandles(t *testing.T, db *storage.SQLiteStorage, startTs int64, minutes int) {
	t.Helper()
	ctx := context.Background()
	for _, tf := range []int{1, 5, 15, 60} {
		var batch []domain.Candle
		for ts := startTs; ts < startTs+int64(minutes)*timeutil.MinuteMs; ts += int64(tf) * timeutil.MinuteMs {
			batch = append(batch, domain.Candle{
				Symbol: testSymbol, TimeframeMin: tf, Ts: ts,
				Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 10,
			})
		}
		_, err := db.UpsertCandles(ctx, batch)
		require.NoError(t, err)
	}
}

func newTestRunner(t *testing.T, db *storage.SQLiteStorage, optRunID string) *Runner {
	t.Helper()
	r := New(Config{
		Symbol:              testSymbol,
		OptimizerRunID:      optRunID,
		TopN:                3,
		BalanceStart:        1000,
		PollInterval:        time.Second,
		SafeLagMin:          1,
		MinTradesBeforeKill: 50,
		KillMaxDDPct:        12,
		KillMinPF:           0.8,
		KillMinPnLPct:       -2,
	}, db, db, db, nil)
	return r
}

func TestInit_CreatesRunConfigsAndAccounts(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	optID := seedOptimizerTop(t, db, 5)
	r := newTestRunner(t, db, optID)

	require.NoError(t, r.Init(ctx))
	require.NotNil(t, r.run)
	assert.Equal(t, domain.PaperRunning, r.run.Status)
	assert.Equal(t, optID, r.run.OptimizerRunID)

	configs, err := db.GetPaperConfigs(ctx, r.run.ID, true)
	require.NoError(t, err)
	require.Len(t, configs, 3) // TopN=3 de los 5 disponibles

	for _, cfg := range configs {
		acc, err := db.GetPaperAccount(ctx, r.run.ID, cfg.ID)
		require.NoError(t, err)
		require.NotNil(t, acc)
		assert.InDelta(t, 1000, acc.Balance, 1e-9)
		assert.InDelta(t, 1000, acc.Equity, 1e-9)
		assert.Nil(t, acc.LastCandleTs)
	}
}

func TestInit_ResumeExistingRun(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	optID := seedOptimizerTop(t, db, 3)
	first := newTestRunner(t, db, optID)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, db.UpdatePaperRunStatus(ctx, first.run.ID, domain.PaperStopped))

	resumed := newTestRunner(t, db, optID)
	resumed.cfg.RunID = first.run.ID
	require.NoError(t, resumed.Init(ctx))

	assert.Equal(t, first.run.ID, resumed.run.ID)
	assert.Equal(t, domain.PaperRunning, resumed.run.Status)
}

func TestInit_FailsWithoutSource(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := newTestRunner(t, db, "")
	require.Error(t, r.Init(context.Background()))
}

func TestSafeEnd_MinAcrossTimeframes(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	seedFlatCandles(t, db, base, 120)

	optID := seedOptimizerTop(t, db, 1)
	r := newTestRunner(t, db, optID)
	require.NoError(t, r.Init(ctx))

	safeEnd, ok := r.safeEnd(ctx)
	require.True(t, ok)
	// max 15m = 01:45; lag de 1·15m → 01:30; es el mínimo de los tres TFs.
	assert.Equal(t, base+105*timeutil.MinuteMs-15*timeutil.MinuteMs, safeEnd)
}

func TestTick_AdvancesCheckpointAndIsIdempotent(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	seedFlatCandles(t, db, base, 240)

	optID := seedOptimizerTop(t, db, 1)
	r := newTestRunner(t, db, optID)
	require.NoError(t, r.Init(ctx))

	safeEnd, ok := r.safeEnd(ctx)
	require.True(t, ok)

	r.tick(ctx, true)

	configs, err := db.GetPaperConfigs(ctx, r.run.ID, true)
	require.NoError(t, err)
	require.Len(t, configs, 1)

	acc, err := db.GetPaperAccount(ctx, r.run.ID, configs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, acc.LastCandleTs)
	assert.Equal(t, safeEnd, *acc.LastCandleTs)
	// Velas planas: sin señales, sin trades, balance intacto.
	assert.Equal(t, 0, acc.TradesCount)
	assert.InDelta(t, 1000, acc.Balance, 1e-9)

	// Segundo tick sin velas nuevas: el checkpoint no se mueve.
	r.tick(ctx, false)
	again, err := db.GetPaperAccount(ctx, r.run.ID, configs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, *acc.LastCandleTs, *again.LastCandleTs)
}

func TestProcessAccount_CapsCheckpointAhead(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	seedFlatCandles(t, db, base, 120)

	optID := seedOptimizerTop(t, db, 1)
	r := newTestRunner(t, db, optID)
	require.NoError(t, r.Init(ctx))

	safeEnd, ok := r.safeEnd(ctx)
	require.True(t, ok)

	configs, err := db.GetPaperConfigs(ctx, r.run.ID, true)
	require.NoError(t, err)
	acc, err := db.GetPaperAccount(ctx, r.run.ID, configs[0].ID)
	require.NoError(t, err)

	ahead := safeEnd + 60*timeutil.MinuteMs
	acc.LastCandleTs = &ahead
	require.NoError(t, db.UpsertPaperAccount(ctx, acc))

	require.NoError(t, r.processAccount(ctx, &configs[0], safeEnd, true))

	fixed, err := db.GetPaperAccount(ctx, r.run.ID, configs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, fixed.LastCandleTs)
	// Capado a safeEnd−1m; start == safeEnd, así que el pase se salta.
	assert.Equal(t, safeEnd-timeutil.MinuteMs, *fixed.LastCandleTs)
}

func TestApplyKillRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.PaperAccount)
		reason string
	}{
		{"drawdown", func(a *domain.PaperAccount) { a.MaxDrawdownPct = 15 }, killMaxDD},
		{"profit factor", func(a *domain.PaperAccount) { a.ProfitFactor = 0.5 }, killMinPF},
		{"pnl", func(a *domain.PaperAccount) { a.Balance = 900 }, killMinPnL},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, err := storage.NewSQLiteStorage(":memory:")
			require.NoError(t, err)
			defer db.Close()
			ctx := context.Background()

			optID := seedOptimizerTop(t, db, 1)
			r := newTestRunner(t, db, optID)
			require.NoError(t, r.Init(ctx))

			configs, err := db.GetPaperConfigs(ctx, r.run.ID, true)
			require.NoError(t, err)
			acc, err := db.GetPaperAccount(ctx, r.run.ID, configs[0].ID)
			require.NoError(t, err)

			// Cuenta sana por defecto, con historial suficiente.
			acc.TradesCount = 60
			acc.ProfitFactor = 1.2
			tc.mutate(acc)

			killed, reason := r.applyKillRules(ctx, &configs[0], acc)
			require.True(t, killed)
			assert.Equal(t, tc.reason, reason)

			active, err := db.GetPaperConfigs(ctx, r.run.ID, true)
			require.NoError(t, err)
			assert.Empty(t, active)
		})
	}
}

func TestApplyKillRules_NeedsTradeHistory(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	optID := seedOptimizerTop(t, db, 1)
	r := newTestRunner(t, db, optID)
	require.NoError(t, r.Init(ctx))

	configs, err := db.GetPaperConfigs(ctx, r.run.ID, true)
	require.NoError(t, err)

	// Métricas desastrosas pero pocos trades: sin kill todavía.
	acc := &domain.PaperAccount{TradesCount: 10, MaxDrawdownPct: 40, ProfitFactor: 0.1, BalanceStart: 1000, Balance: 500}
	killed, _ := r.applyKillRules(ctx, &configs[0], acc)
	assert.False(t, killed)
}

func TestLeaderboard_SortsByEquity(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	optID := seedOptimizerTop(t, db, 3)
	r := newTestRunner(t, db, optID)
	require.NoError(t, r.Init(ctx))

	configs, err := db.GetPaperConfigs(ctx, r.run.ID, true)
	require.NoError(t, err)
	for i, cfg := range configs {
		acc, err := db.GetPaperAccount(ctx, r.run.ID, cfg.ID)
		require.NoError(t, err)
		acc.Equity = 1000 + float64(i*100)
		require.NoError(t, db.UpsertPaperAccount(ctx, acc))
	}

	rows, err := r.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.InDelta(t, 1200, rows[0].Account.Equity, 1e-9)
	assert.GreaterOrEqual(t, rows[0].Account.Equity, rows[1].Account.Equity)
	assert.GreaterOrEqual(t, rows[1].Account.Equity, rows[2].Account.Equity)
}
