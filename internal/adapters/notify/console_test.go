package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alejandrodnm/perpbot/internal/adapters/notify"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRanked(rank int, score float64) domain.RankedConfig {
	return domain.RankedConfig{
		RunID: "run-1",
		Rank:  rank,
		Score: score,
		Config: domain.StrategyConfig{
			EntryTrigger: domain.TriggerEither,
			RRTarget:     2.0,
			SLATRBuffer:  0.3,
			TakerFeeBps:  5,
			SlippageBps:  2,
			MinRiskPct:   0.001,
		},
		Metrics: domain.BacktestMetrics{
			Trades: 20, Winrate: 0.55, ExpectancyPct: 0.8,
			ProfitFactor: 1.7, TotalPnLPct: 12, MaxDrawdownPct: 6,
		},
	}
}

func TestConsole_OptimizerDone_Table(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	run := domain.OptimizerRun{
		ID: "run-1", Symbol: "BTC-PERPETUAL",
		TotalConfigs: 48, ValidConfigs: 40,
	}
	err := c.NotifyOptimizerDone(context.Background(), run, []domain.RankedConfig{
		makeRanked(1, 1.4), makeRanked(2, 1.2),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "configs=48 valid=40")
	assert.Contains(t, out, "t=either_rr=2.0_slb=0.3")
	assert.Contains(t, out, "1.400")
}

func TestConsole_OptimizerDone_EmptyTop(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	err := c.NotifyOptimizerDone(context.Background(), domain.OptimizerRun{ID: "run-2"}, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no configs survived")
}

func TestConsole_NotifyKill(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	cfg := domain.PaperConfig{RunID: "run-1", Rank: 3, Config: makeRanked(3, 1).Config}
	acc := domain.PaperAccount{
		BalanceStart: 1000, Balance: 950,
		MaxDrawdownPct: 13.5, ProfitFactor: 0.6, TradesCount: 60,
	}
	err := c.NotifyKill(context.Background(), cfg, acc, "max_dd")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "KILL rank=3")
	assert.Contains(t, out, "reason=max_dd")
	assert.Contains(t, out, "dd=13.50%")
}

func TestWebhook_NotifyKill(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(srv.URL)
	cfg := domain.PaperConfig{RunID: "run-1", Rank: 2, Config: makeRanked(2, 1).Config}
	acc := domain.PaperAccount{BalanceStart: 1000, Balance: 1050, TradesCount: 10}

	require.NoError(t, wh.NotifyKill(context.Background(), cfg, acc, "min_pf"))
	assert.Equal(t, "paper_kill", got["event"])
	assert.Equal(t, "min_pf", got["reason"])
	assert.EqualValues(t, 2, got["rank"])
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(srv.URL)
	err := wh.NotifyOptimizerDone(context.Background(), domain.OptimizerRun{ID: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
