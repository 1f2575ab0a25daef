package domain

// BacktestMetrics is the aggregate outcome of one backtest run.
type BacktestMetrics struct {
	Trades         int
	Wins           int
	Losses         int
	Winrate        float64 // fractional, 0..1
	TotalPnLPct    float64
	ExpectancyPct  float64
	ProfitFactor   float64 // +Inf when there are no losing trades
	MaxDrawdownPct float64 // on the compounded equity curve, start = 100
	AvgDurationMin float64
}

// OptimizerRun is the persisted header row of one grid-search run.
type OptimizerRun struct {
	ID           string
	Symbol       string
	TrainStartTs int64
	TrainEndTs   int64
	DDLimitPct   float64
	TotalConfigs int
	ValidConfigs int
	CreatedTs    int64
}

// RankedConfig is one scored grid entry (top rows and optional all rows).
type RankedConfig struct {
	RunID   string
	Rank    int // 1..10 for top rows, 0 for all-config rows
	Score   float64
	Config  StrategyConfig
	Metrics BacktestMetrics
}

// OOSResult is the out-of-sample re-run of a top-ranked config.
type OOSResult struct {
	RunID   string
	Rank    int
	Symbol  string
	StartTs int64
	EndTs   int64
	Metrics BacktestMetrics
}

// PaperRunStatus is the lifecycle state of a paper run.
type PaperRunStatus string

const (
	PaperRunning  PaperRunStatus = "running"
	PaperStopped  PaperRunStatus = "stopped"
	PaperFinished PaperRunStatus = "finished"
)

// PaperRun is one live-simulation session over ranked configs.
type PaperRun struct {
	ID             string
	Symbol         string
	TimeframeMin   int // base timeframe, always 1
	Status         PaperRunStatus
	OptimizerRunID string
	CreatedTs      int64
}

// PaperConfig binds a ranked strategy config to a paper run.
type PaperConfig struct {
	ID         string
	RunID      string
	Rank       int
	Config     StrategyConfig
	IsActive   bool
	KillReason string
}

// PaperAccount is the simulated account of one PaperConfig.
// Invariants: Equity <= MaxEquity; MaxDrawdownPct >= 0; at most one open
// position per side.
type PaperAccount struct {
	RunID         string
	ConfigID      string
	BalanceStart  float64
	Balance       float64
	Equity        float64
	MaxEquity     float64
	MaxDrawdownPct float64
	Open          OpenPositions
	TradesCount   int
	WinsCount     int
	LossesCount   int
	GrossWinAbs   float64 // Σ pnlAbs of winners, for the real profit factor
	GrossLossAbs  float64 // Σ |pnlAbs| of losers
	ProfitFactor  float64
	LastCandleTs  *int64
}

// RealizedPnLPct is the realized return vs starting balance, ×100.
func (a *PaperAccount) RealizedPnLPct() float64 {
	if a.BalanceStart <= 0 {
		return 0
	}
	return (a.Balance - a.BalanceStart) / a.BalanceStart * 100
}

// RecomputeProfitFactor aggregates real per-trade pnl sums. With winners and
// no losers the factor saturates rather than reporting +Inf to the store.
func (a *PaperAccount) RecomputeProfitFactor() {
	switch {
	case a.GrossLossAbs > 0:
		a.ProfitFactor = a.GrossWinAbs / a.GrossLossAbs
	case a.GrossWinAbs > 0:
		a.ProfitFactor = 999
	default:
		a.ProfitFactor = 0
	}
}

// EquitySnapshot is a periodic equity observation, unique on
// (RunID, ConfigID, Ts).
type EquitySnapshot struct {
	RunID    string
	ConfigID string
	Ts       int64
	Equity   float64
	Balance  float64
	DDPct    float64
}

// PaperEvent is an append-only audit row (kills, corrective checkpoints...).
type PaperEvent struct {
	RunID    string
	ConfigID string
	Ts       int64
	Level    string // info | warn
	Kind     string // kill | checkpoint_capped | resumed | stopped
	Message  string
}
