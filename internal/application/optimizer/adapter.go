package optimizer

import (
	"context"

	"github.com/alejandrodnm/perpbot/internal/application/backtest"
	"github.com/alejandrodnm/perpbot/internal/domain"
)

// engineAdapter adapta el motor de backtest real al contrato Backtester.
type engineAdapter struct {
	engine *backtest.Engine
}

// WrapEngine envuelve un backtest.Engine para usarlo en el optimizer.
func WrapEngine(e *backtest.Engine) Backtester {
	return engineAdapter{engine: e}
}

func (a engineAdapter) Run(ctx context.Context, startTs, endTs int64, cfg domain.StrategyConfig) (*BacktestOutput, error) {
	res, err := a.engine.Run(ctx, startTs, endTs, cfg)
	if err != nil {
		return nil, err
	}
	return &BacktestOutput{Metrics: res.Metrics}, nil
}
