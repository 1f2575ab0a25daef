package ports

import (
	"context"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// OptimizerStorage persiste runs del optimizer y sus rankings.
type OptimizerStorage interface {
	CreateOptimizerRun(ctx context.Context, run *domain.OptimizerRun) error

	// PatchOptimizerRunTotals actualiza totalConfigs/validConfigs al terminar el grid.
	PatchOptimizerRunTotals(ctx context.Context, runID string, total, valid int) error

	SaveTopConfig(ctx context.Context, row domain.RankedConfig) error
	SaveAllConfig(ctx context.Context, row domain.RankedConfig) error
	SaveOOSResult(ctx context.Context, row domain.OOSResult) error

	GetOptimizerRun(ctx context.Context, runID string) (*domain.OptimizerRun, error)
	GetTopConfigs(ctx context.Context, runID string, limit int) ([]domain.RankedConfig, error)
}
