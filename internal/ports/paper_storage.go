package ports

import (
	"context"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// PaperStorage persists paper-run state: runs, configs, accounts, trades,
// equity snapshots and audit events.
type PaperStorage interface {
	CreatePaperRun(ctx context.Context, run *domain.PaperRun) error
	GetPaperRun(ctx context.Context, runID string) (*domain.PaperRun, error)
	UpdatePaperRunStatus(ctx context.Context, runID string, status domain.PaperRunStatus) error

	SavePaperConfig(ctx context.Context, cfg *domain.PaperConfig) error
	GetPaperConfigs(ctx context.Context, runID string, activeOnly bool) ([]domain.PaperConfig, error)
	DeactivatePaperConfig(ctx context.Context, configID, reason string) error

	UpsertPaperAccount(ctx context.Context, acc *domain.PaperAccount) error
	GetPaperAccount(ctx context.Context, runID, configID string) (*domain.PaperAccount, error)

	// InsertPaperTrade is idempotent on (runID, configID, openedTs, side,
	// entry): a duplicate insert returns the existing row's id.
	InsertPaperTrade(ctx context.Context, trade *domain.Trade) (string, error)
	ClosePaperTrade(ctx context.Context, trade *domain.Trade) error

	UpsertEquitySnapshot(ctx context.Context, snap domain.EquitySnapshot) error
	AppendPaperEvent(ctx context.Context, ev domain.PaperEvent) error
}
