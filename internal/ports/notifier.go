package ports

import (
	"context"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// Notifier publica eventos relevantes para el operador (kills, resúmenes).
type Notifier interface {
	// NotifyKill avisa de que una config fue desactivada por kill rule.
	NotifyKill(ctx context.Context, cfg domain.PaperConfig, acc domain.PaperAccount, reason string) error

	// NotifyOptimizerDone publica el resumen de un run del optimizer.
	NotifyOptimizerDone(ctx context.Context, run domain.OptimizerRun, top []domain.RankedConfig) error
}
