package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// Webhook implementa ports.Notifier con un POST JSON genérico (Slack,
// Discord, ntfy... cualquier endpoint que acepte JSON).
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook crea un notificador webhook para el endpoint dado.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyKill publica el evento de kill de una config paper.
func (w *Webhook) NotifyKill(ctx context.Context, cfg domain.PaperConfig, acc domain.PaperAccount, reason string) error {
	return w.post(ctx, map[string]any{
		"event":      "paper_kill",
		"run_id":     cfg.RunID,
		"rank":       cfg.Rank,
		"config":     cfg.Config.ID(),
		"reason":     reason,
		"trades":     acc.TradesCount,
		"pnl_pct":    acc.RealizedPnLPct(),
		"max_dd_pct": acc.MaxDrawdownPct,
		"pf":         acc.ProfitFactor,
	})
}

// NotifyOptimizerDone publica el resumen del run con su top.
func (w *Webhook) NotifyOptimizerDone(ctx context.Context, run domain.OptimizerRun, top []domain.RankedConfig) error {
	rows := make([]map[string]any, 0, len(top))
	for _, r := range top {
		rows = append(rows, map[string]any{
			"rank":    r.Rank,
			"config":  r.Config.ID(),
			"score":   r.Score,
			"exp_pct": r.Metrics.ExpectancyPct,
			"dd_pct":  r.Metrics.MaxDrawdownPct,
			"trades":  r.Metrics.Trades,
		})
	}
	return w.post(ctx, map[string]any{
		"event":         "optimizer_done",
		"run_id":        run.ID,
		"symbol":        run.Symbol,
		"total_configs": run.TotalConfigs,
		"valid_configs": run.ValidConfigs,
		"top":           rows,
	})
}

func (w *Webhook) post(ctx context.Context, payload map[string]any) error {
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
