package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"newsimpact/internal/metrics"
	"newsimpact/internal/ports"
)

// ImpactNotifier delivers queued impact notifications to the backend.
type ImpactNotifier struct {
	sender ports.ImpactSender
	logger *slog.Logger
}

// NewImpactNotifier wires the backend sender.
func NewImpactNotifier(sender ports.ImpactSender, logger *slog.Logger) *ImpactNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImpactNotifier{sender: sender, logger: logger.With("component", "notifier")}
}

// Handle posts one impact. Errors are returned so the queue retries the task.
func (n *ImpactNotifier) Handle(ctx context.Context, payload NotifyBackendPayload) error {
	if err := n.sender.SendImpact(ctx, payload.ArticleExternalID, payload.Impact); err != nil {
		metrics.RecordNotification("failed")
		n.logger.WarnContext(ctx, "impact notification failed",
			"article_external_id", payload.ArticleExternalID,
			"stock_id", payload.Impact.StockID,
			"error", err,
		)
		return fmt.Errorf("send impact: %w", err)
	}
	metrics.RecordNotification("sent")
	n.logger.DebugContext(ctx, "impact notification sent",
		"article_external_id", payload.ArticleExternalID,
		"stock_id", payload.Impact.StockID,
		"impact", payload.Impact.Impact,
	)
	return nil
}
