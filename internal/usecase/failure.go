package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"newsimpact/internal/domain"
	"newsimpact/internal/metrics"
	"newsimpact/internal/ports"
)

// FailureMiddleware marks a job failed once its process_news task has used up every retry.
// Other actors are ignored.
type FailureMiddleware struct {
	articles ports.ArticleRepository
	logger   *slog.Logger
}

// NewFailureMiddleware wires the repository.
func NewFailureMiddleware(articles ports.ArticleRepository, logger *slog.Logger) *FailureMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureMiddleware{articles: articles, logger: logger.With("component", "failure_middleware")}
}

// AfterNack never returns an error: it runs after the queue gave up on the message.
func (m *FailureMiddleware) AfterNack(ctx context.Context, actor string, payload json.RawMessage, cause error) {
	if actor != ActorProcessNews {
		return
	}

	var args ProcessNewsPayload
	if err := json.Unmarshal(payload, &args); err != nil {
		m.logger.ErrorContext(ctx, "CRITICAL: undecodable process_news payload after final retry", "error", err)
		return
	}
	logger := m.logger.With("article_id", args.ArticleID)

	article, err := m.articles.Get(ctx, args.ArticleID)
	if err != nil {
		logger.ErrorContext(ctx, "CRITICAL: cannot load article after final retry", "error", err)
		return
	}
	if article.Status == domain.StatusFailed {
		logger.InfoContext(ctx, "article already marked failed")
		return
	}

	message := "processing retries exhausted"
	if cause != nil {
		message = cause.Error()
	}
	article.MarkFailed(message)
	if err := m.articles.Update(ctx, article); err != nil {
		logger.ErrorContext(ctx, "CRITICAL: cannot mark article failed after final retry", "error", err)
		return
	}
	metrics.RecordJob(domain.StatusFailed)
	logger.WarnContext(ctx, "article marked failed after final retry", "cause", message)
}
