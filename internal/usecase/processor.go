package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"newsimpact/internal/domain"
	"newsimpact/internal/metrics"
	"newsimpact/internal/ports"
)

// Actor names of the background tasks.
const (
	ActorProcessNews   = "process_news"
	ActorNotifyBackend = "notify_backend"
)

// ProcessNewsPayload is the process_news task argument.
type ProcessNewsPayload struct {
	ArticleID uuid.UUID `json:"article_id"`
}

// NotifyBackendPayload is the notify_backend task argument.
type NotifyBackendPayload struct {
	ArticleExternalID uuid.UUID     `json:"article_external_id"`
	Impact            domain.Impact `json:"impact"`
}

// ProcessorDeps wires the driven adapters into the job orchestrator.
type ProcessorDeps struct {
	Articles   ports.ArticleRepository
	Stocks     ports.StockSource
	Classifier ports.ImpactClassifier
	Limiter    ports.RateLimiter
	Tasks      ports.TaskQueue
	Logger     *slog.Logger
}

// ArticleProcessor runs one classification job end to end.
type ArticleProcessor struct {
	articles   ports.ArticleRepository
	stocks     ports.StockSource
	classifier ports.ImpactClassifier
	limiter    ports.RateLimiter
	tasks      ports.TaskQueue
	logger     *slog.Logger
}

// NewArticleProcessor constructs the orchestrator.
func NewArticleProcessor(deps ProcessorDeps) *ArticleProcessor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ArticleProcessor{
		articles:   deps.Articles,
		stocks:     deps.Stocks,
		classifier: deps.Classifier,
		limiter:    deps.Limiter,
		tasks:      deps.Tasks,
		logger:     logger.With("component", "processor"),
	}
}

// Process classifies the article and enqueues one backend notification per impact.
//
// A nil return means the delivery is finished: the job completed, or there was nothing
// to do (unknown id, job already completed). Any error asks the queue to retry.
func (p *ArticleProcessor) Process(ctx context.Context, articleID uuid.UUID) error {
	logger := p.logger.With("article_id", articleID)

	if p.limiter != nil {
		acquired, err := p.limiter.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire rate limit: %w", err)
		}
		metrics.RecordRateLimit(acquired)
		if !acquired {
			logger.WarnContext(ctx, "rate limit slot not acquired")
			return domain.ErrRateLimited
		}
	}

	article, err := p.articles.Get(ctx, articleID)
	if errors.Is(err, domain.ErrArticleNotFound) {
		logger.WarnContext(ctx, "article not found, dropping task")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load article: %w", err)
	}

	if !article.Status.Resumable() {
		logger.InfoContext(ctx, "article already finished", "status", article.Status)
		return nil
	}
	if article.Status != domain.StatusQueued {
		logger.InfoContext(ctx, "resuming interrupted job", "status", article.Status)
	}

	article.MarkProcessing()
	if err := p.articles.Update(ctx, article); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := p.run(ctx, article, logger); err != nil {
		return p.fail(ctx, article, err, logger)
	}

	article.MarkCompleted()
	if err := p.articles.Update(ctx, article); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	metrics.RecordJob(domain.StatusCompleted)
	logger.InfoContext(ctx, "article processed", "impacts", len(article.ImpactedStocks))
	return nil
}

func (p *ArticleProcessor) run(ctx context.Context, article *domain.Article, logger *slog.Logger) error {
	stocks, err := p.stocks.ListStocks(ctx)
	if err != nil {
		return fmt.Errorf("list stocks: %w", err)
	}

	results, err := p.classifier.Classify(ctx, article.Content, stocks)
	if err != nil {
		return fmt.Errorf("classify article: %w", err)
	}

	var impacts []domain.Impact
	for _, chunk := range results {
		if chunk.Skipped() {
			logger.WarnContext(ctx, "chunk produced no impacts", "chunk", chunk.Index, "error", chunk.Err)
			continue
		}
		if chunk.Usage != nil {
			logger.DebugContext(ctx, "chunk usage",
				"chunk", chunk.Index,
				"input_tokens", deref(chunk.Usage.InputTokens),
				"output_tokens", deref(chunk.Usage.OutputTokens),
			)
		}
		impacts = append(impacts, chunk.Impacts...)
	}
	article.AppendImpacts(impacts...)

	omitted := p.dispatch(ctx, article, impacts, logger)
	if omitted > 0 {
		return fmt.Errorf("%w: omitted %d of %d impact notifications", domain.ErrNotificationLost, omitted, len(impacts))
	}
	return nil
}

// dispatch enqueues one notify_backend task per impact and returns how many could not be enqueued.
func (p *ArticleProcessor) dispatch(ctx context.Context, article *domain.Article, impacts []domain.Impact, logger *slog.Logger) int {
	if len(impacts) == 0 {
		return 0
	}
	if article.ExternalID == nil {
		logger.InfoContext(ctx, "article has no external id, skipping backend notifications", "impacts", len(impacts))
		for range impacts {
			metrics.RecordNotification("skipped")
		}
		return 0
	}

	omitted := 0
	for _, impact := range impacts {
		_, err := p.tasks.Send(ctx, ActorNotifyBackend, NotifyBackendPayload{
			ArticleExternalID: *article.ExternalID,
			Impact:            impact,
		})
		if err != nil {
			omitted++
			metrics.RecordNotification("omitted")
			logger.ErrorContext(ctx, "enqueue impact notification",
				"stock_id", impact.StockID,
				"error", err,
			)
			continue
		}
		metrics.RecordNotification("enqueued")
	}
	return omitted
}

func (p *ArticleProcessor) fail(ctx context.Context, article *domain.Article, cause error, logger *slog.Logger) error {
	article.MarkFailed(cause.Error())
	if err := p.articles.Update(ctx, article); err != nil {
		logger.ErrorContext(ctx, "persist failed status", "error", err, "cause", cause)
		return errors.Join(cause, fmt.Errorf("mark failed: %w", err))
	}
	metrics.RecordJob(domain.StatusFailed)
	logger.ErrorContext(ctx, "article processing failed", "error", cause)
	return cause
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
