package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"newsimpact/internal/domain"
	"newsimpact/internal/schema"
)

// ArticleRepository persists processing jobs.
// Update must reject writes whose Version is stale with domain.ErrVersionConflict.
type ArticleRepository interface {
	Create(ctx context.Context, article *domain.Article) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Article, error)
	Update(ctx context.Context, article *domain.Article) error
	List(ctx context.Context, limit int) ([]domain.Article, error)
}

// StockSource lists the instruments articles are classified against.
type StockSource interface {
	ListStocks(ctx context.Context) ([]domain.Stock, error)
}

// ImpactSender delivers one impact to the backend.
type ImpactSender interface {
	SendImpact(ctx context.Context, articleExternalID uuid.UUID, impact domain.Impact) error
}

// RateLimiter gates job starts across workers.
type RateLimiter interface {
	Acquire(ctx context.Context) (bool, error)
}

// TaskQueue enqueues background tasks by actor name.
type TaskQueue interface {
	Send(ctx context.Context, actor string, payload any) (string, error)
}

// LLMProvider executes a prompt and returns a payload conforming to the given schema.
type LLMProvider interface {
	Name() string
	PromptStructured(ctx context.Context, messages []domain.Message, responseSchema *schema.Schema, opts domain.PromptOptions) (map[string]any, domain.Usage, error)
}

// ImpactClassifier runs chunked classification of an article against stocks.
type ImpactClassifier interface {
	Classify(ctx context.Context, content domain.ArticleContent, stocks []domain.Stock) ([]domain.ChunkResult, error)
}

// Scheduler runs a job periodically until stopped.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
