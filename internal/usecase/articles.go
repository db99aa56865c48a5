package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
)

// ArticleService is the inbound side of the job lifecycle: submission, lookup and requeue.
type ArticleService struct {
	articles ports.ArticleRepository
	tasks    ports.TaskQueue
	now      func() time.Time
	logger   *slog.Logger
}

// NewArticleService wires the repository and the task queue.
func NewArticleService(articles ports.ArticleRepository, tasks ports.TaskQueue, logger *slog.Logger) *ArticleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArticleService{
		articles: articles,
		tasks:    tasks,
		now:      time.Now,
		logger:   logger.With("component", "articles"),
	}
}

// Submit persists a queued job and enqueues its process_news task.
// If the task cannot be enqueued the job is marked failed and the error returned.
func (s *ArticleService) Submit(ctx context.Context, content domain.ArticleContent, externalID *uuid.UUID) (*domain.Article, error) {
	if strings.TrimSpace(content.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidArticle)
	}

	article, err := domain.NewArticle(content, externalID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("new article: %w", err)
	}
	if err := s.articles.Create(ctx, article); err != nil {
		return nil, fmt.Errorf("create article: %w", err)
	}

	if err := s.enqueue(ctx, article); err != nil {
		article.MarkFailed(err.Error())
		if uErr := s.articles.Update(ctx, article); uErr != nil {
			s.logger.ErrorContext(ctx, "persist enqueue failure", "article_id", article.ID, "error", uErr)
		}
		return article, err
	}

	s.logger.InfoContext(ctx, "article submitted", "article_id", article.ID)
	return article, nil
}

// Get returns the job, or domain.ErrArticleNotFound.
func (s *ArticleService) Get(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	return s.articles.Get(ctx, id)
}

// List returns the newest jobs first.
func (s *ArticleService) List(ctx context.Context, limit int) ([]domain.Article, error) {
	return s.articles.List(ctx, limit)
}

// Requeue sends a new process_news task for a job that has not completed.
func (s *ArticleService) Requeue(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	article, err := s.articles.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if article.Status == domain.StatusCompleted {
		return article, fmt.Errorf("%w: status is %s", domain.ErrNotRequeueable, article.Status)
	}
	if err := s.enqueue(ctx, article); err != nil {
		return article, err
	}
	s.logger.InfoContext(ctx, "article requeued", "article_id", article.ID, "status", article.Status)
	return article, nil
}

func (s *ArticleService) enqueue(ctx context.Context, article *domain.Article) error {
	if _, err := s.tasks.Send(ctx, ActorProcessNews, ProcessNewsPayload{ArticleID: article.ID}); err != nil {
		return fmt.Errorf("enqueue %s: %w", ActorProcessNews, err)
	}
	return nil
}
