package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
)

// MemoryRepository keeps jobs in process memory. Useful for tests and single-process runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	articles map[uuid.UUID]*domain.Article
	now      func() time.Time
}

var _ ports.ArticleRepository = (*MemoryRepository)(nil)

// NewMemoryRepository builds an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{articles: map[uuid.UUID]*domain.Article{}, now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, article *domain.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.articles[article.ID]; exists {
		return fmt.Errorf("article %s already exists", article.ID)
	}
	r.articles[article.ID] = article.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*domain.Article, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.articles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrArticleNotFound, id)
	}
	return stored.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, article *domain.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.articles[article.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrArticleNotFound, article.ID)
	}
	if stored.Version != article.Version {
		return fmt.Errorf("%w: %s", domain.ErrVersionConflict, article.ID)
	}

	article.Version++
	article.UpdatedAt = r.now().UTC()
	next := article.Clone()
	next.Content = stored.Content
	next.CreatedAt = stored.CreatedAt
	r.articles[article.ID] = next
	return nil
}

func (r *MemoryRepository) List(_ context.Context, limit int) ([]domain.Article, error) {
	r.mu.RLock()
	result := make([]domain.Article, 0, len(r.articles))
	for _, a := range r.articles {
		result = append(result, *a.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
