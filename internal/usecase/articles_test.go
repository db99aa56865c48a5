package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"newsimpact/internal/domain"
	"newsimpact/internal/infrastructure/storage"
	"newsimpact/internal/schema"
)

func TestSubmitQueuesArticle(t *testing.T) {
	repo := storage.NewMemoryRepository()
	queue := &recordingQueue{}
	service := NewArticleService(repo, queue, nil)
	external := uuid.New()

	article, err := service.Submit(context.Background(), domain.ArticleContent{Title: "Rates cut", Description: "..."}, &external)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, article.Status)
	assert.Empty(t, article.ImpactedStocks)

	tasks := queue.byActor(ActorProcessNews)
	require.Len(t, tasks, 1)
	assert.Equal(t, ProcessNewsPayload{ArticleID: article.ID}, tasks[0].payload)

	stored, err := service.Get(context.Background(), article.ID)
	require.NoError(t, err)
	assert.Equal(t, &external, stored.ExternalID)
}

func TestSubmitRejectsBlankTitle(t *testing.T) {
	service := NewArticleService(storage.NewMemoryRepository(), &recordingQueue{}, nil)

	_, err := service.Submit(context.Background(), domain.ArticleContent{Title: "  "}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArticle)
}

func TestSubmitMarksFailedWhenEnqueueFails(t *testing.T) {
	repo := storage.NewMemoryRepository()
	service := NewArticleService(repo, &recordingQueue{failOn: func(int) bool { return true }}, nil)

	article, err := service.Submit(context.Background(), domain.ArticleContent{Title: "X"}, nil)
	require.Error(t, err)
	require.NotNil(t, article)

	stored, gErr := repo.Get(context.Background(), article.ID)
	require.NoError(t, gErr)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestRequeue(t *testing.T) {
	repo := storage.NewMemoryRepository()
	queue := &recordingQueue{}
	service := NewArticleService(repo, queue, nil)

	failed := seedArticle(t, repo, nil)
	failed.MarkFailed("boom")
	require.NoError(t, repo.Update(context.Background(), failed))

	_, err := service.Requeue(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Len(t, queue.byActor(ActorProcessNews), 1)

	done := seedArticle(t, repo, nil)
	done.MarkCompleted()
	require.NoError(t, repo.Update(context.Background(), done))

	_, err = service.Requeue(context.Background(), done.ID)
	require.ErrorIs(t, err, domain.ErrNotRequeueable)
	assert.Len(t, queue.byActor(ActorProcessNews), 1)

	_, err = service.Requeue(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrArticleNotFound)
}

func TestFailureMiddlewareMarksExhaustedJobFailed(t *testing.T) {
	repo := storage.NewMemoryRepository()
	article := seedArticle(t, repo, nil)
	article.MarkProcessing()
	require.NoError(t, repo.Update(context.Background(), article))

	payload, err := json.Marshal(ProcessNewsPayload{ArticleID: article.ID})
	require.NoError(t, err)

	mw := NewFailureMiddleware(repo, nil)
	mw.AfterNack(context.Background(), ActorProcessNews, payload, errors.New("llm timeout"))

	stored, err := repo.Get(context.Background(), article.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "llm timeout", *stored.ErrorMessage)
}

func TestFailureMiddlewareLeavesFailedJobAndOtherActors(t *testing.T) {
	repo := storage.NewMemoryRepository()
	article := seedArticle(t, repo, nil)
	article.MarkFailed("first cause")
	require.NoError(t, repo.Update(context.Background(), article))
	version := article.Version

	payload, err := json.Marshal(ProcessNewsPayload{ArticleID: article.ID})
	require.NoError(t, err)

	mw := NewFailureMiddleware(repo, nil)
	mw.AfterNack(context.Background(), ActorProcessNews, payload, errors.New("second cause"))
	mw.AfterNack(context.Background(), ActorNotifyBackend, payload, errors.New("ignored"))
	mw.AfterNack(context.Background(), ActorProcessNews, json.RawMessage(`{`), nil)

	stored, err := repo.Get(context.Background(), article.ID)
	require.NoError(t, err)
	assert.Equal(t, "first cause", *stored.ErrorMessage)
	assert.Equal(t, version, stored.Version)
}

func TestFailureMiddlewareToleratesMissingArticle(t *testing.T) {
	repo := storage.NewMemoryRepository()
	payload, err := json.Marshal(ProcessNewsPayload{ArticleID: uuid.New()})
	require.NoError(t, err)

	mw := NewFailureMiddleware(repo, nil)
	assert.NotPanics(t, func() {
		mw.AfterNack(context.Background(), ActorProcessNews, payload, errors.New("llm timeout"))
	})

	listed, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

// rejectingUpdates serves reads from the wrapped repository and fails every write.
type rejectingUpdates struct {
	*storage.MemoryRepository
	err error
}

func (r rejectingUpdates) Update(context.Context, *domain.Article) error {
	return r.err
}

func TestFailureMiddlewareLogsWhenUpdateFails(t *testing.T) {
	repo := storage.NewMemoryRepository()
	article := seedArticle(t, repo, nil)
	article.MarkProcessing()
	require.NoError(t, repo.Update(context.Background(), article))

	payload, err := json.Marshal(ProcessNewsPayload{ArticleID: article.ID})
	require.NoError(t, err)

	mw := NewFailureMiddleware(rejectingUpdates{MemoryRepository: repo, err: domain.ErrVersionConflict}, nil)
	assert.NotPanics(t, func() {
		mw.AfterNack(context.Background(), ActorProcessNews, payload, errors.New("llm timeout"))
	})

	stored, err := repo.Get(context.Background(), article.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	assert.Nil(t, stored.ErrorMessage)
}

type senderFunc func(ctx context.Context, externalID uuid.UUID, impact domain.Impact) error

func (f senderFunc) SendImpact(ctx context.Context, externalID uuid.UUID, impact domain.Impact) error {
	return f(ctx, externalID, impact)
}

func TestImpactNotifier(t *testing.T) {
	external := uuid.New()
	payload := NotifyBackendPayload{
		ArticleExternalID: external,
		Impact:            domain.Impact{StockID: uuid.New(), Impact: domain.SeverityLow},
	}

	var got domain.Impact
	ok := NewImpactNotifier(senderFunc(func(_ context.Context, id uuid.UUID, impact domain.Impact) error {
		assert.Equal(t, external, id)
		got = impact
		return nil
	}), nil)
	require.NoError(t, ok.Handle(context.Background(), payload))
	assert.Equal(t, payload.Impact, got)

	failing := NewImpactNotifier(senderFunc(func(context.Context, uuid.UUID, domain.Impact) error {
		return errors.New("status 503")
	}), nil)
	err := failing.Handle(context.Background(), payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

type intentProvider struct {
	mock.Mock
}

func (m *intentProvider) Name() string { return "intent" }

func (m *intentProvider) PromptStructured(ctx context.Context, messages []domain.Message, s *schema.Schema, opts domain.PromptOptions) (map[string]any, domain.Usage, error) {
	args := m.Called(ctx, messages, s, opts)
	parsed, _ := args.Get(0).(map[string]any)
	return parsed, domain.Usage{}, args.Error(1)
}

func TestCommandParser(t *testing.T) {
	provider := &intentProvider{}
	provider.On("PromptStructured", mock.Anything, mock.Anything, mock.Anything, domain.PromptOptions{Temperature: 0}).
		Return(map[string]any{"intent": "wallet"}, nil).Once()
	provider.On("PromptStructured", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]any{"intent": "weather"}, nil).Once()
	provider.On("PromptStructured", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout")).Once()

	parser := NewCommandParser(provider, nil)

	intent, _, err := parser.Parse(context.Background(), "pokaż mój portfel")
	require.NoError(t, err)
	assert.Equal(t, IntentWallet, intent)

	intent, _, err = parser.Parse(context.Background(), "what's the weather?")
	require.ErrorIs(t, err, domain.ErrSchemaViolation)
	assert.Equal(t, IntentUnknown, intent)

	intent, _, err = parser.Parse(context.Background(), "show my stocks")
	require.Error(t, err)
	assert.Equal(t, IntentUnknown, intent)

	provider.AssertExpectations(t)
}

func TestCommandSchemaListsEveryIntent(t *testing.T) {
	prop, ok := commandSchema().Property("intent")
	require.True(t, ok)
	for _, intent := range Intents() {
		assert.NoError(t, commandSchema().Validate(map[string]any{"intent": string(intent)}))
	}
	assert.NotNil(t, prop)
	assert.Error(t, commandSchema().Validate(map[string]any{"intent": "weather"}))
}
