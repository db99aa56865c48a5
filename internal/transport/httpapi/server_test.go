package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"newsimpact/internal/domain"
	"newsimpact/internal/infrastructure/storage"
	"newsimpact/internal/usecase"
)

type nullQueue struct {
	fail bool
	sent int
}

func (q *nullQueue) Send(context.Context, string, any) (string, error) {
	if q.fail {
		return "", errors.New("queue down")
	}
	q.sent++
	return "1-0", nil
}

type mockParser struct {
	mock.Mock
}

func (m *mockParser) Parse(ctx context.Context, text string) (usecase.Intent, domain.Usage, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(usecase.Intent), domain.Usage{}, args.Error(1)
}

type fixture struct {
	repo    *storage.MemoryRepository
	queue   *nullQueue
	parser  *mockParser
	handler http.Handler
}

func newFixture() *fixture {
	f := &fixture{repo: storage.NewMemoryRepository(), queue: &nullQueue{}, parser: &mockParser{}}
	service := usecase.NewArticleService(f.repo, f.queue, nil)
	f.handler = NewServer(":0", service, f.parser, nil).Handler()
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAndGetArticle(t *testing.T) {
	f := newFixture()
	external := uuid.New()

	rec := f.do(http.MethodPost, "/articles", `{"title":"Rates cut","description":"<p>Central bank</p>","external_id":"`+external.String()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.StatusQueued, created.Status)
	assert.Equal(t, "Rates cut", created.Content.Title)
	assert.Equal(t, 1, f.queue.sent)

	rec = f.do(http.MethodGet, "/articles/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched domain.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
	require.NotNil(t, fetched.ExternalID)
	assert.Equal(t, external, *fetched.ExternalID)

	rec = f.do(http.MethodGet, "/articles?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Articles []domain.Article `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Articles, 1)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/articles", `{"description":"no title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/articles", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.queue.sent)
}

func TestSubmitWhenQueueIsDown(t *testing.T) {
	f := newFixture()
	f.queue.fail = true

	rec := f.do(http.MethodPost, "/articles", `{"title":"X","description":"Y"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var article domain.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &article))
	assert.Equal(t, domain.StatusFailed, article.Status)
}

func TestGetArticleNotFound(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/articles/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"article not found"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/articles/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequeueArticle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	article, err := domain.NewArticle(domain.ArticleContent{Title: "X"}, nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(ctx, article))
	article.MarkFailed("boom")
	require.NoError(t, f.repo.Update(ctx, article))

	rec := f.do(http.MethodPost, "/articles/"+article.ID.String()+"/requeue", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.queue.sent)

	article.MarkCompleted()
	require.NoError(t, f.repo.Update(ctx, article))
	rec = f.do(http.MethodPost, "/articles/"+article.ID.String()+"/requeue", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/articles/"+uuid.NewString()+"/requeue", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseCommand(t *testing.T) {
	f := newFixture()
	f.parser.On("Parse", mock.Anything, "show my wallet").Return(usecase.IntentWallet, nil).Once()
	f.parser.On("Parse", mock.Anything, "???").Return(usecase.IntentUnknown, errors.New("provider timeout")).Once()

	rec := f.do(http.MethodPost, "/commands/parse", `{"text":"show my wallet"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"intent":"wallet"},"error":null,"error_code":null}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/commands/parse", `{"text":"???"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data      commandResult `json:"data"`
		Error     string        `json:"error"`
		ErrorCode string        `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, usecase.IntentUnknown, resp.Data.Intent)
	assert.Equal(t, "parsing_failed", resp.ErrorCode)
	assert.Contains(t, resp.Error, "provider timeout")

	f.parser.AssertExpectations(t)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
