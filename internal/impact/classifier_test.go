package impact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"newsimpact/internal/domain"
	"newsimpact/internal/infrastructure/llm"
	"newsimpact/internal/ports"
	"newsimpact/internal/schema"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) PromptStructured(ctx context.Context, messages []domain.Message, s *schema.Schema, opts domain.PromptOptions) (map[string]any, domain.Usage, error) {
	args := m.Called(ctx, messages, s, opts)
	parsed, _ := args.Get(0).(map[string]any)
	return parsed, args.Get(1).(domain.Usage), args.Error(2)
}

// scriptedProvider answers every call through respond and records what it saw.
type scriptedProvider struct {
	respond func(call int, symbols []string) (map[string]any, error)
	calls   [][]domain.Message
	schemas []*schema.Schema
	opts    []domain.PromptOptions
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) PromptStructured(_ context.Context, messages []domain.Message, s *schema.Schema, opts domain.PromptOptions) (map[string]any, domain.Usage, error) {
	call := len(p.calls)
	p.calls = append(p.calls, messages)
	p.schemas = append(p.schemas, s)
	p.opts = append(p.opts, opts)

	var symbols []string
	for _, prop := range s.Properties() {
		symbols = append(symbols, prop.Name)
	}
	parsed, err := p.respond(call, symbols)
	tokens := 10 * (call + 1)
	return parsed, domain.Usage{InputTokens: &tokens}, err
}

type usageLog struct {
	entries []domain.Usage
}

func (u *usageLog) RecordUsage(_ string, usage domain.Usage) {
	u.entries = append(u.entries, usage)
}

func makeStocks(n int) []domain.Stock {
	stocks := make([]domain.Stock, n)
	for i := range stocks {
		stocks[i] = domain.Stock{ID: uuid.New(), Symbol: fmt.Sprintf("S%02d", i), Name: fmt.Sprintf("Stock %d", i)}
	}
	return stocks
}

func uniform(label string, cot bool) func(int, []string) (map[string]any, error) {
	return func(_ int, symbols []string) (map[string]any, error) {
		out := map[string]any{}
		for _, s := range symbols {
			entry := map[string]any{FieldImpact: label}
			if cot {
				entry[FieldArticleReasoning] = "summary of " + s
				entry[FieldImpactReasoning] = "because " + s
			}
			out[s] = entry
		}
		return out, nil
	}
}

func newTestClassifier(p ports.LLMProvider, variant VariantName, usage UsageRecorder) *Classifier {
	opts := DefaultOptions()
	opts.Variant = variants[variant]
	opts.Usage = usage
	return NewClassifier(p, opts)
}

func TestPartition(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		count int
		want  []int
	}{
		"empty":       {count: 0, want: []int{}},
		"exact":       {count: 10, want: []int{10}},
		"one over":    {count: 11, want: []int{10, 1}},
		"twenty five": {count: 25, want: []int{10, 10, 5}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			stocks := makeStocks(tc.count)
			chunks := Partition(stocks, 10)
			sizes := make([]int, len(chunks))
			var flat []domain.Stock
			for i, c := range chunks {
				sizes[i] = len(c)
				flat = append(flat, c...)
			}
			assert.Equal(t, tc.want, sizes)
			assert.Equal(t, len(stocks), len(flat))
			for i := range flat {
				assert.Equal(t, stocks[i].Symbol, flat[i].Symbol)
			}
		})
	}
}

func TestClassifyRejectsDuplicateSymbolsBeforeCallingProvider(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	stocks := makeStocks(3)
	stocks[2].Symbol = stocks[0].Symbol

	results, err := newTestClassifier(provider, DefaultCoT, &usageLog{}).Classify(context.Background(), domain.ArticleContent{Title: "x"}, stocks)
	assert.ErrorIs(t, err, domain.ErrDuplicateSymbol)
	assert.Nil(t, results)
	provider.AssertNotCalled(t, "PromptStructured", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClassifyChunksSequentiallyAndRecordsUsagePerChunk(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{respond: uniform("low", true)}
	usage := &usageLog{}
	stocks := makeStocks(25)

	results, err := newTestClassifier(provider, DefaultCoT, usage).Classify(context.Background(), domain.ArticleContent{Title: "T", Description: "D"}, stocks)
	require.NoError(t, err)

	require.Len(t, results, 3)
	require.Len(t, provider.calls, 3)
	require.Len(t, usage.entries, 3)
	assert.Equal(t, 10, *usage.entries[0].InputTokens)
	assert.Equal(t, 30, *usage.entries[2].InputTokens)

	assert.Len(t, results[0].Impacts, 10)
	assert.Len(t, results[2].Impacts, 5)
	assert.Equal(t, stocks[20].ID, results[2].Impacts[0].StockID)
	for _, opts := range provider.opts {
		assert.Equal(t, 0.5, opts.Temperature)
	}
}

func TestClassifyPromptsAndSchema(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{respond: uniform("none", true)}
	city := "Warsaw"
	stocks := []domain.Stock{
		{ID: uuid.New(), Symbol: "ZZZ", Name: "Zeta", Description: "Zinc miner", City: &city},
		{ID: uuid.New(), Symbol: "AAA", Name: "Alpha", Description: "Airline"},
	}

	_, err := newTestClassifier(provider, DefaultCoT, &usageLog{}).Classify(context.Background(), domain.ArticleContent{Title: "Strike", Description: "<p>Pilots strike</p>"}, stocks)
	require.NoError(t, err)
	require.Len(t, provider.calls, 1)

	messages := provider.calls[0]
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Text, "symbol: ZZZ")
	assert.Contains(t, messages[0].Text, "description: Airline")
	assert.Contains(t, messages[0].Text, "city: Warsaw")
	assert.NotContains(t, messages[0].Text, stocksPlaceholder)

	assert.Equal(t, domain.RoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Text, "Title: Strike")
	assert.Contains(t, messages[1].Text, "none, low, medium, high, severe")

	s := provider.schemas[0]
	props := s.Properties()
	require.Len(t, props, 2)
	assert.Equal(t, "ZZZ", props[0].Name)
	assert.Equal(t, "AAA", props[1].Name)
	fields := props[0].Schema.Properties()
	require.Len(t, fields, 3)
	assert.Equal(t, FieldArticleReasoning, fields[0].Name)
	assert.Equal(t, FieldImpactReasoning, fields[1].Name)
	assert.Equal(t, FieldImpact, fields[2].Name)
}

func TestClassifySanitizesDescription(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{respond: uniform("none", false)}
	opts := DefaultOptions()
	opts.Variant = variants[DefaultNoCoT]
	opts.Usage = &usageLog{}
	opts.Sanitize = strings.ToUpper

	_, err := NewClassifier(provider, opts).Classify(context.Background(), domain.ArticleContent{Title: "t", Description: "quiet"}, makeStocks(1))
	require.NoError(t, err)
	assert.Contains(t, provider.calls[0][1].Text, "Description: QUIET")
}

func TestClassifyNoCoTSchemaAndNullReason(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{respond: uniform("medium", false)}
	results, err := newTestClassifier(provider, AlternativeNoCoT, &usageLog{}).Classify(context.Background(), domain.ArticleContent{Title: "t"}, makeStocks(2))
	require.NoError(t, err)

	fields := provider.schemas[0].Properties()[0].Schema.Properties()
	require.Len(t, fields, 1)
	assert.Equal(t, FieldImpact, fields[0].Name)

	require.Len(t, results[0].Impacts, 2)
	for _, imp := range results[0].Impacts {
		assert.Equal(t, domain.SeverityMedium, imp.Impact)
		assert.Nil(t, imp.Reason)
	}
	assert.Contains(t, provider.calls[0][0].Text, "equity research desk")
}

func TestClassifyConcatenatesReasoning(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{respond: uniform("severe", true)}
	stocks := makeStocks(1)
	results, err := newTestClassifier(provider, DefaultCoT, &usageLog{}).Classify(context.Background(), domain.ArticleContent{Title: "t"}, stocks)
	require.NoError(t, err)

	require.Len(t, results[0].Impacts, 1)
	reason := results[0].Impacts[0].Reason
	require.NotNil(t, reason)
	assert.Equal(t, "summary of S00\nbecause S00", *reason)
}

func TestClassifySkipsFailedChunkAndContinues(t *testing.T) {
	t.Parallel()

	boom := errors.New("provider unavailable")
	provider := &scriptedProvider{respond: func(call int, symbols []string) (map[string]any, error) {
		if call == 0 {
			return nil, boom
		}
		return uniform("high", true)(call, symbols)
	}}
	usage := &usageLog{}

	results, err := newTestClassifier(provider, DefaultCoT, usage).Classify(context.Background(), domain.ArticleContent{Title: "t"}, makeStocks(15))
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.True(t, results[0].Skipped())
	assert.ErrorIs(t, results[0].Err, boom)
	assert.Empty(t, results[0].Impacts)
	assert.False(t, results[1].Skipped())
	assert.Len(t, results[1].Impacts, 5)
	assert.Len(t, usage.entries, 1)
}

func TestClassifySkipsMalformedStockOnly(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{respond: func(_ int, symbols []string) (map[string]any, error) {
		return map[string]any{
			symbols[0]: map[string]any{FieldImpact: "low"},
			symbols[1]: "not an object",
			symbols[2]: map[string]any{FieldImpact: "catastrophic"},
		}, nil
	}}

	stocks := makeStocks(4)
	results, err := newTestClassifier(provider, DefaultNoCoT, &usageLog{}).Classify(context.Background(), domain.ArticleContent{Title: "t"}, stocks)
	require.NoError(t, err)

	require.Len(t, results, 1)
	require.Len(t, results[0].Impacts, 1)
	assert.Equal(t, stocks[0].ID, results[0].Impacts[0].StockID)
}

func TestClassifySkipsMalformedStockFromProviderResponse(t *testing.T) {
	t.Parallel()

	stocks := makeStocks(3)
	content, err := json.Marshal(map[string]any{
		stocks[0].Symbol: map[string]any{FieldArticleReasoning: "a", FieldImpactReasoning: "b", FieldImpact: "high"},
		stocks[1].Symbol: map[string]any{FieldArticleReasoning: "c", FieldImpactReasoning: "d", FieldImpact: "extreme"},
	})
	require.NoError(t, err)
	quoted, err := json.Marshal(string(content))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":`+string(quoted)+`},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(srv.Close)

	provider, err := llm.New("openai/gpt-test", llm.Config{Keys: llm.Credentials{OpenAI: "sk"}, BaseURL: srv.URL})
	require.NoError(t, err)

	results, err := newTestClassifier(provider, DefaultCoT, &usageLog{}).Classify(context.Background(), domain.ArticleContent{Title: "t"}, stocks)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.False(t, results[0].Skipped())
	require.Len(t, results[0].Impacts, 1)
	assert.Equal(t, stocks[0].ID, results[0].Impacts[0].StockID)
	assert.Equal(t, domain.SeverityHigh, results[0].Impacts[0].Impact)
}

func TestClassifyWithMockProviderUsesChunkSchema(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	stocks := makeStocks(2)
	tokens := 7
	provider.On("PromptStructured", mock.Anything, mock.Anything,
		mock.MatchedBy(func(s *schema.Schema) bool {
			return len(s.Properties()) == 2 && s.Required()[0] == stocks[0].Symbol
		}),
		domain.PromptOptions{Temperature: 0.5},
	).Return(map[string]any{
		stocks[0].Symbol: map[string]any{FieldImpact: "high", FieldArticleReasoning: "a", FieldImpactReasoning: "b"},
		stocks[1].Symbol: map[string]any{FieldImpact: "none", FieldArticleReasoning: "c", FieldImpactReasoning: "d"},
	}, domain.Usage{OutputTokens: &tokens}, nil).Once()

	results, err := newTestClassifier(provider, DefaultCoT, &usageLog{}).Classify(context.Background(), domain.ArticleContent{Title: "t"}, stocks)
	require.NoError(t, err)
	provider.AssertExpectations(t)

	require.Len(t, results[0].Impacts, 2)
	assert.Equal(t, domain.SeverityHigh, results[0].Impacts[0].Impact)
	require.NotNil(t, results[0].Usage)
	assert.Equal(t, 7, *results[0].Usage.OutputTokens)
}

func TestClassifyStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &scriptedProvider{respond: uniform("none", false)}

	_, err := newTestClassifier(provider, DefaultCoT, &usageLog{}).Classify(ctx, domain.ArticleContent{}, makeStocks(3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, provider.calls)
}

func TestSelectVariant(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultCoT, SelectVariant("", nil).Name)
	assert.Equal(t, AlternativeNoCoT, SelectVariant("ALTERNATIVE_NO_COT", nil).Name)
	assert.Equal(t, DefaultCoT, SelectVariant("SOMETHING_ELSE", nil).Name)
	assert.False(t, SelectVariant("DEFAULT_NO_COT", nil).UseCoT)
	assert.Len(t, VariantNames(), 4)
}
