package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsimpact/internal/domain"
)

func allKeys() Config {
	return Config{Keys: Credentials{OpenAI: "o", Anthropic: "a", Google: "g", OpenRouter: "r"}}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		modelRef     string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		"openai":              {modelRef: "openai/gpt-4o", wantProvider: "openai", wantModel: "gpt-4o"},
		"mixed case":          {modelRef: "  Anthropic/Claude-Sonnet-4 ", wantProvider: "anthropic", wantModel: "claude-sonnet-4"},
		"first slash only":    {modelRef: "openrouter/meta-llama/llama-3.1-70b", wantProvider: "openrouter", wantModel: "meta-llama/llama-3.1-70b"},
		"google":              {modelRef: "google/gemini-2.0-flash", wantProvider: "google", wantModel: "gemini-2.0-flash"},
		"no slash":            {modelRef: "gpt-4o", wantErr: true},
		"empty model":         {modelRef: "openai/", wantErr: true},
		"empty provider":      {modelRef: "/gpt-4o", wantErr: true},
		"unsupported":         {modelRef: "mistral/large", wantErr: true},
		"empty configuration": {modelRef: "", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			provider, model, err := Parse(tc.modelRef)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantProvider, provider)
			assert.Equal(t, tc.wantModel, model)
		})
	}
}

func TestNewBuildsEachProvider(t *testing.T) {
	t.Parallel()

	for _, modelRef := range []string{"openai/gpt-4o", "openrouter/x/y", "anthropic/claude", "google/gemini"} {
		provider, err := New(modelRef, allKeys())
		require.NoError(t, err, modelRef)
		want, _, _ := Parse(modelRef)
		assert.Equal(t, want, provider.Name())
	}
	assert.Equal(t, []string{"anthropic", "google", "openai", "openrouter"}, Providers())
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	for _, modelRef := range []string{"openai/gpt-4o", "openrouter/x/y", "anthropic/claude", "google/gemini"} {
		_, err := New(modelRef, Config{})
		assert.ErrorIs(t, err, domain.ErrMissingAPIKey, modelRef)
	}
}

func TestSplitSystemJoinsInstructions(t *testing.T) {
	t.Parallel()

	system, rest := splitSystem([]domain.Message{
		domain.SystemMessage("first"),
		domain.UserMessage("question"),
		domain.SystemMessage("second"),
	})
	assert.Equal(t, "first\nsecond", system)
	require.Len(t, rest, 1)
	assert.Equal(t, "question", rest[0].Text)
}
