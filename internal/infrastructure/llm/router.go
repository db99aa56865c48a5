package llm

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
)

const defaultTimeout = 120 * time.Second

// Credentials carries one API key per provider family.
type Credentials struct {
	OpenAI     string
	Anthropic  string
	Google     string
	OpenRouter string
}

// Config tunes how an adapter is constructed.
type Config struct {
	Keys Credentials
	// BaseURL overrides the provider endpoint root, mostly for tests and proxies.
	BaseURL    string
	HTTPClient *http.Client
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

type constructor func(model string, cfg Config) (ports.LLMProvider, error)

var constructors = map[string]constructor{
	"openai":     newOpenAIProvider,
	"openrouter": newOpenRouterProvider,
	"anthropic":  newAnthropicProvider,
	"google":     newGoogleProvider,
}

// Providers lists the supported prefixes.
func Providers() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse normalises a "provider/model" string and splits it on the first slash.
func Parse(modelRef string) (provider, model string, err error) {
	normalized := strings.ToLower(strings.TrimSpace(modelRef))
	provider, model, ok := strings.Cut(normalized, "/")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("%w: %q, expected provider/model", domain.ErrInvalidConfig, modelRef)
	}
	if _, known := constructors[provider]; !known {
		return "", "", fmt.Errorf("%w: provider %s is not supported", domain.ErrInvalidConfig, provider)
	}
	return provider, model, nil
}

// New resolves a "provider/model" string into a ready adapter.
func New(modelRef string, cfg Config) (ports.LLMProvider, error) {
	provider, model, err := Parse(modelRef)
	if err != nil {
		return nil, err
	}
	return constructors[provider](model, cfg)
}

func missingKey(provider, env string) error {
	return fmt.Errorf("%w: %s requires %s", domain.ErrMissingAPIKey, provider, env)
}
