package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, env := range []string{
		configPathEnv, logLevelEnv, logFormatEnv, httpAddrEnv, redisURLEnv, redisHostEnv, redisPortEnv,
		redisPasswordEnv, storeDriverEnv, databaseDSNEnv, backendURLEnv, newsImpactLLMEnv,
		commandParseLLMEnv, variantEnv, llmBaseURLEnv, openAIKeyEnv, anthropicKeyEnv, geminiKeyEnv, openRouterKeyEnv,
		telegramTokenEnv, telegramChatIDEnv,
	} {
		t.Setenv(env, "")
	}
	t.Setenv(envFileEnv, filepath.Join(dir, "missing.env"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg := Load()
	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address())
	assert.Equal(t, 1, cfg.Queue.ProcessNews.MaxRetries)
	assert.Equal(t, 2, cfg.Queue.NotifyBackend.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Queue.ProcessNews.MinBackoff)
	assert.Equal(t, 10, cfg.LLM.ChunkSize)
	assert.Equal(t, "DEFAULT_COT", cfg.LLM.Variant)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.False(t, cfg.Alerts.Telegram.Enabled())
}

func TestLoadMergesYAMLAndEnvironment(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
rateLimit:
  limit: 3
  interval: 30s
queue:
  processNews:
    maxRetries: 4
llm:
  newsImpact: anthropic/claude-3-5-haiku
`), 0o600))
	t.Setenv(configPathEnv, path)
	t.Setenv(newsImpactLLMEnv, "openai/gpt-4.1-mini")
	t.Setenv(redisPortEnv, "6380")
	t.Setenv(openAIKeyEnv, "sk-test")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 3, cfg.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Interval)
	assert.Equal(t, 4, cfg.Queue.ProcessNews.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Queue.ProcessNews.MinBackoff)
	assert.Equal(t, "openai/gpt-4.1-mini", cfg.LLM.NewsImpact)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, "sk-test", cfg.LLM.Keys.OpenAI)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("BACKEND_API_URL=http://backend:3000\n"), 0o600))
	t.Setenv(envFileEnv, envFile)
	t.Cleanup(func() { os.Unsetenv(backendURLEnv) })
	os.Unsetenv(backendURLEnv)

	cfg := Load()
	assert.Equal(t, "http://backend:3000", cfg.Backend.URL)
}

func TestValidate(t *testing.T) {
	isolate(t)

	cfg := Load()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), backendURLEnv)
	assert.Contains(t, err.Error(), newsImpactLLMEnv)

	cfg.Backend.URL = "http://backend"
	cfg.LLM.NewsImpact = "openai/gpt-4.1-mini"
	assert.NoError(t, cfg.Validate())

	cfg.RateLimit.Interval = 500 * time.Microsecond
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rateLimit.interval")
}
