package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "NEWSIMPACT_CONFIG"
	envFileEnv    = "NEWSIMPACT_ENV_FILE"

	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	httpAddrEnv        = "HTTP_ADDR"
	redisURLEnv        = "REDIS_URL"
	redisHostEnv       = "REDIS_HOST"
	redisPortEnv       = "REDIS_PORT"
	redisPasswordEnv   = "REDIS_PASSWORD"
	storeDriverEnv     = "STORE_DRIVER"
	databaseDSNEnv     = "DATABASE_DSN"
	backendURLEnv      = "BACKEND_API_URL"
	newsImpactLLMEnv   = "NEWS_IMPACT_LLM"
	commandParseLLMEnv = "COMMAND_PARSE_LLM"
	variantEnv         = "NEWS_IMPACT_VARIANT"
	llmBaseURLEnv      = "LLM_BASE_URL"
	openAIKeyEnv       = "OPENAI_API_KEY"
	anthropicKeyEnv    = "ANTHROPIC_API_KEY"
	geminiKeyEnv       = "GEMINI_API_KEY"
	openRouterKeyEnv   = "OPENROUTER_API_KEY"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Store     StoreConfig     `yaml:"store"`
	Backend   BackendConfig   `yaml:"backend"`
	LLM       LLMConfig       `yaml:"llm"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// LoggingConfig sets the slog level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig configures the inbound API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig locates the Redis instance shared by the queue and the rate limiter.
// URL wins over the discrete fields when both are set.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Address joins host and port.
func (r RedisConfig) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// QueueConfig configures the task broker and per-actor retry policy.
type QueueConfig struct {
	Namespace     string      `yaml:"namespace"`
	Group         string      `yaml:"group"`
	Consumer      string      `yaml:"consumer"`
	ProcessNews   ActorConfig `yaml:"processNews"`
	NotifyBackend ActorConfig `yaml:"notifyBackend"`
}

// ActorConfig is the retry policy of one actor.
type ActorConfig struct {
	Queue      string        `yaml:"queue"`
	MaxRetries int           `yaml:"maxRetries"`
	MinBackoff time.Duration `yaml:"minBackoff"`
	MaxBackoff time.Duration `yaml:"maxBackoff"`
}

// RateLimitConfig sizes the shared job-start bucket.
type RateLimitConfig struct {
	Key      string        `yaml:"key"`
	Limit    int           `yaml:"limit"`
	Interval time.Duration `yaml:"interval"`
	Attempts int           `yaml:"attempts"`
}

// StoreConfig selects the job store: memory, sqlite or postgres.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// BackendConfig describes the backend API owning stocks and receiving impacts.
type BackendConfig struct {
	URL               string        `yaml:"url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// LLMConfig selects providers and tunes classification.
// BaseURL overrides every provider endpoint root, e.g. for an internal proxy.
type LLMConfig struct {
	NewsImpact   string        `yaml:"newsImpact"`
	CommandParse string        `yaml:"commandParse"`
	Variant      string        `yaml:"variant"`
	ChunkSize    int           `yaml:"chunkSize"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"maxTokens"`
	Timeout      time.Duration `yaml:"timeout"`
	BaseURL      string        `yaml:"baseUrl"`
	Keys         APIKeys       `yaml:"keys"`
}

// APIKeys carries one key per provider family. Prefer the environment over the YAML file.
type APIKeys struct {
	OpenAI     string `yaml:"openai"`
	Anthropic  string `yaml:"anthropic"`
	Google     string `yaml:"google"`
	OpenRouter string `yaml:"openrouter"`
}

// AlertsConfig wires operator alerts for dead-lettered tasks.
type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Load reads .env and YAML configuration (if present) and applies environment overrides.
func Load() Config {
	envFile := os.Getenv(envFileEnv)
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load %s: %v", envFile, err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			fileCfg := cfg
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = fileCfg
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Logging.Level, logLevelEnv)
	setString(&c.Logging.Format, logFormatEnv)
	setString(&c.HTTP.Addr, httpAddrEnv)

	setString(&c.Redis.URL, redisURLEnv)
	setString(&c.Redis.Host, redisHostEnv)
	setString(&c.Redis.Password, redisPasswordEnv)
	if v := os.Getenv(redisPortEnv); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		} else {
			log.Printf("config: invalid %s %q, keeping %d", redisPortEnv, v, c.Redis.Port)
		}
	}

	setString(&c.Store.Driver, storeDriverEnv)
	setString(&c.Store.DSN, databaseDSNEnv)
	setString(&c.Backend.URL, backendURLEnv)

	setString(&c.LLM.NewsImpact, newsImpactLLMEnv)
	setString(&c.LLM.CommandParse, commandParseLLMEnv)
	setString(&c.LLM.Variant, variantEnv)
	setString(&c.LLM.BaseURL, llmBaseURLEnv)
	setString(&c.LLM.Keys.OpenAI, openAIKeyEnv)
	setString(&c.LLM.Keys.Anthropic, anthropicKeyEnv)
	setString(&c.LLM.Keys.Google, geminiKeyEnv)
	setString(&c.LLM.Keys.OpenRouter, openRouterKeyEnv)

	setString(&c.Alerts.Telegram.BotToken, telegramTokenEnv)
	setString(&c.Alerts.Telegram.ChatID, telegramChatIDEnv)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate reports settings that would make the service unusable.
// Provider strings are checked later by the LLM router, which knows the supported prefixes.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Backend.URL) == "" {
		errs = append(errs, fmt.Errorf("%s is required", backendURLEnv))
	}
	if strings.TrimSpace(c.LLM.NewsImpact) == "" {
		errs = append(errs, fmt.Errorf("%s is required", newsImpactLLMEnv))
	}
	if c.Redis.URL == "" && c.Redis.Host == "" {
		errs = append(errs, fmt.Errorf("%s or %s is required", redisURLEnv, redisHostEnv))
	}
	if c.RateLimit.Limit <= 0 {
		errs = append(errs, errors.New("rateLimit.limit must be positive"))
	}
	if c.RateLimit.Interval < time.Millisecond {
		errs = append(errs, errors.New("rateLimit.interval must be at least 1ms"))
	}
	if c.LLM.ChunkSize <= 0 {
		errs = append(errs, errors.New("llm.chunkSize must be positive"))
	}
	for name, actor := range map[string]ActorConfig{"processNews": c.Queue.ProcessNews, "notifyBackend": c.Queue.NotifyBackend} {
		if actor.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("queue.%s.maxRetries must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Addr: ":8000"},
		Redis:   RedisConfig{Host: "localhost", Port: 6379},
		Queue: QueueConfig{
			Namespace: "newsimpact",
			Group:     "workers",
			ProcessNews: ActorConfig{
				Queue:      "news",
				MaxRetries: 1,
				MinBackoff: 60 * time.Second,
				MaxBackoff: 10 * time.Minute,
			},
			NotifyBackend: ActorConfig{
				Queue:      "notifications",
				MaxRetries: 2,
				MinBackoff: 60 * time.Second,
				MaxBackoff: 10 * time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Key:      "article-processing",
			Limit:    1,
			Interval: 6 * time.Second,
			Attempts: 6,
		},
		Store:   StoreConfig{Driver: "sqlite", DSN: "./data/newsimpact.db"},
		Backend: BackendConfig{Timeout: 15 * time.Second, RequestsPerSecond: 20},
		LLM: LLMConfig{
			CommandParse: "",
			Variant:      "DEFAULT_COT",
			ChunkSize:    10,
			Temperature:  0.5,
			Timeout:      120 * time.Second,
		},
	}
}
