package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"newsimpact/internal/config"
	"newsimpact/internal/impact"
	"newsimpact/internal/infrastructure/backend"
	"newsimpact/internal/infrastructure/llm"
	"newsimpact/internal/infrastructure/parser"
	"newsimpact/internal/infrastructure/queue"
	"newsimpact/internal/infrastructure/ratelimit"
	"newsimpact/internal/infrastructure/storage"
	"newsimpact/internal/infrastructure/telegram"
	"newsimpact/internal/logging"
	"newsimpact/internal/ports"
	"newsimpact/internal/transport/httpapi"
	"newsimpact/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	redis      *redis.Client
	broker     *queue.RedisBroker
	backend    *backend.Client
	server     *httpapi.Server
	closeStore func() error
}

// New connects every adapter. Call Close when done.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	redisClient, err := newRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	articles, closeStore, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &Application{
		cfg:        cfg,
		logger:     baseLogger,
		redis:      redisClient,
		closeStore: closeStore,
	}
	if err := a.wire(articles); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) wire(articles ports.ArticleRepository) error {
	cfg := a.cfg
	logger := a.logger

	httpClient := &http.Client{Timeout: cfg.LLM.Timeout}
	llmConfig := llm.Config{
		Keys: llm.Credentials{
			OpenAI:     cfg.LLM.Keys.OpenAI,
			Anthropic:  cfg.LLM.Keys.Anthropic,
			Google:     cfg.LLM.Keys.Google,
			OpenRouter: cfg.LLM.Keys.OpenRouter,
		},
		BaseURL:    cfg.LLM.BaseURL,
		HTTPClient: httpClient,
	}

	impactProvider, err := llm.New(cfg.LLM.NewsImpact, llmConfig)
	if err != nil {
		return fmt.Errorf("news impact provider: %w", err)
	}

	var commands httpapi.CommandParser
	if cfg.LLM.CommandParse != "" {
		commandProvider, err := llm.New(cfg.LLM.CommandParse, llmConfig)
		if err != nil {
			return fmt.Errorf("command parse provider: %w", err)
		}
		commands = usecase.NewCommandParser(commandProvider, logger)
	} else {
		logger.Warn("command parsing disabled, COMMAND_PARSE_LLM is not set")
	}

	brokerCfg := queue.DefaultConfig()
	brokerCfg.Namespace = cfg.Queue.Namespace
	brokerCfg.Group = cfg.Queue.Group
	if cfg.Queue.Consumer != "" {
		brokerCfg.Consumer = cfg.Queue.Consumer
	}
	a.broker = queue.NewRedisBroker(a.redis, brokerCfg, logger.With("component", "queue"))

	a.backend = backend.NewClient(cfg.Backend.URL, backend.Options{
		Timeout:           cfg.Backend.Timeout,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
	})

	limiter := ratelimit.NewBucket(a.redis, ratelimit.Options{
		Key:      cfg.RateLimit.Key,
		Limit:    cfg.RateLimit.Limit,
		Interval: cfg.RateLimit.Interval,
		Attempts: cfg.RateLimit.Attempts,
	}, logger.With("component", "ratelimit"))

	classifier := impact.NewClassifier(impactProvider, impact.Options{
		Variant:     impact.SelectVariant(cfg.LLM.Variant, logger),
		ChunkSize:   cfg.LLM.ChunkSize,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Sanitize:    parser.PlainText,
		Logger:      logger.With("component", "classifier"),
	})

	processor := usecase.NewArticleProcessor(usecase.ProcessorDeps{
		Articles:   articles,
		Stocks:     a.backend,
		Classifier: classifier,
		Limiter:    limiter,
		Tasks:      a.broker,
		Logger:     logger,
	})
	notifier := usecase.NewImpactNotifier(a.backend, logger)

	a.broker.Register(usecase.ActorProcessNews, actorOptions(cfg.Queue.ProcessNews), func(ctx context.Context, payload json.RawMessage) error {
		var args usecase.ProcessNewsPayload
		if err := json.Unmarshal(payload, &args); err != nil {
			return queue.NonRetryable(fmt.Errorf("decode %s payload: %w", usecase.ActorProcessNews, err))
		}
		return processor.Process(ctx, args.ArticleID)
	})
	a.broker.Register(usecase.ActorNotifyBackend, actorOptions(cfg.Queue.NotifyBackend), func(ctx context.Context, payload json.RawMessage) error {
		var args usecase.NotifyBackendPayload
		if err := json.Unmarshal(payload, &args); err != nil {
			return queue.NonRetryable(fmt.Errorf("decode %s payload: %w", usecase.ActorNotifyBackend, err))
		}
		return notifier.Handle(ctx, args)
	})
	a.broker.Use(usecase.NewFailureMiddleware(articles, logger))
	if cfg.Alerts.Telegram.Enabled() {
		a.broker.Use(telegram.NewAlerter(cfg.Alerts.Telegram.BotToken, cfg.Alerts.Telegram.ChatID, logger))
	}

	service := usecase.NewArticleService(articles, a.broker, logger)
	a.server = httpapi.NewServer(cfg.HTTP.Addr, service, commands, logger)

	logger.Info("application wired",
		"news_impact_llm", impactProvider.Name(),
		"variant", cfg.LLM.Variant,
		"store", cfg.Store.Driver,
	)
	return nil
}

var (
	_ queue.Middleware = (*usecase.FailureMiddleware)(nil)
	_ queue.Middleware = (*telegram.Alerter)(nil)
)

func actorOptions(c config.ActorConfig) queue.ActorOptions {
	return queue.ActorOptions{
		Queue:      c.Queue,
		MaxRetries: c.MaxRetries,
		MinBackoff: c.MinBackoff,
		MaxBackoff: c.MaxBackoff,
	}
}

func newRedisClient(c config.RedisConfig) (*redis.Client, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Address(),
		Password: c.Password,
		DB:       c.DB,
	}), nil
}

// Serve runs the HTTP API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Work consumes background tasks until ctx is cancelled.
func (a *Application) Work(ctx context.Context) error {
	return a.broker.Run(ctx)
}

// Run serves the API and consumes tasks in one process.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Serve(gctx) })
	g.Go(func() error { return a.Work(gctx) })
	return g.Wait()
}

// Check verifies that Redis and the backend are reachable.
func (a *Application) Check(ctx context.Context) error {
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	stocks, err := a.backend.ListStocks(ctx)
	if err != nil {
		return fmt.Errorf("list stocks: %w", err)
	}
	if err := impact.ValidateSymbols(stocks); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "dependencies reachable", "stocks", len(stocks))
	return nil
}

// Close releases the store and the Redis connection.
func (a *Application) Close() error {
	var errs []error
	if a.closeStore != nil {
		errs = append(errs, a.closeStore())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
