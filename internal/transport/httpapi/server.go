// Package httpapi exposes job submission, lookup and command parsing over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newsimpact/internal/domain"
	"newsimpact/internal/usecase"
)

// ArticleService is the job lifecycle used by the handlers.
type ArticleService interface {
	Submit(ctx context.Context, content domain.ArticleContent, externalID *uuid.UUID) (*domain.Article, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Article, error)
	List(ctx context.Context, limit int) ([]domain.Article, error)
	Requeue(ctx context.Context, id uuid.UUID) (*domain.Article, error)
}

// CommandParser classifies free-text commands.
type CommandParser interface {
	Parse(ctx context.Context, text string) (usecase.Intent, domain.Usage, error)
}

// Server wraps the echo instance.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// NewServer registers every route. commands may be nil when no command-parsing provider is configured.
func NewServer(addr string, articles ArticleService, commands CommandParser, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ctx := c.Request().Context()
			if v.Error == nil {
				logger.InfoContext(ctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				logger.ErrorContext(ctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	h := &handlers{articles: articles, commands: commands, logger: logger}
	e.GET("/health", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/articles", h.submitArticle)
	e.GET("/articles", h.listArticles)
	e.GET("/articles/:id", h.getArticle)
	e.POST("/articles/:id/requeue", h.requeueArticle)
	e.POST("/commands/parse", h.parseCommand)

	return &Server{echo: e, addr: addr, logger: logger}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
