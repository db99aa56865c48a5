package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"newsimpact/internal/domain"
	"newsimpact/internal/usecase"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type handlers struct {
	articles ArticleService
	commands CommandParser
	logger   *slog.Logger
}

type submitArticleRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	PublishedAt *time.Time `json:"published_at"`
	ExternalID  *uuid.UUID `json:"external_id"`
}

type parseCommandRequest struct {
	Text string `json:"text"`
}

type commandResult struct {
	Intent usecase.Intent `json:"intent"`
}

// apiResponse is the envelope of the command endpoints.
type apiResponse struct {
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	ErrorCode *string `json:"error_code"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) submitArticle(c echo.Context) error {
	var req submitArticleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}

	article, err := h.articles.Submit(c.Request().Context(), domain.ArticleContent{
		Title:       req.Title,
		Description: req.Description,
		PublishedAt: req.PublishedAt,
	}, req.ExternalID)
	switch {
	case errors.Is(err, domain.ErrInvalidArticle):
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	case err != nil && article != nil:
		h.logger.ErrorContext(c.Request().Context(), "article stored but not queued", "article_id", article.ID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, article)
	case err != nil:
		return err
	}
	return c.JSON(http.StatusCreated, article)
}

func (h *handlers) listArticles(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
		}
		limit = min(n, maxListLimit)
	}

	articles, err := h.articles.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"articles": articles})
}

func (h *handlers) getArticle(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid article id"})
	}

	article, err := h.articles.Get(c.Request().Context(), id)
	if errors.Is(err, domain.ErrArticleNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: "article not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, article)
}

func (h *handlers) requeueArticle(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid article id"})
	}

	article, err := h.articles.Requeue(c.Request().Context(), id)
	switch {
	case errors.Is(err, domain.ErrArticleNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Error: "article not found"})
	case errors.Is(err, domain.ErrNotRequeueable):
		return c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	case err != nil:
		return err
	}
	return c.JSON(http.StatusAccepted, article)
}

func (h *handlers) parseCommand(c echo.Context) error {
	var req parseCommandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}

	if h.commands == nil {
		return c.JSON(http.StatusOK, failedParse(errors.New("command parsing is not configured")))
	}

	intent, _, err := h.commands.Parse(c.Request().Context(), req.Text)
	if err != nil {
		h.logger.WarnContext(c.Request().Context(), "failed to parse command", "text", req.Text, "error", err)
		return c.JSON(http.StatusOK, failedParse(err))
	}
	return c.JSON(http.StatusOK, apiResponse{Data: commandResult{Intent: intent}})
}

func failedParse(err error) apiResponse {
	msg := "failed to parse command: " + err.Error()
	code := "parsing_failed"
	return apiResponse{
		Data:      commandResult{Intent: usecase.IntentUnknown},
		Error:     &msg,
		ErrorCode: &code,
	}
}
