package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
)

// Client talks to the backend API that owns stocks and receives impacts.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

var _ ports.StockSource = (*Client)(nil)
var _ ports.ImpactSender = (*Client)(nil)

// Options tune the client. RequestsPerSecond of zero disables pacing.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// NewClient creates a reusable HTTP client for baseURL.
func NewClient(baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		limiter: limiter,
	}
}

// ListStocks fetches every tracked instrument.
func (c *Client) ListStocks(ctx context.Context) ([]domain.Stock, error) {
	var stocks []domain.Stock
	if err := c.do(ctx, http.MethodGet, "/stock", nil, &stocks); err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	return stocks, nil
}

type impactRequest struct {
	ArticleID uuid.UUID       `json:"article_id"`
	StockID   uuid.UUID       `json:"stock_id"`
	Impact    domain.Severity `json:"impact"`
	Reason    *string         `json:"reason"`
}

// SendImpact reports one impact for an article known to the backend by articleExternalID.
func (c *Client) SendImpact(ctx context.Context, articleExternalID uuid.UUID, impact domain.Impact) error {
	payload := impactRequest{
		ArticleID: articleExternalID,
		StockID:   impact.StockID,
		Impact:    impact.Impact,
		Reason:    impact.Reason,
	}
	if err := c.do(ctx, http.MethodPost, "/article/impact", payload, nil); err != nil {
		return fmt.Errorf("send impact for stock %s: %w", impact.StockID, err)
	}
	return nil
}

// StatusError is returned for answers with a status above 399.
type StatusError struct {
	Status string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode > 399 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Status: resp.Status, Code: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
