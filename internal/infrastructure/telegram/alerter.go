// Package telegram alerts operators about tasks the queue gave up on.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIURL = "https://api.telegram.org"
	maxCauseLen   = 500
)

// Alerter posts a chat message for every task that exhausted its retries.
// It satisfies the queue middleware contract.
type Alerter struct {
	apiURL   string
	botToken string
	chatID   string
	client   *http.Client
	logger   *slog.Logger
}

// NewAlerter registers bot token and chat identifier.
func NewAlerter(botToken, chatID string, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		apiURL:   defaultAPIURL,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger.With("component", "telegram"),
	}
}

// AfterNack sends the alert. Delivery problems are logged, never returned.
func (a *Alerter) AfterNack(ctx context.Context, actor string, payload json.RawMessage, cause error) {
	if err := a.Send(ctx, formatAlert(actor, payload, cause)); err != nil {
		a.logger.WarnContext(ctx, "telegram alert not delivered", "actor", actor, "error", err)
	}
}

// Send posts a plain-text message to the configured chat.
func (a *Alerter) Send(ctx context.Context, text string) error {
	if a.botToken == "" || a.chatID == "" || a.client == nil {
		return fmt.Errorf("telegram alerter misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(a.apiURL, "/"), a.botToken)
	form := url.Values{}
	form.Set("chat_id", a.chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

func formatAlert(actor string, payload json.RawMessage, cause error) string {
	reason := "retries exhausted"
	if cause != nil {
		reason = cause.Error()
	}
	if runes := []rune(reason); len(runes) > maxCauseLen {
		reason = string(runes[:maxCauseLen]) + "…"
	}
	return fmt.Sprintf("newsimpact: task %s dead-lettered\npayload: %s\ncause: %s", actor, string(payload), reason)
}
