package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"newsimpact/internal/domain"
	"newsimpact/internal/schema"
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, e.Body)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// schemaName turns a schema name into an identifier accepted as a tool or json_schema name.
func schemaName(s *schema.Schema) string {
	name := unsafeName.ReplaceAllString(strings.TrimSpace(s.Name), "_")
	if name == "" {
		return "structured_response"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// splitSystem joins all system messages into one instruction and returns the rest in order.
func splitSystem(messages []domain.Message) (string, []domain.Message) {
	var system []string
	rest := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Text)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n"), rest
}

// decodeStructured parses a provider payload and checks its envelope against the requested
// schema. Member values are validated by the caller so one bad member does not void the rest.
func decodeStructured(raw []byte, s *schema.Schema) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", domain.ErrSchemaViolation, err)
	}
	if err := s.ValidateEnvelope(parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	return parsed, nil
}

func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

func requireSchema(s *schema.Schema) error {
	if s == nil || s.Type != schema.TypeObject {
		return fmt.Errorf("%w: response schema must be an object", domain.ErrSchemaViolation)
	}
	return nil
}
