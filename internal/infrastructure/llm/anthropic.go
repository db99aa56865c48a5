package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
	"newsimpact/internal/schema"
)

const (
	anthropicBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

// AnthropicClient forces a single tool call whose input schema is the response schema.
type AnthropicClient struct {
	baseURL string
	model   string
	apiKey  string
	cfg     Config
}

var _ ports.LLMProvider = (*AnthropicClient)(nil)

func newAnthropicProvider(model string, cfg Config) (ports.LLMProvider, error) {
	if cfg.Keys.Anthropic == "" {
		return nil, missingKey("anthropic", "ANTHROPIC_API_KEY")
	}
	return &AnthropicClient{
		baseURL: baseOr(cfg.BaseURL, anthropicBaseURL),
		model:   model,
		apiKey:  cfg.Keys.Anthropic,
		cfg:     cfg,
	}, nil
}

func (c *AnthropicClient) Name() string {
	return "anthropic"
}

type anthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens          *int `json:"input_tokens"`
		OutputTokens         *int `json:"output_tokens"`
		CacheReadInputTokens *int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// PromptStructured sends the messages with tool_choice pinned to the schema tool.
func (c *AnthropicClient) PromptStructured(ctx context.Context, messages []domain.Message, responseSchema *schema.Schema, opts domain.PromptOptions) (map[string]any, domain.Usage, error) {
	if err := requireSchema(responseSchema); err != nil {
		return nil, domain.Usage{}, err
	}

	system, rest := splitSystem(messages)
	wire := make([]chatMessage, 0, len(rest))
	for _, m := range rest {
		wire = append(wire, chatMessage{Role: string(m.Role), Content: m.Text})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	tool := schemaName(responseSchema)
	payload := map[string]any{
		"model":       c.model,
		"messages":    wire,
		"max_tokens":  maxTokens,
		"temperature": opts.Temperature,
		"tools": []map[string]any{{
			"name":         tool,
			"description":  responseSchema.Description,
			"input_schema": responseSchema.JSONSchema(),
		}},
		"tool_choice": map[string]string{"type": "tool", "name": tool},
	}
	if system != "" {
		payload["system"] = system
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := postJSON(ctx, c.cfg.httpClient(), c.Name(), c.baseURL+"/messages", headers, payload, &resp); err != nil {
		return nil, domain.Usage{}, err
	}

	var usage domain.Usage
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.InputTokens
		usage.OutputTokens = resp.Usage.OutputTokens
		usage.CachedInputTokens = resp.Usage.CacheReadInputTokens
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != tool {
			continue
		}
		parsed, err := decodeStructured(block.Input, responseSchema)
		if err != nil {
			return nil, usage, err
		}
		return parsed, usage, nil
	}
	return nil, usage, fmt.Errorf("anthropic returned no %s tool call (stop_reason=%s)", tool, resp.StopReason)
}
