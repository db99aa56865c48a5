package llm

import (
	"context"
	"fmt"
	"strings"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
	"newsimpact/internal/schema"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// ChatCompletionsClient implements ports.LLMProvider for OpenAI-compatible APIs
// with json_schema structured outputs. OpenRouter uses the same wire format.
type ChatCompletionsClient struct {
	name         string
	baseURL      string
	model        string
	apiKey       string
	maxTokensKey string
	headers      map[string]string
	cfg          Config
}

var _ ports.LLMProvider = (*ChatCompletionsClient)(nil)

func newOpenAIProvider(model string, cfg Config) (ports.LLMProvider, error) {
	if cfg.Keys.OpenAI == "" {
		return nil, missingKey("openai", "OPENAI_API_KEY")
	}
	return &ChatCompletionsClient{
		name:         "openai",
		baseURL:      baseOr(cfg.BaseURL, openAIBaseURL),
		model:        model,
		apiKey:       cfg.Keys.OpenAI,
		maxTokensKey: "max_completion_tokens",
		cfg:          cfg,
	}, nil
}

func newOpenRouterProvider(model string, cfg Config) (ports.LLMProvider, error) {
	if cfg.Keys.OpenRouter == "" {
		return nil, missingKey("openrouter", "OPENROUTER_API_KEY")
	}
	return &ChatCompletionsClient{
		name:         "openrouter",
		baseURL:      baseOr(cfg.BaseURL, openRouterBaseURL),
		model:        model,
		apiKey:       cfg.Keys.OpenRouter,
		maxTokensKey: "max_tokens",
		headers:      map[string]string{"X-Title": "newsimpact"},
		cfg:          cfg,
	}, nil
}

func baseOr(override, fallback string) string {
	if v := strings.TrimRight(strings.TrimSpace(override), "/"); v != "" {
		return v
	}
	return fallback
}

// Name identifies the provider family.
func (c *ChatCompletionsClient) Name() string {
	return c.name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        *int `json:"prompt_tokens"`
		CompletionTokens    *int `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens *int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
		CompletionTokensDetails *struct {
			ReasoningTokens *int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r chatCompletionResponse) usage() domain.Usage {
	var usage domain.Usage
	if r.Usage == nil {
		return usage
	}
	usage.InputTokens = r.Usage.PromptTokens
	usage.OutputTokens = r.Usage.CompletionTokens
	if r.Usage.PromptTokensDetails != nil {
		usage.CachedInputTokens = r.Usage.PromptTokensDetails.CachedTokens
	}
	if r.Usage.CompletionTokensDetails != nil {
		usage.ReasoningTokens = r.Usage.CompletionTokensDetails.ReasoningTokens
	}
	return usage
}

// PromptStructured sends the conversation with a strict json_schema response format.
func (c *ChatCompletionsClient) PromptStructured(ctx context.Context, messages []domain.Message, responseSchema *schema.Schema, opts domain.PromptOptions) (map[string]any, domain.Usage, error) {
	if err := requireSchema(responseSchema); err != nil {
		return nil, domain.Usage{}, err
	}

	system, rest := splitSystem(messages)
	wire := make([]chatMessage, 0, len(rest)+1)
	if system != "" {
		wire = append(wire, chatMessage{Role: string(domain.RoleSystem), Content: system})
	}
	for _, m := range rest {
		wire = append(wire, chatMessage{Role: string(m.Role), Content: m.Text})
	}

	payload := map[string]any{
		"model":       c.model,
		"messages":    wire,
		"temperature": opts.Temperature,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName(responseSchema),
				"strict": responseSchema.Strict(),
				"schema": responseSchema.JSONSchema(),
			},
		},
	}
	if opts.MaxTokens > 0 {
		payload[c.maxTokensKey] = opts.MaxTokens
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	for k, v := range c.headers {
		headers[k] = v
	}

	var resp chatCompletionResponse
	if err := postJSON(ctx, c.cfg.httpClient(), c.name, c.baseURL+"/chat/completions", headers, payload, &resp); err != nil {
		return nil, domain.Usage{}, err
	}
	usage := resp.usage()

	if resp.Error != nil {
		return nil, usage, fmt.Errorf("%s error: %s", c.name, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, usage, fmt.Errorf("%s returned no choices", c.name)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != nil && *msg.Refusal != "" {
		return nil, usage, fmt.Errorf("%s refused: %s", c.name, *msg.Refusal)
	}
	if msg.Content == nil {
		return nil, usage, fmt.Errorf("%s returned empty content (finish_reason=%s)", c.name, resp.Choices[0].FinishReason)
	}

	parsed, err := decodeStructured([]byte(*msg.Content), responseSchema)
	if err != nil {
		return nil, usage, err
	}
	return parsed, usage, nil
}
