package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
	"newsimpact/internal/schema"
)

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var geminiSafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// GoogleClient talks to the Gemini generateContent endpoint in JSON mode.
type GoogleClient struct {
	baseURL string
	model   string
	apiKey  string
	cfg     Config
}

var _ ports.LLMProvider = (*GoogleClient)(nil)

func newGoogleProvider(model string, cfg Config) (ports.LLMProvider, error) {
	if cfg.Keys.Google == "" {
		return nil, missingKey("google", "GEMINI_API_KEY")
	}
	return &GoogleClient{
		baseURL: baseOr(cfg.BaseURL, googleBaseURL),
		model:   strings.TrimPrefix(model, "models/"),
		apiKey:  cfg.Keys.Google,
		cfg:     cfg,
	}, nil
}

func (c *GoogleClient) Name() string {
	return "google"
}

type geminiPart struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount        *int `json:"promptTokenCount"`
		CandidatesTokenCount    *int `json:"candidatesTokenCount"`
		CachedContentTokenCount *int `json:"cachedContentTokenCount"`
		ThoughtsTokenCount      *int `json:"thoughtsTokenCount"`
	} `json:"usageMetadata"`
}

// PromptStructured sends the conversation with responseSchema and JSON mime type.
func (c *GoogleClient) PromptStructured(ctx context.Context, messages []domain.Message, responseSchema *schema.Schema, opts domain.PromptOptions) (map[string]any, domain.Usage, error) {
	if err := requireSchema(responseSchema); err != nil {
		return nil, domain.Usage{}, err
	}

	system, rest := splitSystem(messages)
	contents := make([]geminiContent, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Text}}})
	}

	generation := map[string]any{
		"temperature":      opts.Temperature,
		"responseMimeType": "application/json",
		"responseSchema":   responseSchema.GeminiSchema(),
	}
	if opts.MaxTokens > 0 {
		generation["maxOutputTokens"] = opts.MaxTokens
	}

	safety := make([]map[string]string, 0, len(geminiSafetyCategories))
	for _, category := range geminiSafetyCategories {
		safety = append(safety, map[string]string{"category": category, "threshold": "BLOCK_NONE"})
	}

	payload := map[string]any{
		"contents":         contents,
		"generationConfig": generation,
		"safetySettings":   safety,
	}
	if system != "" {
		payload["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	headers := map[string]string{"x-goog-api-key": c.apiKey}

	var resp geminiResponse
	if err := postJSON(ctx, c.cfg.httpClient(), c.Name(), endpoint, headers, payload, &resp); err != nil {
		return nil, domain.Usage{}, err
	}

	var usage domain.Usage
	if md := resp.UsageMetadata; md != nil {
		usage.InputTokens = md.PromptTokenCount
		usage.OutputTokens = md.CandidatesTokenCount
		usage.CachedInputTokens = md.CachedContentTokenCount
		usage.ReasoningTokens = md.ThoughtsTokenCount
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, usage, fmt.Errorf("google blocked prompt: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, usage, fmt.Errorf("google returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, usage, fmt.Errorf("google returned empty content (finishReason=%s)", resp.Candidates[0].FinishReason)
	}

	parsed, err := decodeStructured([]byte(text.String()), responseSchema)
	if err != nil {
		return nil, usage, err
	}
	return parsed, usage, nil
}
