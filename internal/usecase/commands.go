package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
	"newsimpact/internal/schema"
)

// Intent is an app navigation target recognised from free text.
type Intent string

const (
	IntentAllNews   Intent = "all_news"
	IntentMyNews    Intent = "my_news"
	IntentAllStocks Intent = "all_stocks"
	IntentMyStocks  Intent = "my_stocks"
	IntentWallet    Intent = "wallet"
	IntentSettings  Intent = "settings"
	IntentHomepage  Intent = "homepage"
	IntentUnknown   Intent = "unknown"
)

// Intents lists every intent in schema order.
func Intents() []Intent {
	return []Intent{
		IntentAllNews, IntentMyNews, IntentAllStocks, IntentMyStocks,
		IntentWallet, IntentSettings, IntentHomepage, IntentUnknown,
	}
}

const commandSystemPrompt = `You map short user commands from a mobile investing app to a navigation intent. Users write in Polish or English.

Intents:
- all_news: every available news item ("show all news", "pokaż wszystkie wiadomości")
- my_news: latest or personalised news ("news for me", "najnowsze newsy")
- all_stocks: the full stock list ("list stocks", "lista akcji")
- my_stocks: stocks the user follows ("my shares", "moje akcje")
- wallet: the wallet screen ("show my wallet", "pokaż mój portfel")
- settings: application or notification settings ("open settings", "ustawienia")
- homepage: the main screen ("go home", "ekran główny")
- unknown: anything else, or when the request is ambiguous

Answer with the JSON object from the response schema only.`

// CommandParser classifies free-text commands with a dedicated LLM provider.
type CommandParser struct {
	provider ports.LLMProvider
	logger   *slog.Logger
}

// NewCommandParser wires the provider used for command parsing.
func NewCommandParser(provider ports.LLMProvider, logger *slog.Logger) *CommandParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandParser{provider: provider, logger: logger.With("component", "commands")}
}

func commandSchema() *schema.Schema {
	labels := make([]string, 0, len(Intents()))
	for _, intent := range Intents() {
		labels = append(labels, string(intent))
	}
	return schema.Object("command_intent", "Navigation intent of the user command.").
		Field("intent", schema.Enum("The recognised intent.", labels...))
}

// Parse returns the intent for text. On error the returned intent is IntentUnknown.
func (p *CommandParser) Parse(ctx context.Context, text string) (Intent, domain.Usage, error) {
	messages := []domain.Message{
		domain.SystemMessage(commandSystemPrompt),
		domain.UserMessage(text),
	}
	parsed, usage, err := p.provider.PromptStructured(ctx, messages, commandSchema(), domain.PromptOptions{Temperature: 0})
	if err != nil {
		p.logger.WarnContext(ctx, "command parsing failed", "error", err)
		return IntentUnknown, usage, fmt.Errorf("parse command: %w", err)
	}

	raw, _ := parsed["intent"].(string)
	intent := Intent(strings.TrimSpace(raw))
	for _, known := range Intents() {
		if intent == known {
			return intent, usage, nil
		}
	}
	return IntentUnknown, usage, fmt.Errorf("parse command: %w: intent %q", domain.ErrSchemaViolation, raw)
}
