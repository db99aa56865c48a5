package impact

import (
	"log/slog"
	"sort"
	"strings"
)

// VariantName identifies a prompt/schema combination.
type VariantName string

const (
	DefaultCoT       VariantName = "DEFAULT_COT"
	DefaultNoCoT     VariantName = "DEFAULT_NO_COT"
	AlternativeCoT   VariantName = "ALTERNATIVE_COT"
	AlternativeNoCoT VariantName = "ALTERNATIVE_NO_COT"
)

// Variant pairs a system prompt template with the chain-of-thought switch.
// The template must contain the {stocks_description} placeholder.
type Variant struct {
	Name           VariantName
	SystemTemplate string
	UseCoT         bool
}

const stocksPlaceholder = "{stocks_description}"

const defaultTemplate = `You are a financial markets analyst. Decide whether the article below may move the price of any of the stocks listed here. Every stock symbol present in the response schema must get an answer.

Reply with the JSON object described by the response schema and nothing else: no preamble, no closing remarks, no markdown fences.

<stocks>
{stocks_description}
</stocks>

The article to analyse follows.`

const alternativeTemplate = `You assess market news for an equity research desk. For each stock symbol in the response schema, judge how strongly the news article could affect that company.

Your answer must be exactly the JSON document the response schema defines. Do not add commentary or formatting around it.

<stocks>
{stocks_description}
</stocks>

Article under review:`

var variants = map[VariantName]Variant{
	DefaultCoT:       {Name: DefaultCoT, SystemTemplate: defaultTemplate, UseCoT: true},
	DefaultNoCoT:     {Name: DefaultNoCoT, SystemTemplate: defaultTemplate, UseCoT: false},
	AlternativeCoT:   {Name: AlternativeCoT, SystemTemplate: alternativeTemplate, UseCoT: true},
	AlternativeNoCoT: {Name: AlternativeNoCoT, SystemTemplate: alternativeTemplate, UseCoT: false},
}

// LookupVariant returns the configured variant for name (exact, upper-case match).
func LookupVariant(name string) (Variant, bool) {
	v, ok := variants[VariantName(strings.TrimSpace(name))]
	return v, ok
}

// SelectVariant resolves name, falling back to DEFAULT_COT with a warning when it is unknown.
// An empty name selects the default silently.
func SelectVariant(name string, logger *slog.Logger) Variant {
	if strings.TrimSpace(name) == "" {
		return variants[DefaultCoT]
	}
	if v, ok := LookupVariant(name); ok {
		return v
	}
	if logger != nil {
		logger.Warn("unknown impact variant, using default",
			"variant", name,
			"default", DefaultCoT,
			"valid", strings.Join(VariantNames(), ","),
		)
	}
	return variants[DefaultCoT]
}

// VariantNames lists every configured variant.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
