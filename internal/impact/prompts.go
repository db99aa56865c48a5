package impact

import (
	"fmt"
	"strings"

	"newsimpact/internal/domain"
	"newsimpact/internal/schema"
)

// Response field names inside each per-symbol object.
const (
	FieldArticleReasoning = "article_reasoning"
	FieldImpactReasoning  = "impact_reasoning"
	FieldImpact           = "impact"
)

const responseSchemaName = "stocks_impact_analysis"

// DescribeStocks renders the instrument block embedded in the system prompt.
func DescribeStocks(stocks []domain.Stock) string {
	var b strings.Builder
	for i, s := range stocks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("<stock>\n")
		fmt.Fprintf(&b, "symbol: %s\n", s.Symbol)
		fmt.Fprintf(&b, "name: %s\n", s.Name)
		if desc := strings.TrimSpace(s.Description); desc != "" {
			fmt.Fprintf(&b, "description: %s\n", desc)
		}
		writeOptional(&b, "sector", s.EKD)
		writeOptional(&b, "city", s.City)
		writeOptional(&b, "country", s.Country)
		b.WriteString("</stock>")
	}
	return b.String()
}

func writeOptional(b *strings.Builder, label string, value *string) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.TrimSpace(*value))
}

// SystemPrompt fills the variant template with the chunk's instruments.
func SystemPrompt(v Variant, stocks []domain.Stock) string {
	return strings.ReplaceAll(v.SystemTemplate, stocksPlaceholder, DescribeStocks(stocks))
}

// UserPrompt embeds the article and the valid severity labels.
func UserPrompt(content domain.ArticleContent, sanitize func(string) string) string {
	description := content.Description
	if sanitize != nil {
		description = sanitize(description)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(content.Title))
	if content.PublishedAt != nil {
		fmt.Fprintf(&b, "Published: %s\n", content.PublishedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "Description: %s\n\n", strings.TrimSpace(description))
	fmt.Fprintf(&b, "Rate the impact on each stock with exactly one of: %s.", strings.Join(domain.SeverityLabels(), ", "))
	return b.String()
}

// ChunkSchema builds the response schema for one chunk: one object per symbol, with the
// reasoning fields (chain-of-thought variants only) ahead of the severity verdict.
func ChunkSchema(stocks []domain.Stock, useCoT bool) *schema.Schema {
	root := schema.Object(responseSchemaName, "Impact of the article on each listed stock, keyed by stock symbol.")
	for _, s := range stocks {
		field := schema.Object("", fmt.Sprintf("Analysis for %s (%s)", s.Symbol, s.Name))
		if useCoT {
			field.Field(FieldArticleReasoning, schema.String("What the article says that is relevant to this company."))
			field.Field(FieldImpactReasoning, schema.String("Why the article would or would not move this stock."))
		}
		field.Field(FieldImpact, schema.Enum("Impact severity.", domain.SeverityLabels()...))
		root.Field(s.Symbol, field)
	}
	return root
}
