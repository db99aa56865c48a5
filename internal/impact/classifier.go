package impact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsimpact/internal/domain"
	"newsimpact/internal/metrics"
	"newsimpact/internal/ports"
	"newsimpact/internal/schema"
)

// UsageRecorder receives token usage as soon as a chunk call returns.
type UsageRecorder interface {
	RecordUsage(provider string, usage domain.Usage)
}

// Options tune a Classifier.
type Options struct {
	Variant     Variant
	ChunkSize   int
	Temperature float64
	MaxTokens   int
	// Sanitize is applied to the article description before prompting.
	Sanitize func(string) string
	Usage    UsageRecorder
	Logger   *slog.Logger
}

// DefaultOptions returns the production settings: DEFAULT_COT, chunks of 10, temperature 0.5.
func DefaultOptions() Options {
	return Options{
		Variant:     variants[DefaultCoT],
		ChunkSize:   10,
		Temperature: 0.5,
	}
}

// Classifier asks an LLM provider, chunk by chunk, how an article affects each stock.
type Classifier struct {
	provider ports.LLMProvider
	opts     Options
	logger   *slog.Logger
}

var _ ports.ImpactClassifier = (*Classifier)(nil)

// NewClassifier wires a provider with options.
func NewClassifier(provider ports.LLMProvider, opts Options) *Classifier {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultOptions().ChunkSize
	}
	if opts.Variant.SystemTemplate == "" {
		opts.Variant = variants[DefaultCoT]
	}
	if opts.Usage == nil {
		opts.Usage = metrics.UsageRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, opts: opts, logger: logger}
}

// ValidateSymbols rejects stock sets in which a symbol appears twice.
func ValidateSymbols(stocks []domain.Stock) error {
	seen := make(map[string]struct{}, len(stocks))
	for _, s := range stocks {
		if _, dup := seen[s.Symbol]; dup {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSymbol, s.Symbol)
		}
		seen[s.Symbol] = struct{}{}
	}
	return nil
}

// Partition splits stocks into contiguous chunks of at most size, preserving order.
func Partition(stocks []domain.Stock, size int) [][]domain.Stock {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]domain.Stock, 0, (len(stocks)+size-1)/size)
	for start := 0; start < len(stocks); start += size {
		end := min(start+size, len(stocks))
		chunks = append(chunks, stocks[start:end])
	}
	return chunks
}

// Classify runs every chunk sequentially. A failing provider call skips its chunk;
// only invalid input (duplicate symbols) or cancellation fails the whole call.
func (c *Classifier) Classify(ctx context.Context, content domain.ArticleContent, stocks []domain.Stock) ([]domain.ChunkResult, error) {
	if err := ValidateSymbols(stocks); err != nil {
		return nil, err
	}

	chunks := Partition(stocks, c.opts.ChunkSize)
	results := make([]domain.ChunkResult, 0, len(chunks))
	userPrompt := UserPrompt(content, c.opts.Sanitize)

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.classifyChunk(ctx, i, chunk, userPrompt))
	}
	return results, nil
}

func (c *Classifier) classifyChunk(ctx context.Context, index int, chunk []domain.Stock, userPrompt string) domain.ChunkResult {
	result := domain.ChunkResult{Index: index, Symbols: symbols(chunk)}
	useCoT := c.opts.Variant.UseCoT

	messages := []domain.Message{
		domain.SystemMessage(SystemPrompt(c.opts.Variant, chunk)),
		domain.UserMessage(userPrompt),
	}

	chunkSchema := ChunkSchema(chunk, useCoT)
	started := time.Now()
	parsed, usage, err := c.provider.PromptStructured(ctx, messages, chunkSchema, domain.PromptOptions{
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		metrics.RecordLLMCall(c.provider.Name(), "error", time.Since(started).Seconds())
		c.logger.ErrorContext(ctx, "impact chunk skipped",
			"chunk", index,
			"symbols", strings.Join(result.Symbols, ","),
			"error", err,
		)
		result.Err = err
		return result
	}
	metrics.RecordLLMCall(c.provider.Name(), "ok", time.Since(started).Seconds())

	c.opts.Usage.RecordUsage(c.provider.Name(), usage)
	result.Usage = &usage

	result.Impacts = make([]domain.Impact, 0, len(chunk))
	for _, stock := range chunk {
		impact, err := extractImpact(parsed, chunkSchema, stock, useCoT)
		if err != nil {
			c.logger.WarnContext(ctx, "stock skipped in impact response",
				"chunk", index,
				"symbol", stock.Symbol,
				"error", err,
			)
			continue
		}
		result.Impacts = append(result.Impacts, impact)
	}
	return result
}

var errMalformedEntry = errors.New("malformed impact entry")

// extractImpact validates the stock's entry against its member schema and maps it.
func extractImpact(parsed map[string]any, chunkSchema *schema.Schema, stock domain.Stock, useCoT bool) (domain.Impact, error) {
	raw, ok := parsed[stock.Symbol]
	if !ok {
		return domain.Impact{}, fmt.Errorf("%w: no entry for %s", errMalformedEntry, stock.Symbol)
	}
	if member, ok := chunkSchema.Property(stock.Symbol); ok {
		if err := member.Validate(raw); err != nil {
			return domain.Impact{}, fmt.Errorf("%w: %s: %v", errMalformedEntry, stock.Symbol, err)
		}
	}
	entry, ok := raw.(map[string]any)
	if !ok {
		return domain.Impact{}, fmt.Errorf("%w: entry for %s is %T", errMalformedEntry, stock.Symbol, raw)
	}
	label, ok := entry[FieldImpact].(string)
	if !ok {
		return domain.Impact{}, fmt.Errorf("%w: missing %s for %s", errMalformedEntry, FieldImpact, stock.Symbol)
	}
	severity, err := domain.ParseSeverity(label)
	if err != nil {
		return domain.Impact{}, err
	}

	impact := domain.Impact{StockID: stock.ID, Impact: severity}
	if !useCoT {
		return impact, nil
	}

	var parts []string
	for _, field := range []string{FieldArticleReasoning, FieldImpactReasoning} {
		if text, ok := entry[field].(string); ok && strings.TrimSpace(text) != "" {
			parts = append(parts, strings.TrimSpace(text))
		}
	}
	if len(parts) > 0 {
		reason := strings.Join(parts, "\n")
		impact.Reason = &reason
	}
	return impact, nil
}

func symbols(stocks []domain.Stock) []string {
	out := make([]string, len(stocks))
	for i, s := range stocks {
		out[i] = s.Symbol
	}
	return out
}
