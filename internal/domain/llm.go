package domain

// Role tags a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of an ordered prompt.
type Message struct {
	Role Role
	Text string
}

// SystemMessage and UserMessage are shorthands for building prompts.
func SystemMessage(text string) Message { return Message{Role: RoleSystem, Text: text} }

func UserMessage(text string) Message { return Message{Role: RoleUser, Text: text} }

// PromptOptions tune a single structured call.
type PromptOptions struct {
	Temperature float64
	// MaxTokens of zero lets the adapter choose its default.
	MaxTokens int
}

// Usage reports token accounting. A nil field means the provider did not report it.
type Usage struct {
	InputTokens       *int `json:"input_tokens"`
	OutputTokens      *int `json:"output_tokens"`
	CachedInputTokens *int `json:"cached_input_tokens"`
	ReasoningTokens   *int `json:"reasoning_tokens"`
}

// ChunkResult is the outcome of classifying one chunk of stocks.
type ChunkResult struct {
	Index   int
	Symbols []string
	Impacts []Impact
	Usage   *Usage
	// Err is set when the provider call for the chunk failed and the chunk was skipped.
	Err error
}

// Skipped reports whether the chunk produced no provider answer.
func (r ChunkResult) Skipped() bool {
	return r.Err != nil
}
