// Package llm is the text-generation boundary. The rest of the system only
// sees Generator; this package provides an OpenAI-compatible HTTP client and
// an offline generator for demos and tests.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces text from a conversation. No retry happens at this
// layer; errors propagate to the caller.
type Generator interface {
	Generate(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	return f(ctx, messages, temperature, maxTokens)
}
