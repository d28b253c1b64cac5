// Package llm defines the provider-agnostic interface for chat-completion
// backends.
package llm

import "context"

// Provider is the abstraction over any chat-completion backend
// (OpenAI-compatible proxies, Ollama, etc.).
type Provider interface {
	// Complete sends a conversation to the model and returns its response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request is a single completion exchange.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// Message is one turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the model returns.
type Response struct {
	Content    string // Text of the first completion choice.
	StopReason string // "end_turn", "max_tokens", or provider-specific.
	Usage      Usage
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
