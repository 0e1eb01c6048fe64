// Package llm is the boundary to the generation and summarization
// collaborators. The services are opaque: no determinism or bounded latency
// is assumed, and every call is cancellable through its context.
package llm

import (
	"context"
)

// Role of a message in a completion request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a completion request.
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request to a provider.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a provider completion response.
type Response struct {
	Content string
	Usage   Usage
}

// Client is the interface all providers implement.
type Client interface {
	// Complete generates a completion synchronously. Cancellation of ctx
	// must abort the underlying request.
	Complete(ctx context.Context, in Request) (Response, error)

	// ModelName returns the model identifier for logging and cost lookup.
	ModelName() string
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
