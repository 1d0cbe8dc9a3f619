// Package llm defines the interface for chat-completion backends.
//
// The gateway talks to a completion model for exactly one job: cleaning up
// raw transcripts after recognition. That needs a single prompt/response
// round trip, so the surface here is deliberately small. A Provider wraps
// one backend SDK and hides its wire details; callers build a
// CompletionRequest and read back plain text plus token accounting.
package llm

import "context"

// CompletionRequest carries one prompt to a completion backend.
type CompletionRequest struct {
	// System is an optional instruction placed before the user prompt.
	// Empty means no system message is sent.
	System string

	// Prompt is the user-role message the model responds to.
	Prompt string

	// Temperature controls sampling randomness. Zero leaves the backend
	// default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the backend
	// default in place.
	MaxTokens int
}

// Usage reports token consumption for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is a finished completion.
type CompletionResponse struct {
	// Content is the full text of the model reply.
	Content string

	// Usage holds token counts when the backend reports them. Backends
	// that omit usage leave it zero.
	Usage Usage
}

// Provider is the abstraction over a chat-completion backend.
//
// Implementations must be safe for concurrent use and must honor context
// cancellation and deadlines on Complete.
type Provider interface {
	// Complete performs one blocking completion round trip.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend for logs and metrics.
	Name() string
}
