package clients

import (
	"context"
	"fmt"
)

// ModelType names a provider model.
type ModelType string

const (
	// DefaultModel is the default Gemini model for fast roles.
	DefaultModel ModelType = "gemini-flash-latest"
	ProModel     ModelType = "gemini-3-pro-preview"

	// DefaultOpenAIModel is used when the chat-completion provider is selected without a model.
	DefaultOpenAIModel ModelType = "gpt-4o-mini"
)

// Tool is a capability the caller asks the provider to attach to a generation.
type Tool string

const (
	// ToolWebSearch asks the provider to ground the answer with a web search.
	ToolWebSearch Tool = "web_search"
)

// Request is a single text generation call.
type Request struct {
	Model             string
	Prompt            string
	SystemInstruction string
	StructuredOutput  bool
	Tools             []Tool
}

// Provider is a stateless transport to one LLM backend.
// It never retries; credential failover is the caller's job.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// SearchGrounded reports whether the backend can honor ToolWebSearch itself.
	SearchGrounded() bool
	// Generate runs one call authenticated with apiKey.
	Generate(ctx context.Context, apiKey string, req Request) (string, error)
}

// Generator is a Provider with the credential already bound.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GenerationError is any network, HTTP or rate-limit failure of a provider call.
type GenerationError struct {
	Provider string
	Message  string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %s", e.Provider, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func newGenerationError(provider string, err error) *GenerationError {
	return &GenerationError{Provider: provider, Message: err.Error(), Err: err}
}

// HasTool reports whether req asks for tool t.
func (r Request) HasTool(t Tool) bool {
	for _, rt := range r.Tools {
		if rt == t {
			return true
		}
	}
	return false
}
