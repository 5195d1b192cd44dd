package llm

import "context"

// Client is the interface all LLM providers implement. Tools are passed
// in the registry's provider-neutral format (see tools.Registry.List)
// and converted at the provider boundary.
type Client interface {
	// Chat sends one chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
