// Package enigma builds synthetic visual-logic-puzzle datasets by driving a
// fixed sequence of LLM transformations per puzzle.
//
// Each puzzle instance flows through four stages: translation/cleanup of the
// source explanation, abstraction of the solving rules into short regularity
// statements, classification along two fixed axes, and a final structured
// reasoning/answer pass. The engine owns everything around the model calls:
// prompt rendering, tagged-section response parsing, per-stage semantic
// validation with repair hints, bounded retry, concurrent batch scheduling,
// and de-duplicated, resumable dataset persistence.
//
// Basic usage:
//
//	provider := anthropic.New(anthropic.Config{APIKey: key, Model: model})
//	invoker := enigma.NewInvoker(provider, enigma.WithCallTimeout(60*time.Second))
//	orch, _ := enigma.NewOrchestrator(enigma.DefaultStages(enigma.DefaultStageConfig()), invoker)
//	agg, _ := enigma.NewAggregator("dataset.jsonl", "failures.jsonl", enigma.DefaultFingerprintPolicy())
//	defer agg.Close()
//	report, _ := enigma.NewScheduler(orch, agg, 10).Run(ctx, instances)
package enigma

import "context"

// Provider defines the interface for LLM providers.
// Providers accept a single-turn request and return the raw text response
// with usage stats. Multimodal providers attach the image reference when one
// is present on the request.
type Provider interface {
	// Call sends the request to the LLM and returns the text response.
	Call(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier (e.g., "anthropic", "gemini").
	Name() string
}

// Request is a single-turn model invocation.
type Request struct {
	Prompt      string    // Rendered prompt text
	Image       *ImageRef // Optional puzzle image
	Temperature float32   // Sampling temperature
	MaxTokens   int       // Response token budget (0 = provider default)
}

// Response contains the raw response from an LLM provider.
type Response struct {
	Content string     // The text response content
	Usage   TokenUsage // Token usage statistics
}

// TokenUsage contains token counts from a provider response.
type TokenUsage struct {
	Prompt     int // Tokens used by the prompt
	Completion int // Tokens used by the completion
	Total      int // Total tokens used
}

// Default generation parameters. The source dataset runs sample at
// temperature 1.0 so retry attempts produce varied stage outputs.
const (
	DefaultTemperature float32 = 1.0
	DefaultMaxTokens           = 8192
)
