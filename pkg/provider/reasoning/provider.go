// Package reasoning defines the Provider interface for secondary reasoning
// backends.
//
// A reasoning provider wraps a slower, deeper model (e.g., a local Ollama
// instance, an OpenAI model, or anything any-llm-go can reach) behind a
// uniform prompt-in/tokens-out interface. The router dispatches complex
// utterances here while the fast speech backend keeps the conversation
// flowing.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamGenerate must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package reasoning

import "context"

// Request carries one prompt to the reasoning backend.
type Request struct {
	// Prompt is the user utterance (or verification question) to answer.
	Prompt string

	// System is an optional instruction injected ahead of the prompt.
	// Providers without a native system field prepend it to the prompt.
	System string

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps generated tokens. Zero means provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming generation.
type Chunk struct {
	// Text is the incremental text content. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop" for a natural end,
	// "length" when MaxTokens was reached, "error" when the stream failed
	// mid-flight (Text then carries the error message), "" otherwise.
	FinishReason string
}

// Usage holds token accounting returned by the backend where available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is returned by the non-streaming Generate method.
type Response struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting. All-zero when the backend does not
	// report counts.
	Usage Usage
}

// Provider is the abstraction over any reasoning backend.
//
// Implementations must be safe for concurrent use. Each method must
// propagate context cancellation promptly.
type Provider interface {
	// Name identifies the backend in events, logs, and metrics
	// (e.g., "ollama", "openai").
	Name() string

	// StreamGenerate sends req to the model and returns a read-only channel
	// emitting Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel. Errors occurring after the stream
	// opens surface as a Chunk with FinishReason "error"; the error return
	// is non-nil only when the stream could not start at all.
	StreamGenerate(ctx context.Context, req Request) (<-chan Chunk, error)

	// Generate sends req and waits for the full response. Convenience for
	// callers that do not need incremental output, such as the router's
	// verification pass.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Alive probes the backend and returns nil when it is reachable and
	// ready to serve. Sessions probe once at startup; a failed probe
	// disables dispatch for the session's lifetime.
	Alive(ctx context.Context) error
}
