package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// ErrUnsupportedModel is returned when no provider family matches a model id
var ErrUnsupportedModel = errors.New("unsupported model")

// ErrProviderUnavailable is returned when the matched provider family has no
// configured credential
var ErrProviderUnavailable = errors.New("provider not configured")

// ProviderError wraps a runtime failure from a provider backend (network
// error, timeout, non-2xx status, malformed response)
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CompletionResult is the normalized outcome of any provider call.
// TokensUsed is 0 when the provider does not report usage; that is a valid
// sentinel, not an error.
type CompletionResult struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model"`
	LatencyMs  int    `json:"latency_ms"`
	Cached     bool   `json:"cached,omitempty"`
	Degraded   bool   `json:"degraded,omitempty"`
}

// Chunk is one incremental piece of a streaming response. Chunk boundaries
// are provider-defined and forwarded as received. TokensUsed carries the
// provider's cumulative usage when it reports one on the chunk, 0 otherwise.
type Chunk struct {
	Content    string
	TokensUsed int
}

// Stream is a finite, non-restartable sequence of chunks. Recv returns
// io.EOF after the last chunk; Close releases the upstream connection.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider is the capability set every backend adapter implements. Adapters
// never retry; failover policy belongs to the Router.
type Provider interface {
	Complete(ctx context.Context, prompt, model string, maxTokens int) (*CompletionResult, error)
	Chat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (*CompletionResult, error)
	StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (Stream, error)
	Name() string
}
