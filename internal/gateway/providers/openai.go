package providers

import (
	"context"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider handles OpenAI API requests
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
	}
}

// Complete runs a single-prompt completion
func (p *OpenAIProvider) Complete(ctx context.Context, prompt, model string, maxTokens int) (*CompletionResult, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	return p.call(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
}

// Chat runs a chat completion over a conversation history
func (p *OpenAIProvider) Chat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (*CompletionResult, error) {
	return p.call(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	})
}

func (p *OpenAIProvider) call(ctx context.Context, req openai.ChatCompletionRequest) (*CompletionResult, error) {
	startTime := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Err: err}
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &CompletionResult{
		Content:    content,
		TokensUsed: resp.Usage.TotalTokens,
		Model:      resp.Model,
		LatencyMs:  int(time.Since(startTime).Milliseconds()),
	}, nil
}

// StreamChat starts a streaming chat completion
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (Stream, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Err: err}
	}

	return &openAIStream{stream: stream}, nil
}

// openAIStream adapts the SDK stream to the Chunk contract
type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if err == io.EOF {
		return Chunk{}, io.EOF
	}
	if err != nil {
		return Chunk{}, &ProviderError{Provider: "openai", Err: err}
	}

	var chunk Chunk
	if len(resp.Choices) > 0 {
		chunk.Content = resp.Choices[0].Delta.Content
	}
	if resp.Usage != nil {
		chunk.TokensUsed = resp.Usage.TotalTokens
	}
	return chunk, nil
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}

// Name returns the provider family name
func (p *OpenAIProvider) Name() string {
	return "openai"
}
