package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"

// AnthropicProvider handles Anthropic Claude API requests
type AnthropicProvider struct {
	apiKey     string
	httpClient *http.Client
}

// AnthropicRequest represents a request to Anthropic's Messages API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

// AnthropicMessage represents a message in Anthropic format
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicResponse represents a response from Anthropic's API
type AnthropicResponse struct {
	ID      string                  `json:"id"`
	Type    string                  `json:"type"`
	Role    string                  `json:"role"`
	Content []AnthropicContentBlock `json:"content"`
	Model   string                  `json:"model"`
	Usage   AnthropicUsage          `json:"usage"`
}

// AnthropicContentBlock represents a content block
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnthropicUsage represents token usage
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Complete runs a single-prompt completion
func (p *AnthropicProvider) Complete(ctx context.Context, prompt, model string, maxTokens int) (*CompletionResult, error) {
	req := AnthropicRequest{
		Model:     model,
		Messages:  []AnthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1024
	}
	return p.call(ctx, req)
}

// Chat runs a chat completion over a conversation history
func (p *AnthropicProvider) Chat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (*CompletionResult, error) {
	req := p.convertMessages(messages)
	req.Model = model
	req.Temperature = &temperature
	return p.call(ctx, req)
}

func (p *AnthropicProvider) call(ctx context.Context, req AnthropicRequest) (*CompletionResult, error) {
	startTime := time.Now()

	resp, err := p.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &CompletionResult{
		Content: content,
		// Input and output are reported separately; the gateway bills the sum.
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Model:      resp.Model,
		LatencyMs:  int(time.Since(startTime).Milliseconds()),
	}, nil
}

func (p *AnthropicProvider) do(ctx context.Context, req AnthropicRequest) (*AnthropicResponse, error) {
	reqBody, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicMessagesURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}
	p.setHeaders(httpReq)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider: "anthropic",
			Err:      fmt.Errorf("status %d: %s", httpResp.StatusCode, string(respBody)),
		}
	}

	var resp AnthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: fmt.Errorf("malformed response: %w", err)}
	}

	return &resp, nil
}

// StreamChat starts a streaming chat completion
func (p *AnthropicProvider) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (Stream, error) {
	req := p.convertMessages(messages)
	req.Model = model
	req.Temperature = &temperature
	req.Stream = true

	reqBody, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicMessagesURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}
	p.setHeaders(httpReq)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, &ProviderError{
			Provider: "anthropic",
			Err:      fmt.Errorf("status %d: %s", httpResp.StatusCode, string(respBody)),
		}
	}

	return &anthropicStream{
		reader: bufio.NewReader(httpResp.Body),
		resp:   httpResp,
	}, nil
}

// anthropicStream parses the Messages API SSE events into chunks
type anthropicStream struct {
	reader       *bufio.Reader
	resp         *http.Response
	inputTokens  int
	outputTokens int
}

func (s *anthropicStream) Recv() (Chunk, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Chunk{}, io.EOF
			}
			return Chunk{}, &ProviderError{Provider: "anthropic", Err: err}
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event map[string]interface{}
		if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
			continue
		}

		eventType, _ := event["type"].(string)
		switch eventType {
		case "message_start":
			if msg, ok := event["message"].(map[string]interface{}); ok {
				if usage, ok := msg["usage"].(map[string]interface{}); ok {
					if in, ok := usage["input_tokens"].(float64); ok {
						s.inputTokens = int(in)
					}
				}
			}
		case "content_block_delta":
			if delta, ok := event["delta"].(map[string]interface{}); ok {
				if text, ok := delta["text"].(string); ok && text != "" {
					return Chunk{Content: text}, nil
				}
			}
		case "message_delta":
			if usage, ok := event["usage"].(map[string]interface{}); ok {
				if out, ok := usage["output_tokens"].(float64); ok {
					s.outputTokens = int(out)
				}
			}
			// Usage-only chunk; content stays empty.
			return Chunk{TokensUsed: s.inputTokens + s.outputTokens}, nil
		case "message_stop":
			return Chunk{}, io.EOF
		}
	}
}

func (s *anthropicStream) Close() error {
	if s.resp != nil && s.resp.Body != nil {
		return s.resp.Body.Close()
	}
	return nil
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
}

// convertMessages converts OpenAI-style messages to Anthropic format. The
// Messages API takes the system prompt as a top-level field.
func (p *AnthropicProvider) convertMessages(messages []openai.ChatCompletionMessage) AnthropicRequest {
	req := AnthropicRequest{
		Messages:  []AnthropicMessage{},
		MaxTokens: 4096,
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			req.System = msg.Content
		} else {
			req.Messages = append(req.Messages, AnthropicMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	return req
}

// Name returns the provider family name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}
