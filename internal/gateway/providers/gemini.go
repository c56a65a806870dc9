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

// GeminiProvider handles Google Gemini API requests
type GeminiProvider struct {
	apiKey     string
	httpClient *http.Client
}

// GeminiRequest represents a request to Gemini's API
type GeminiRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent represents content in Gemini format
type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of the content
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiGenerationConfig represents generation parameters
type GeminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GeminiResponse represents a response from Gemini API
type GeminiResponse struct {
	Candidates    []GeminiCandidate `json:"candidates"`
	UsageMetadata GeminiUsage       `json:"usageMetadata"`
}

// GeminiCandidate represents a candidate response
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// GeminiUsage represents token usage
type GeminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Complete runs a single-prompt completion
func (p *GeminiProvider) Complete(ctx context.Context, prompt, model string, maxTokens int) (*CompletionResult, error) {
	req := GeminiRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: prompt}}},
		},
	}
	if maxTokens > 0 {
		req.GenerationConfig = &GeminiGenerationConfig{MaxOutputTokens: &maxTokens}
	}
	return p.call(ctx, req, model)
}

// Chat runs a chat completion over a conversation history
func (p *GeminiProvider) Chat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (*CompletionResult, error) {
	req := p.convertMessages(messages)
	req.GenerationConfig = &GeminiGenerationConfig{Temperature: &temperature}
	return p.call(ctx, req, model)
}

func (p *GeminiProvider) call(ctx context.Context, req GeminiRequest, model string) (*CompletionResult, error) {
	startTime := time.Now()

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		model, p.apiKey)

	reqBody, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider: "google",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, &ProviderError{Provider: "google", Err: fmt.Errorf("malformed response: %w", err)}
	}

	var content string
	if len(geminiResp.Candidates) > 0 {
		for _, part := range geminiResp.Candidates[0].Content.Parts {
			content += part.Text
		}
	}

	return &CompletionResult{
		Content:    content,
		TokensUsed: geminiResp.UsageMetadata.TotalTokenCount,
		Model:      model,
		LatencyMs:  int(time.Since(startTime).Milliseconds()),
	}, nil
}

// StreamChat starts a streaming chat completion
func (p *GeminiProvider) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (Stream, error) {
	req := p.convertMessages(messages)
	req.GenerationConfig = &GeminiGenerationConfig{Temperature: &temperature}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
		model, p.apiKey)

	reqBody, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: "google", Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)
		return nil, &ProviderError{
			Provider: "google",
			Err:      fmt.Errorf("status %d: %s", httpResp.StatusCode, string(body)),
		}
	}

	return &geminiStream{
		reader: bufio.NewReader(httpResp.Body),
		resp:   httpResp,
	}, nil
}

// geminiStream parses streamGenerateContent SSE frames into chunks
type geminiStream struct {
	reader *bufio.Reader
	resp   *http.Response
}

func (s *geminiStream) Recv() (Chunk, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return Chunk{}, io.EOF
			}
			return Chunk{}, &ProviderError{Provider: "google", Err: err}
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var geminiResp GeminiResponse
		if err := json.Unmarshal([]byte(dataStr), &geminiResp); err != nil {
			continue
		}

		var chunk Chunk
		if len(geminiResp.Candidates) > 0 {
			for _, part := range geminiResp.Candidates[0].Content.Parts {
				chunk.Content += part.Text
			}
		}
		if geminiResp.UsageMetadata.TotalTokenCount > 0 {
			chunk.TokensUsed = geminiResp.UsageMetadata.TotalTokenCount
		}
		if chunk.Content == "" && chunk.TokensUsed == 0 {
			continue
		}
		return chunk, nil
	}
}

func (s *geminiStream) Close() error {
	if s.resp != nil && s.resp.Body != nil {
		return s.resp.Body.Close()
	}
	return nil
}

// convertMessages converts OpenAI-style messages to Gemini format. Gemini
// has no system role and calls the assistant role "model".
func (p *GeminiProvider) convertMessages(messages []openai.ChatCompletionMessage) GeminiRequest {
	req := GeminiRequest{
		Contents: make([]GeminiContent, 0, len(messages)),
	}

	for _, msg := range messages {
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		if role == "system" {
			role = "user"
		}

		req.Contents = append(req.Contents, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: msg.Content}},
		})
	}

	return req
}

// Name returns the provider family name
func (p *GeminiProvider) Name() string {
	return "google"
}
