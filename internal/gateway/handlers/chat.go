package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// ChatRequest is the inbound payload for chat and stream-chat
type ChatRequest struct {
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Model       string                         `json:"model"`
	Temperature *float32                       `json:"temperature,omitempty"`
	MaxTokens   *int                           `json:"max_tokens,omitempty"`
	Stream      bool                           `json:"stream,omitempty"`
}

func (h *Handler) applyChatDefaults(req *ChatRequest) {
	if req.Model == "" {
		req.Model = h.cfg.DefaultModel
	}
	if req.Temperature == nil {
		temp := float32(0.7)
		req.Temperature = &temp
	}
	if req.MaxTokens == nil {
		tokens := h.cfg.DefaultMaxTokens
		req.MaxTokens = &tokens
	}
}

func (h *Handler) validateChat(req *ChatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("invalid message role: %q", msg.Role)
		}
	}
	if *req.Temperature < 0 || *req.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if *req.MaxTokens < 1 || *req.MaxTokens > h.cfg.MaxTokensLimit {
		return fmt.Errorf("max_tokens must be between 1 and %d", h.cfg.MaxTokensLimit)
	}
	return nil
}

// HandleChat handles POST /v1/chat. Chat responses are never cached:
// conversations are not idempotent.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, ok := TenantFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	h.applyChatDefaults(&req)
	if err := h.validateChat(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	if req.Stream {
		h.streamChat(w, r, tenant, req)
		return
	}

	result, _, failover, err := h.router.Chat(ctx, req.Messages, req.Model, *req.Temperature)
	if err != nil {
		if writeRoutingError(w, err) {
			return
		}
		// Provider runtime failure: answer degraded rather than fail.
		result = degradedResult(req.Model)
	}

	if failover {
		w.Header().Set("X-Failover", "true")
	}

	h.record(tenant, "chat", req.Model, result.TokensUsed, result.Degraded)

	respond(w, "chat", result, map[string]interface{}{
		"id":            uuid.NewString(),
		"message":       result.Content,
		"finish_reason": "stop",
	})
}
