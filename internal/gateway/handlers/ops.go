package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aiagentplatform/api-gateway/internal/gateway/providers"
)

// SummarizeRequest is the inbound payload for text summarization
type SummarizeRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// ExtractRequest is the inbound payload for schema-guided extraction
type ExtractRequest struct {
	Text   string                 `json:"text"`
	Schema map[string]interface{} `json:"schema"`
	Model  string                 `json:"model"`
}

// ClassifyRequest is the inbound payload for text classification
type ClassifyRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories"`
	Model      string   `json:"model"`
}

// GenerateRequest is the inbound payload for content generation
type GenerateRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Model     string `json:"model"`
}

// completeOp runs one prompt-shaped operation through the pipeline:
// cache lookup (when the operation is idempotent), provider call with
// failover, degraded substitution, cache write, usage record.
func (h *Handler) completeOp(w http.ResponseWriter, r *http.Request, endpoint, text, prompt, model string, maxTokens int, cacheable bool) {
	ctx := r.Context()

	tenant, ok := TenantFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	if model == "" {
		model = h.cfg.DefaultModel
	}
	if maxTokens < 0 || maxTokens > h.cfg.MaxTokensLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("max_tokens must be between 1 and %d", h.cfg.MaxTokensLimit), "")
		return
	}
	if maxTokens == 0 {
		maxTokens = h.cfg.DefaultMaxTokens
	}

	useCache := cacheable && h.cfg.CacheEnabled

	if useCache {
		if cached, hit := h.cache.Get(ctx, endpoint, text, model); hit {
			// Identical in shape to a fresh result, marked and free.
			cached.Cached = true
			cached.TokensUsed = 0
			h.record(tenant, endpoint, model, 0, false)
			h.respondOp(w, endpoint, cached)
			return
		}
	}

	result, _, _, err := h.router.Complete(ctx, prompt, model, maxTokens)
	if err != nil {
		if writeRoutingError(w, err) {
			return
		}
		result = degradedResult(model)
	}

	if useCache && !result.Degraded {
		h.cache.Set(ctx, endpoint, text, model, result)
	}

	h.record(tenant, endpoint, model, result.TokensUsed, result.Degraded)
	h.respondOp(w, endpoint, result)
}

// respondOp shapes the operation-specific data payload
func (h *Handler) respondOp(w http.ResponseWriter, endpoint string, result *providers.CompletionResult) {
	var data map[string]interface{}

	switch endpoint {
	case "summarize":
		data = map[string]interface{}{"summary": result.Content}
	case "extract":
		var extracted map[string]interface{}
		if err := json.Unmarshal([]byte(result.Content), &extracted); err != nil {
			// The model did not return clean JSON; hand back what it said.
			extracted = map[string]interface{}{"raw_response": result.Content}
		}
		data = map[string]interface{}{"extracted_data": extracted}
	case "classify":
		data = map[string]interface{}{"classification": strings.TrimSpace(result.Content)}
	case "generate":
		data = map[string]interface{}{"generated_content": result.Content}
	default:
		data = map[string]interface{}{"content": result.Content}
	}

	respond(w, endpoint, result, data)
}

// HandleSummarize handles POST /v1/summarize
func (h *Handler) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	var req SummarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty", "")
		return
	}

	prompt := fmt.Sprintf("Please provide a concise summary of the following text:\n\n%s", req.Text)
	h.completeOp(w, r, "summarize", req.Text, prompt, req.Model, 0, true)
}

// HandleExtract handles POST /v1/extract
func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty", "")
		return
	}
	if len(req.Schema) == 0 {
		writeError(w, http.StatusBadRequest, "schema must not be empty", "")
		return
	}

	schemaJSON, _ := json.MarshalIndent(req.Schema, "", "  ")
	prompt := fmt.Sprintf(
		"Extract the following data from the text below and return it as JSON:\n\nSchema: %s\n\nText: %s\n\nReturn only the JSON object, no additional text.",
		schemaJSON, req.Text)

	// The schema is part of the fingerprint: same text with a different
	// schema is a different request.
	fingerprint := req.Text + "|" + string(schemaJSON)
	h.completeOp(w, r, "extract", fingerprint, prompt, req.Model, 0, true)
}

// HandleClassify handles POST /v1/classify
func (h *Handler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty", "")
		return
	}
	if len(req.Categories) == 0 {
		writeError(w, http.StatusBadRequest, "categories must not be empty", "")
		return
	}

	categories := strings.Join(req.Categories, ", ")
	prompt := fmt.Sprintf(
		"Classify the following text into one of these categories: %s\n\nText: %s\n\nReturn only the category name, no additional text.",
		categories, req.Text)

	fingerprint := req.Text + "|" + categories
	h.completeOp(w, r, "classify", fingerprint, prompt, req.Model, 0, true)
}

// HandleGenerate handles POST /v1/generate. Generation is not cached:
// creative output is not idempotent.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt must not be empty", "")
		return
	}

	h.completeOp(w, r, "generate", req.Prompt, req.Prompt, req.Model, req.MaxTokens, false)
}
