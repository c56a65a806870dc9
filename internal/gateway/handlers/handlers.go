package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/aiagentplatform/api-gateway/internal/gateway/cache"
	"github.com/aiagentplatform/api-gateway/internal/gateway/providers"
	"github.com/aiagentplatform/api-gateway/internal/gateway/ratelimit"
	"github.com/aiagentplatform/api-gateway/internal/gateway/usage"
	"github.com/aiagentplatform/api-gateway/internal/shared/config"
	"github.com/aiagentplatform/api-gateway/internal/shared/models"
	"github.com/google/uuid"
)

// degradedContent is returned when every provider attempt failed and the
// gateway answers anyway. Degraded results carry a fixed sentinel token
// count so the ledger can tell them from real answers.
const (
	degradedContent = "I'm sorry, but I'm currently experiencing technical difficulties. Please try again later."
	degradedTokens  = 50
)

// Handler serves the gateway request pipeline
type Handler struct {
	router  *providers.Router
	cache   *cache.Cache
	ledger  *usage.Ledger
	limiter *ratelimit.Limiter
	cfg     *config.Config
}

func New(router *providers.Router, c *cache.Cache, ledger *usage.Ledger, limiter *ratelimit.Limiter, cfg *config.Config) *Handler {
	return &Handler{
		router:  router,
		cache:   c,
		ledger:  ledger,
		limiter: limiter,
		cfg:     cfg,
	}
}

// record fires a usage record off the request path. The ledger itself
// never blocks or errors toward the caller.
func (h *Handler) record(tenant *models.TenantContext, endpoint, model string, tokens int, degraded bool) {
	h.ledger.Record(usage.Record{
		TenantID:   tenant.TenantID,
		Endpoint:   endpoint,
		Model:      model,
		TokensUsed: tokens,
		Degraded:   degraded,
	})
}

// degradedResult substitutes a fixed fallback answer for a failed provider
// call, trading transparency for availability
func degradedResult(model string) *providers.CompletionResult {
	return &providers.CompletionResult{
		Content:    degradedContent,
		TokensUsed: degradedTokens,
		Model:      model,
		Degraded:   true,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, correlationID string) {
	writeJSON(w, status, models.APIError{
		Success:       false,
		Error:         message,
		CorrelationID: correlationID,
	})
}

// writeServerError hides internal detail behind a correlation id
func writeServerError(w http.ResponseWriter, err error) {
	correlationID := uuid.NewString()
	log.Printf("internal error [%s]: %v", correlationID, err)
	writeError(w, http.StatusInternalServerError, "internal server error", correlationID)
}

// writeRoutingError maps the routing taxonomy to client-input errors,
// distinct from provider runtime failure
func writeRoutingError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, providers.ErrUnsupportedModel):
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return true
	case errors.Is(err, providers.ErrProviderUnavailable):
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return true
	}
	return false
}

// respond writes the standard response envelope
func respond(w http.ResponseWriter, endpoint string, result *providers.CompletionResult, data map[string]interface{}) {
	if result.Cached {
		data["cached"] = true
	}
	if result.Degraded {
		data["degraded"] = true
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data:    data,
		Usage: models.Usage{
			TokensUsed: result.TokensUsed,
			Model:      result.Model,
			Endpoint:   endpoint,
		},
		Timestamp: time.Now(),
	})
}
