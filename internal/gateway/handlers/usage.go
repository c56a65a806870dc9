package handlers

import (
	"net/http"
	"strconv"

	"github.com/aiagentplatform/api-gateway/internal/gateway/usage"
)

// modelCatalog lists the models the gateway advertises. /v1/models filters
// it down to the families that actually have credentials configured.
var modelCatalog = []struct {
	ID   string
	Name string
}{
	{"gpt-4o", "GPT-4o"},
	{"gpt-4o-mini", "GPT-4o mini"},
	{"gpt-4", "GPT-4"},
	{"gpt-3.5-turbo", "GPT-3.5 Turbo"},
	{"claude-sonnet-4-5-20250929", "Claude Sonnet 4.5"},
	{"claude-haiku-4-5-20251001", "Claude Haiku 4.5"},
	{"gemini-2.5-pro", "Gemini 2.5 Pro"},
	{"gemini-2.5-flash", "Gemini 2.5 Flash"},
}

// HandleUsage handles GET /v1/usage: the tenant's month counter against its
// plan quota
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	limits := h.limiter.Limits(tenant.Plan)
	used := h.limiter.MonthUsage(r.Context(), tenant.TenantID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":           tenant.TenantID,
		"plan":                tenant.Plan,
		"current_month_usage": used,
		"monthly_limit":       limits.PerMonth,
		"usage_percentage":    float64(used) / float64(limits.PerMonth) * 100,
	})
}

// HandleRecentUsage handles GET /v1/usage/recent: the ledger tail, most
// recent first. Tenants see only their own records; the cross-tenant view
// requires the usage:admin permission on the API key.
func (h *Handler) HandleRecentUsage(w http.ResponseWriter, r *http.Request) {
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var (
		records []usage.Record
		err     error
	)
	if tenant.HasPermission("usage:admin") {
		records, err = h.ledger.Recent(r.Context(), limit)
	} else {
		records, err = h.ledger.RecentForTenant(r.Context(), tenant.TenantID, limit)
	}
	if err != nil {
		writeServerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// HandleModels handles GET /v1/models: routable models with configured
// credentials
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	models := make([]map[string]string, 0, len(modelCatalog))
	for _, m := range modelCatalog {
		_, family, err := h.router.Route(m.ID)
		if err != nil {
			continue
		}
		models = append(models, map[string]string{
			"id":       m.ID,
			"name":     m.Name,
			"provider": family,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}
