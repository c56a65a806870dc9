package models

import "time"

// TenantContext identifies the billing/quota unit behind an API key. It is
// produced once per request by the authenticator and never persisted.
type TenantContext struct {
	KeyID       string
	TenantID    string
	Plan        string
	Permissions []string
}

// HasPermission reports whether the tenant's key carries a permission
func (t *TenantContext) HasPermission(perm string) bool {
	for _, p := range t.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Usage summarizes the billable cost of one request
type Usage struct {
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model"`
	Endpoint   string `json:"endpoint"`
}

// APIResponse is the envelope returned by every non-streaming endpoint
type APIResponse struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data"`
	Usage     Usage                  `json:"usage"`
	Timestamp time.Time              `json:"timestamp"`
}

// APIError is the envelope returned on request failure
type APIError struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
