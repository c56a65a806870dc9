package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aiagentplatform/api-gateway/internal/gateway/ratelimit"
	"github.com/aiagentplatform/api-gateway/internal/shared/database"
	"github.com/aiagentplatform/api-gateway/internal/shared/models"
)

type ctxKey int

const tenantCtxKey ctxKey = iota

// TenantFromContext returns the authenticated tenant for a request
func TenantFromContext(ctx context.Context) (*models.TenantContext, bool) {
	tenant, ok := ctx.Value(tenantCtxKey).(*models.TenantContext)
	return tenant, ok
}

// WithTenant returns a context carrying the tenant. Exported for tests.
func WithTenant(ctx context.Context, tenant *models.TenantContext) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tenant)
}

type Middleware struct {
	db      *database.DB
	limiter *ratelimit.Limiter
}

func NewMiddleware(db *database.DB, limiter *ratelimit.Limiter) *Middleware {
	return &Middleware{
		db:      db,
		limiter: limiter,
	}
}

// Auth validates the Bearer API key and attaches the tenant context.
// Rejections happen here, before any quota is consumed.
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header", "")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format", "")
			return
		}

		tenant, err := m.db.Authenticate(r.Context(), parts[1])
		if err != nil {
			if errors.Is(err, database.ErrInvalidKey) {
				writeError(w, http.StatusUnauthorized, "invalid API key", "")
				return
			}
			writeServerError(w, err)
			return
		}

		// Touch last-used off the request path
		go m.db.TouchAPIKey(context.Background(), tenant.KeyID)

		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
	})
}

// RateLimit admits or rejects the request against the tenant's two
// fixed windows. Rejections consume no quota and write no usage record.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := TenantFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		decision := m.limiter.Admit(r.Context(), tenant.TenantID, tenant.Plan)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))

		if !decision.Allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORS handles cross-origin requests
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
