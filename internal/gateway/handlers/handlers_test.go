package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aiagentplatform/api-gateway/internal/gateway/cache"
	"github.com/aiagentplatform/api-gateway/internal/gateway/providers"
	"github.com/aiagentplatform/api-gateway/internal/gateway/ratelimit"
	"github.com/aiagentplatform/api-gateway/internal/gateway/usage"
	"github.com/aiagentplatform/api-gateway/internal/shared/config"
	"github.com/aiagentplatform/api-gateway/internal/shared/models"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the shared counter/cache/ledger
// store, satisfying the narrow interfaces of every pipeline component.
type memStore struct {
	mu     sync.Mutex
	kv     map[string]string
	counts map[string]int64
	lists  map[string][]string
}

func newMemStore() *memStore {
	return &memStore{
		kv:     make(map[string]string),
		counts: make(map[string]int64),
		lists:  make(map[string][]string),
	}
}

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *memStore) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counts[key]
	return v, ok, nil
}

func (s *memStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *memStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func (s *memStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (s *memStore) LPushTrim(ctx context.Context, key string, value string, keep int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append([]string{value}, s.lists[key]...)
	if int64(len(s.lists[key])) > keep {
		s.lists[key] = s.lists[key][:keep]
	}
	return nil
}

func (s *memStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.lists[key]
	if stop >= int64(len(items)) {
		stop = int64(len(items)) - 1
	}
	if start > stop {
		return nil, nil
	}
	return items[start : stop+1], nil
}

func testConfig() *config.Config {
	return &config.Config{
		OpenAIAPIKey: "sk-test",
		RateLimits: map[string]config.PlanLimits{
			"free": {PerMinute: 10, PerMonth: 1000},
		},
		CacheTTLSeconds:  3600,
		CacheEnabled:     true,
		DefaultModel:     "gpt-3.5-turbo",
		DefaultMaxTokens: 1000,
		MaxTokensLimit:   4000,
	}
}

func newTestHandler(t *testing.T) (*Handler, *ratelimit.Limiter, *memStore) {
	t.Helper()

	cfg := testConfig()
	registry := providers.NewRegistry(cfg)
	router, err := providers.NewRouter(registry)
	require.NoError(t, err)

	store := newMemStore()
	limiter := ratelimit.New(store, cfg.RateLimits)
	ledger := usage.NewLedger(store)
	t.Cleanup(ledger.Close)

	h := New(router, cache.New(store, time.Hour), ledger, limiter, cfg)
	return h, limiter, store
}

func authed(r *http.Request) *http.Request {
	tenant := &models.TenantContext{TenantID: "acme", Plan: "free", Permissions: []string{"chat"}}
	return r.WithContext(WithTenant(r.Context(), tenant))
}

func postJSON(path, body string) *http.Request {
	return httptest.NewRequest("POST", path, strings.NewReader(body))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var apiErr models.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
	return apiErr
}

func TestChatRequiresTenant(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleChat(rec, postJSON("/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRejectsInvalidBody(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleChat(rec, authed(postJSON("/v1/chat", `{not json`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty messages", `{"messages":[]}`, "messages must not be empty"},
		{"bad role", `{"messages":[{"role":"robot","content":"hi"}]}`, "invalid message role"},
		{"temperature too high", `{"messages":[{"role":"user","content":"hi"}],"temperature":2.5}`, "temperature"},
		{"max_tokens too high", `{"messages":[{"role":"user","content":"hi"}],"max_tokens":100000}`, "max_tokens"},
		{"max_tokens zero", `{"messages":[{"role":"user","content":"hi"}],"max_tokens":0}`, "max_tokens"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleChat(rec, authed(postJSON("/v1/chat", tc.body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, decodeError(t, rec).Error, tc.want)
		})
	}
}

func TestChatUnsupportedModel(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleChat(rec, authed(postJSON("/v1/chat",
		`{"messages":[{"role":"user","content":"hi"}],"model":"llama-7b"}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Error, "unsupported model")
}

func TestChatUnconfiguredFamilyFailsBeforeProviderCall(t *testing.T) {
	// Only OpenAI is configured; a Claude model must fail routing without
	// any network attempt and without a ledger write.
	h, _, store := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleChat(rec, authed(postJSON("/v1/chat",
		`{"messages":[{"role":"user","content":"hi"}],"model":"claude-sonnet-4-5-20250929"}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Error, "provider not configured")
	require.Empty(t, store.lists["usage:recent"])
}

func TestSummarizeRequiresText(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleSummarize(rec, authed(postJSON("/v1/summarize", `{"model":"gpt-4o"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractRequiresSchema(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleExtract(rec, authed(postJSON("/v1/extract", `{"text":"some text"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Error, "schema")
}

func TestClassifyRequiresCategories(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleClassify(rec, authed(postJSON("/v1/classify", `{"text":"some text"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Error, "categories")
}

func TestGenerateRequiresPrompt(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleGenerate(rec, authed(postJSON("/v1/generate", `{"model":"gpt-4o"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelsListsOnlyConfiguredFamilies(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleModels(rec, authed(httptest.NewRequest("GET", "/v1/models", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models []map[string]string `json:"models"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Models)
	for _, m := range resp.Models {
		require.Equal(t, "openai", m["provider"])
	}
}

func TestUsageReportsMonthQuota(t *testing.T) {
	h, limiter, _ := newTestHandler(t)

	// One admitted request puts the month counter at 1.
	require.True(t, limiter.Admit(context.Background(), "acme", "free").Allowed)

	rec := httptest.NewRecorder()
	h.HandleUsage(rec, authed(httptest.NewRequest("GET", "/v1/usage", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, float64(1), resp["current_month_usage"])
	require.Equal(t, float64(1000), resp["monthly_limit"])
	require.Equal(t, "free", resp["plan"])
}

func TestRateLimitMiddlewareRejectsOverLimit(t *testing.T) {
	store := newMemStore()
	limiter := ratelimit.New(store, map[string]config.PlanLimits{
		"free": {PerMinute: 1, PerMonth: 1000},
	})
	mw := NewMiddleware(nil, limiter)

	var reached int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	})
	wrapped := mw.RateLimit(next)

	first := httptest.NewRecorder()
	wrapped.ServeHTTP(first, authed(httptest.NewRequest("POST", "/v1/chat", nil)))
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, 1, reached)

	second := httptest.NewRecorder()
	wrapped.ServeHTTP(second, authed(httptest.NewRequest("POST", "/v1/chat", nil)))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "60", second.Header().Get("Retry-After"))
	require.Equal(t, 1, reached, "rejected request must not reach the handler")
}

func seedRecord(t *testing.T, store *memStore, rec usage.Record) {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, store.LPushTrim(context.Background(), "usage:recent", string(data), usage.Capacity))
}

func recentResponse(t *testing.T, rec *httptest.ResponseRecorder) []usage.Record {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Records []usage.Record `json:"records"`
		Count   int            `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, len(resp.Records), resp.Count)
	return resp.Records
}

func TestRecentUsageEndpoint(t *testing.T) {
	h, _, store := newTestHandler(t)

	seedRecord(t, store, usage.Record{ID: "01", TenantID: "acme", Endpoint: "chat", TokensUsed: 5})
	seedRecord(t, store, usage.Record{ID: "02", TenantID: "acme", Endpoint: "summarize", TokensUsed: 9})

	rec := httptest.NewRecorder()
	h.HandleRecentUsage(rec, authed(httptest.NewRequest("GET", "/v1/usage/recent?limit=10", nil)))

	records := recentResponse(t, rec)
	require.Len(t, records, 2)
	require.Equal(t, "summarize", records[0].Endpoint)
}

func TestRecentUsageScopedToRequestingTenant(t *testing.T) {
	h, _, store := newTestHandler(t)

	seedRecord(t, store, usage.Record{ID: "01", TenantID: "acme", Endpoint: "chat", TokensUsed: 5})
	seedRecord(t, store, usage.Record{ID: "02", TenantID: "globex", Endpoint: "chat", TokensUsed: 7})
	seedRecord(t, store, usage.Record{ID: "03", TenantID: "acme", Endpoint: "summarize", TokensUsed: 9})

	rec := httptest.NewRecorder()
	h.HandleRecentUsage(rec, authed(httptest.NewRequest("GET", "/v1/usage/recent", nil)))

	records := recentResponse(t, rec)
	require.Len(t, records, 2)
	for _, r := range records {
		require.Equal(t, "acme", r.TenantID, "a tenant must never see another tenant's records")
	}
}

func TestRecentUsageAdminPermissionSeesAllTenants(t *testing.T) {
	h, _, store := newTestHandler(t)

	seedRecord(t, store, usage.Record{ID: "01", TenantID: "acme", Endpoint: "chat", TokensUsed: 5})
	seedRecord(t, store, usage.Record{ID: "02", TenantID: "globex", Endpoint: "chat", TokensUsed: 7})

	admin := &models.TenantContext{TenantID: "ops", Plan: "enterprise", Permissions: []string{"usage:admin"}}
	req := httptest.NewRequest("GET", "/v1/usage/recent", nil)
	req = req.WithContext(WithTenant(req.Context(), admin))

	rec := httptest.NewRecorder()
	h.HandleRecentUsage(rec, req)

	records := recentResponse(t, rec)
	require.Len(t, records, 2)
}

func TestRecentUsageRequiresTenant(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleRecentUsage(rec, httptest.NewRequest("GET", "/v1/usage/recent", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSummarizeCacheHitIsMarkedAndFree(t *testing.T) {
	cfg := testConfig()
	registry := providers.NewRegistry(cfg)
	router, err := providers.NewRouter(registry)
	require.NoError(t, err)

	store := newMemStore()
	limiter := ratelimit.New(store, cfg.RateLimits)
	ledger := usage.NewLedger(store)
	h := New(router, cache.New(store, time.Hour), ledger, limiter, cfg)

	text := "A long article about fixed windows."
	entry, err := json.Marshal(providers.CompletionResult{
		Content:    "Fixed windows, summarized.",
		TokensUsed: 42,
		Model:      "gpt-4o",
	})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), cache.Key("summarize", text, "gpt-4o"), string(entry), time.Hour))

	rec := httptest.NewRecorder()
	h.HandleSummarize(rec, authed(postJSON("/v1/summarize",
		`{"text":"A long article about fixed windows.","model":"gpt-4o"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Success)
	require.Equal(t, "Fixed windows, summarized.", resp.Data["summary"])
	require.Equal(t, true, resp.Data["cached"])
	require.Equal(t, 0, resp.Usage.TokensUsed)
	require.Equal(t, "gpt-4o", resp.Usage.Model)

	// The hit is still recorded, at zero cost.
	ledger.Close()
	records, err := ledger.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "summarize", records[0].Endpoint)
	require.Equal(t, 0, records[0].TokensUsed)
}

func TestGenerateRejectsNegativeMaxTokens(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()

	h.HandleGenerate(rec, authed(postJSON("/v1/generate",
		`{"prompt":"write a haiku","max_tokens":-5}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeError(t, rec).Error, "max_tokens")
}
