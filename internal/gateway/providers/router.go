package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aiagentplatform/api-gateway/internal/shared/config"
	"github.com/sashabaranov/go-openai"
)

// Registry holds the provider adapters constructed at process start from
// configured credentials. It is built once and treated as read-only.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry constructs adapters for every provider family with a
// configured API key.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{providers: make(map[string]Provider)}

	if cfg.OpenAIAPIKey != "" {
		r.providers["openai"] = NewOpenAIProvider(cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicAPIKey != "" {
		r.providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicAPIKey)
	}
	if cfg.GeminiAPIKey != "" {
		r.providers["google"] = NewGeminiProvider(cfg.GeminiAPIKey)
	}

	return r
}

// Get returns the adapter for a provider family
func (r *Registry) Get(family string) (Provider, bool) {
	p, ok := r.providers[family]
	return p, ok
}

// Families returns the configured provider family names
func (r *Registry) Families() []string {
	families := make([]string, 0, len(r.providers))
	for name := range r.providers {
		families = append(families, name)
	}
	return families
}

// routeRule maps a model id prefix to a provider family
type routeRule struct {
	prefix string
	family string
}

// Router maps model ids to provider adapters through a declarative prefix
// table and drives cross-provider failover. Routing is a pure function of
// the model id and configured credentials, so it is safe for concurrent use.
type Router struct {
	registry *Registry
	table    []routeRule
	failover map[string][]string
}

// NewRouter builds a router over the registry and validates the routing
// table against the known provider families.
func NewRouter(registry *Registry) (*Router, error) {
	r := &Router{
		registry: registry,
		table: []routeRule{
			{prefix: "gpt-", family: "openai"},
			{prefix: "o1-", family: "openai"},
			{prefix: "claude-", family: "anthropic"},
			{prefix: "gemini-", family: "google"},
		},
		failover: map[string][]string{
			// OpenAI failover chains
			"gpt-4o":      {"claude-sonnet-4-5-20250929", "gemini-2.5-pro"},
			"gpt-4o-mini": {"claude-haiku-4-5-20251001", "gemini-2.5-flash"},
			"gpt-4":       {"claude-opus-4-5-20251101", "gemini-2.5-pro"},

			// Anthropic failover chains
			"claude-sonnet-4-5-20250929": {"gpt-4o", "gemini-2.5-pro"},
			"claude-haiku-4-5-20251001":  {"gpt-4o-mini", "gemini-2.5-flash"},

			// Gemini failover chains
			"gemini-2.5-flash": {"gpt-4o-mini", "claude-haiku-4-5-20251001"},
			"gemini-2.5-pro":   {"gpt-4o", "claude-sonnet-4-5-20250929"},
		},
	}

	known := map[string]bool{"openai": true, "anthropic": true, "google": true}
	for _, rule := range r.table {
		if !known[rule.family] {
			return nil, fmt.Errorf("routing table references unknown provider family %q", rule.family)
		}
	}
	for model, chain := range r.failover {
		for _, fallback := range append([]string{model}, chain...) {
			if r.familyFor(fallback) == "" {
				return nil, fmt.Errorf("failover chain references unroutable model %q", fallback)
			}
		}
	}

	return r, nil
}

// Route returns the adapter for a model id. ErrUnsupportedModel when no
// prefix matches, ErrProviderUnavailable when the family has no credential.
func (r *Router) Route(model string) (Provider, string, error) {
	family := r.familyFor(model)
	if family == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
	}

	provider, ok := r.registry.Get(family)
	if !ok {
		return nil, family, fmt.Errorf("%w: %s (check API key)", ErrProviderUnavailable, family)
	}

	return provider, family, nil
}

func (r *Router) familyFor(model string) string {
	for _, rule := range r.table {
		if strings.HasPrefix(model, rule.prefix) {
			return rule.family
		}
	}
	return ""
}

// FailoverChain returns the fallback models for a model, filtered to
// families that are actually configured.
func (r *Router) FailoverChain(model string) []string {
	chain, ok := r.failover[model]
	if !ok {
		return nil
	}

	var available []string
	for _, fallback := range chain {
		if _, ok := r.registry.Get(r.familyFor(fallback)); ok {
			available = append(available, fallback)
		}
	}
	return available
}

// Chat runs a chat completion with automatic failover. The returned bool
// reports whether a fallback model produced the result.
func (r *Router) Chat(ctx context.Context, messages []openai.ChatCompletionMessage, model string, temperature float32) (*CompletionResult, string, bool, error) {
	provider, family, err := r.Route(model)
	if err != nil {
		return nil, family, false, err
	}

	result, err := provider.Chat(ctx, messages, model, temperature)
	if err == nil {
		return result, family, false, nil
	}
	if !retryable(err) {
		return nil, family, false, err
	}

	for _, fallback := range r.FailoverChain(model) {
		provider, fbFamily, rerr := r.Route(fallback)
		if rerr != nil {
			continue
		}
		if result, err = provider.Chat(ctx, messages, fallback, temperature); err == nil {
			return result, fbFamily, true, nil
		}
	}

	return nil, family, false, &ProviderError{
		Provider: family,
		Err:      fmt.Errorf("all providers failed for model %s: %w", model, err),
	}
}

// Complete runs a single-prompt completion with automatic failover
func (r *Router) Complete(ctx context.Context, prompt, model string, maxTokens int) (*CompletionResult, string, bool, error) {
	provider, family, err := r.Route(model)
	if err != nil {
		return nil, family, false, err
	}

	result, err := provider.Complete(ctx, prompt, model, maxTokens)
	if err == nil {
		return result, family, false, nil
	}
	if !retryable(err) {
		return nil, family, false, err
	}

	for _, fallback := range r.FailoverChain(model) {
		provider, fbFamily, rerr := r.Route(fallback)
		if rerr != nil {
			continue
		}
		if result, err = provider.Complete(ctx, prompt, fallback, maxTokens); err == nil {
			return result, fbFamily, true, nil
		}
	}

	return nil, family, false, &ProviderError{
		Provider: family,
		Err:      fmt.Errorf("all providers failed for model %s: %w", model, err),
	}
}

// retryable reports whether an error should trigger failover. Routing
// errors never do; a cancelled request context never does.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "status 5")
}
