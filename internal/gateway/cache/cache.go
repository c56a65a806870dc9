package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/aiagentplatform/api-gateway/internal/gateway/providers"
)

// Store is the key-value contract the cache needs
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Cache maps a deterministic fingerprint of an idempotent request to a
// prior completion result. It is best-effort: store failures degrade to
// miss-always / write-dropped and are never surfaced to the caller.
type Cache struct {
	store Store
	ttl   time.Duration
}

// New creates a new cache instance
func New(store Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Key builds the deterministic fingerprint for a cacheable request
func Key(operation, text, model string) string {
	hash := sha256.Sum256([]byte(operation + "|" + normalize(text) + "|" + model))
	return "cache:" + operation + ":" + hex.EncodeToString(hash[:])
}

// normalize collapses runs of whitespace so textually equivalent inputs
// share one entry
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Get retrieves a cached result. A store error counts as a miss.
func (c *Cache) Get(ctx context.Context, operation, text, model string) (*providers.CompletionResult, bool) {
	val, ok, err := c.store.Get(ctx, Key(operation, text, model))
	if err != nil {
		log.Printf("cache get failed (treating as miss): %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var result providers.CompletionResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		log.Printf("cache entry corrupt (treating as miss): %v", err)
		return nil, false
	}

	return &result, true
}

// Set stores a result. Write failures are dropped.
func (c *Cache) Set(ctx context.Context, operation, text, model string, result *providers.CompletionResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	if err := c.store.Set(ctx, Key(operation, text, model), string(data), c.ttl); err != nil {
		log.Printf("cache set dropped: %v", err)
	}
}
