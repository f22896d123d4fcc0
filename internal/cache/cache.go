// Package cache provides the per-entity-per-tier result cache. The cache is
// best-effort: backend failures are logged as warnings and degrade to a miss
// or no-op, never aborting the surrounding business operation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/caseloop/contextengine/pkg/types"
)

// Backend is the minimal cache store contract: get/set/delete by key with a
// per-entry TTL. Implementations may be remote (and may fail); the TierCache
// wrapper absorbs those failures.
type Backend interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for at most ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Key builds the cache key for one tier of one entity.
func Key(entityType types.EntityType, entityID string, tier types.Tier) string {
	return fmt.Sprintf("ctx:%s:%s:%s", entityType, entityID, tier)
}

// TierCache is the read-through cache for serialized context results.
type TierCache struct {
	backend Backend
}

// NewTierCache wraps a backend with best-effort tier caching.
func NewTierCache(backend Backend) *TierCache {
	return &TierCache{backend: backend}
}

// GetResult returns the cached result for an entity tier, or nil on a miss.
// Backend errors are logged and treated as a miss.
func (c *TierCache) GetResult(ctx context.Context, entityType types.EntityType, entityID string, tier types.Tier) *types.ContextResult {
	key := Key(entityType, entityID, tier)

	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		log.Printf("WARNING: cache: get %s failed, treating as miss: %v", key, err)
		return nil
	}
	if !ok {
		return nil
	}

	var result types.ContextResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.Printf("WARNING: cache: corrupt entry %s, treating as miss: %v", key, err)
		return nil
	}
	return &result
}

// SetResult stores a result with TTL derived from the record's validity
// window. Results whose window has already closed are not cached. Backend
// errors are logged and ignored.
func (c *TierCache) SetResult(ctx context.Context, result *types.ContextResult) {
	if result == nil {
		return
	}

	ttl := time.Until(result.ValidUntil)
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("WARNING: cache: failed to marshal result for %s/%s: %v", result.EntityType, result.EntityID, err)
		return
	}

	key := Key(result.EntityType, result.EntityID, result.Tier)
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		log.Printf("WARNING: cache: set %s failed: %v", key, err)
	}
}

// Invalidate removes all three tier keys for an entity. Backend errors are
// logged and ignored.
func (c *TierCache) Invalidate(ctx context.Context, entityType types.EntityType, entityID string) {
	keys := make([]string, 0, 3)
	for _, tier := range types.AllTiers() {
		keys = append(keys, Key(entityType, entityID, tier))
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		log.Printf("WARNING: cache: invalidate %s/%s failed: %v", entityType, entityID, err)
	}
}
