package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// cacheEntry is one stored response, expiring at ExpiresAt.
type cacheEntry struct {
	Value     string
	ExpiresAt time.Time
}

// responseCache is an in-memory TTL cache of successful tool results, keyed
// by tool name plus a vary-by subset of the call arguments. There is no
// third-party in-memory TTL cache in the dependency set grounded on any
// pack repo (the one semantic cache the pack shows, mazori-ai-modelgate's
// internal/cache/semantic, is backed by Postgres and pgvector for
// similarity search — overkill for this exact-match, single-process cache),
// so this is a deliberately small stdlib map+mutex implementation.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]cacheEntry)}
}

func (c *responseCache) get(toolName string, varyBy []string, args map[string]any) (string, bool) {
	key := cacheKey(toolName, varyBy, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.Value, true
}

func (c *responseCache) set(toolName string, varyBy []string, args map[string]any, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	key := cacheKey(toolName, varyBy, args)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{Value: value, ExpiresAt: time.Now().Add(ttl)}
}

// cacheKey hashes the tool name plus the vary-by subset of args (or every
// arg, if varyBy is empty) so different argument combinations never collide.
func cacheKey(toolName string, varyBy []string, args map[string]any) string {
	subset := args
	if len(varyBy) > 0 {
		subset = make(map[string]any, len(varyBy))
		for _, k := range varyBy {
			if v, ok := args[k]; ok {
				subset[k] = v
			}
		}
	}

	// encoding/json marshals map keys in sorted order, so equal subsets
	// always hash identically regardless of iteration order.
	raw, _ := json.Marshal(subset)
	sum := sha256.Sum256(append([]byte(toolName+"\x00"), raw...))
	return hex.EncodeToString(sum[:])
}
