package rules

import (
	"sync"

	"github.com/xxmjskxx/ComfyUI-SaveImageWithMetaDataUniversal-sub000/internal/logging"
)

type cacheKey struct {
	namespace string
	nodeID    string
	text      string
}

// RunCache is the per-pass parse cache threaded through capabilities via Env.
// Entries are keyed by (namespace, node id, text snapshot), so a node whose
// text changes between passes never reuses a stale parse. A nil *RunCache
// computes every time.
type RunCache struct {
	mu      sync.Mutex
	entries map[cacheKey]any
	warned  logging.Once
}

// NewRunCache creates an empty cache for one capture pass.
func NewRunCache() *RunCache {
	return &RunCache{entries: make(map[cacheKey]any)}
}

// Get returns a cached value.
func (c *RunCache) Get(namespace, nodeID, text string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[cacheKey{namespace, nodeID, text}]
	return v, ok
}

// Put stores a value.
func (c *RunCache) Put(namespace, nodeID, text string, v any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{namespace, nodeID, text}] = v
}

// GetOrCompute returns the cached value or stores and returns compute().
// compute runs outside the lock and may itself use the cache.
func (c *RunCache) GetOrCompute(namespace, nodeID, text string, compute func() any) any {
	if v, ok := c.Get(namespace, nodeID, text); ok {
		return v
	}
	v := compute()
	c.Put(namespace, nodeID, text, v)
	return v
}

// WarnOnce reports whether key is warned about for the first time this pass.
func (c *RunCache) WarnOnce(key string) bool {
	if c == nil {
		return true
	}
	return c.warned.First(key)
}

// Len returns the number of cached entries.
func (c *RunCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
