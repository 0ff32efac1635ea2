package retrieval

import "sync"

// RecentFilesCache is a bounded, most-recently-accessed-first list of
// workspace-relative paths, used as a temporal relevance signal for
// SearchWithRecent. Grounded on cocode-rs's RecentFilesCache
// (service.rs "Recent Files API"): only the path is kept, content is
// always re-read fresh at search time so a stale cached body can never
// be served.
type RecentFilesCache struct {
	mu       sync.Mutex
	capacity int
	order    []string // most recent first
}

// NewRecentFilesCache constructs a cache holding up to capacity paths.
func NewRecentFilesCache(capacity int) *RecentFilesCache {
	if capacity <= 0 {
		capacity = 50
	}
	return &RecentFilesCache{capacity: capacity}
}

// NotifyAccessed moves path to the front, evicting the oldest entry if
// the cache is already at capacity.
func (c *RecentFilesCache) NotifyAccessed(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append([]string{path}, c.order...)
	if len(c.order) > c.capacity {
		c.order = c.order[:c.capacity]
	}
}

// Remove drops path from the cache, e.g. on file close or delete.
func (c *RecentFilesCache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// RecentPaths returns up to limit paths, most recently accessed first.
func (c *RecentFilesCache) RecentPaths(limit int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.order) {
		limit = len(c.order)
	}
	out := make([]string, limit)
	copy(out, c.order[:limit])
	return out
}

// Contains reports whether path is currently tracked.
func (c *RecentFilesCache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.order {
		if p == path {
			return true
		}
	}
	return false
}

// Len returns the number of tracked paths.
func (c *RecentFilesCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Clear empties the cache.
func (c *RecentFilesCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
}
