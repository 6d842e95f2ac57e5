package engine

import (
	"sync"
	"time"
)

const cacheTTL = 300 * time.Second

// infoCache memoizes metadata lookups per source URL for five minutes.
// Expired entries are treated as absent and overwritten on the next put;
// there is no purge loop, the key space is caller-driven and small.
type infoCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	info    VideoInfo
	expires time.Time
}

func newInfoCache() *infoCache {
	return &infoCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *infoCache) get(url string) (VideoInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	if !ok || !c.now().Before(entry.expires) {
		return VideoInfo{}, false
	}
	return entry.info, true
}

func (c *infoCache) put(url string, info VideoInfo) {
	c.mu.Lock()
	c.entries[url] = cacheEntry{info: info, expires: c.now().Add(cacheTTL)}
	c.mu.Unlock()
}
