package services

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// LinkCache is a bounded, TTL-limited memo of platform identity to canonical
// id. Only positive lookups are stored: links are immutable, so a cached hit
// can go stale only by expiring. It is never authoritative; a miss always
// falls through to the store.
type LinkCache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

type cachedLink struct {
	canonicalID string
	expires     time.Time
}

// NewLinkCache returns a cache holding at most size entries for ttl each.
// A non-positive size or ttl yields nil, which disables caching.
func NewLinkCache(size int, ttl time.Duration) *LinkCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &LinkCache{lru: lru.New(size), ttl: ttl, now: time.Now}
}

func linkKey(platform, platformUserID string) string {
	return platform + "\x00" + platformUserID
}

// Get returns the cached canonical id for a platform identity.
func (c *LinkCache) Get(platform, platformUserID string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := linkKey(platform, platformUserID)
	v, ok := c.lru.Get(key)
	if !ok {
		return "", false
	}
	e := v.(cachedLink)
	if !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return "", false
	}
	return e.canonicalID, true
}

// Put remembers a resolved link.
func (c *LinkCache) Put(platform, platformUserID, canonicalID string) {
	if c == nil || canonicalID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(linkKey(platform, platformUserID), cachedLink{canonicalID: canonicalID, expires: c.now().Add(c.ttl)})
}

// Len reports the number of entries, expired ones included.
func (c *LinkCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
