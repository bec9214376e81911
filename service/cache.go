package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/model"
)

// ResultCache is the in-memory query cache for verification lookups,
// keyed by token and type hint.
type ResultCache struct {
	entries    map[string]*cacheEntry
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int // 0 = unlimited
	now        func() time.Time
}

type cacheEntry struct {
	token    string
	result   *model.VerificationResult
	storedAt time.Time
}

func NewResultCache(cfg *config.CacheConfig) *ResultCache {
	maxEntries := cfg.MaxEntries
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &ResultCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        cfg.TTL(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func cacheKey(token string, docType model.DocumentType) string {
	if docType == "" {
		docType = model.DocumentAuto
	}
	return token + "|" + string(docType)
}

// Get returns a copy of a fresh cached result, or nil
func (c *ResultCache) Get(token string, docType model.DocumentType) *model.VerificationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(token, docType)]
	if !ok {
		return nil
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		return nil
	}
	return e.result.Clone()
}

func (c *ResultCache) Put(token string, docType model.DocumentType, result *model.VerificationResult) {
	if result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(token, docType)] = &cacheEntry{
		token:    token,
		result:   result.Clone(),
		storedAt: c.now(),
	}

	c.cleanupIfNeeded()
}

// Invalidate drops every cached type hint for token
func (c *ResultCache) Invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.token == token {
			delete(c.entries, key)
		}
	}
}

// cleanupIfNeeded drops expired entries, then the oldest ones beyond
// maxEntries. Must be called with lock held.
func (c *ResultCache) cleanupIfNeeded() {
	if c.ttl > 0 {
		now := c.now()
		for key, e := range c.entries {
			if now.Sub(e.storedAt) > c.ttl {
				delete(c.entries, key)
			}
		}
	}

	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].storedAt.Before(c.entries[keys[j]].storedAt)
	})

	removeCount := len(keys) - c.maxEntries
	for i := 0; i < removeCount; i++ {
		slog.Debug("evicting cached verification result", "key", keys[i])
		delete(c.entries, keys[i])
	}
}

// Count returns the number of cached results
func (c *ResultCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
