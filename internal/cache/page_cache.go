// Package cache holds rendered pages in memory
package cache

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// CachedPage is one rendered page body
type CachedPage struct {
	Body      []byte
	CreatedAt time.Time
	LastUsed  time.Time
}

// PageCache keeps rendered pages keyed by their inputs, evicting the least
// recently used entry once maxEntries is exceeded
type PageCache struct {
	cache      map[string]*CachedPage
	mutex      sync.Mutex
	maxEntries int
	cachedSize int64
	hits       int64
	misses     int64
}

// Stats is a snapshot of cache counters
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	SizeBytes  int64   `json:"size_bytes"`
	SizeHuman  string  `json:"size_human"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewPageCache creates a page cache holding at most maxEntries pages
func NewPageCache(maxEntries int) *PageCache {
	return &PageCache{
		cache:      make(map[string]*CachedPage),
		maxEntries: maxEntries,
	}
}

// Get returns the cached body for key
func (pc *PageCache) Get(key string) ([]byte, bool) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	entry, exists := pc.cache[key]
	if !exists {
		pc.misses++
		return nil, false
	}
	pc.hits++
	entry.LastUsed = time.Now()
	return entry.Body, true
}

// Set stores body under key. The caller must not modify body afterwards.
func (pc *PageCache) Set(key string, body []byte) {
	now := time.Now()

	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	if old, exists := pc.cache[key]; exists {
		pc.cachedSize -= int64(len(old.Body))
	}
	pc.cache[key] = &CachedPage{Body: body, CreatedAt: now, LastUsed: now}
	pc.cachedSize += int64(len(body))

	pc.evictIfNeeded()
}

// Clear removes all cache entries
func (pc *PageCache) Clear() {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	count := len(pc.cache)
	pc.cache = make(map[string]*CachedPage)
	pc.cachedSize = 0
	log.Printf("PageCache: Cleared all cache entries (%d entries)", count)
}

// GetStats returns cache statistics
func (pc *PageCache) GetStats() Stats {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	hitRate := 0.0
	if total := pc.hits + pc.misses; total > 0 {
		hitRate = float64(pc.hits) / float64(total) * 100
	}
	return Stats{
		Entries:    len(pc.cache),
		MaxEntries: pc.maxEntries,
		SizeBytes:  pc.cachedSize,
		SizeHuman:  humanSize(pc.cachedSize),
		Hits:       pc.hits,
		Misses:     pc.misses,
		HitRate:    hitRate,
	}
}

func humanSize(size int64) string {
	if size < 1024 {
		return fmt.Sprintf("%d bytes", size)
	}
	if size < 1024*1024 {
		return fmt.Sprintf("%.2f KB", float64(size)/1024.0)
	}
	return fmt.Sprintf("%.2f MB", float64(size)/(1024.0*1024.0))
}

// evictIfNeeded removes the least recently used entry (must be called with lock held)
func (pc *PageCache) evictIfNeeded() {
	for len(pc.cache) > pc.maxEntries {
		var oldestKey string
		var oldestTime time.Time

		for key, entry := range pc.cache {
			if oldestKey == "" || entry.LastUsed.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.LastUsed
			}
		}
		if oldestKey == "" {
			return
		}
		pc.cachedSize -= int64(len(pc.cache[oldestKey].Body))
		delete(pc.cache, oldestKey)
	}
}
