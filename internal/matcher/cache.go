package matcher

import (
	"sync"
)

// Cache remembers match results per query. It is safe for concurrent use.
// A cache is tied to the catalog of the matchers using it: call Invalidate
// whenever that catalog changes.
type Cache struct {
	mutex   sync.RWMutex
	results map[Query]ProcedureMatchResult
	hits    int64
	misses  int64
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{results: make(map[Query]ProcedureMatchResult)}
}

// Get returns the cached result for query.
func (c *Cache) Get(query Query) (ProcedureMatchResult, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	result, ok := c.results[query]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return result, ok
}

// Put stores result for query.
func (c *Cache) Put(query Query, result ProcedureMatchResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.results[query] = result
}

// Invalidate drops every cached result and resets the counters.
func (c *Cache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.results = make(map[Query]ProcedureMatchResult)
	c.hits, c.misses = 0, 0
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.results)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return CacheStats{Entries: len(c.results), Hits: c.hits, Misses: c.misses}
}
