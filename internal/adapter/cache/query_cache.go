package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// QueryCache is a TTL-bounded LRU of search results. Entries are keyed by
// index generation, query text and k, so results computed against one
// generation are never served for another.
type QueryCache struct {
	lru    *expirable.LRU[string, []domain.SearchResult]
	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		lru: expirable.NewLRU[string, []domain.SearchResult](maxSize, nil, ttl),
	}
}

func cacheKey(generation, query string, topK int) string {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(topK))
	h := sha256.New()
	h.Write([]byte(generation))
	h.Write([]byte{0})
	h.Write([]byte(query))
	h.Write(k[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (c *QueryCache) Get(generation, query string, topK int) ([]domain.SearchResult, bool) {
	results, ok := c.lru.Get(cacheKey(generation, query, topK))
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return cloneResults(results), true
}

func (c *QueryCache) Put(generation, query string, topK int, results []domain.SearchResult) {
	c.lru.Add(cacheKey(generation, query, topK), cloneResults(results))
}

// Invalidate drops every entry, e.g. after the index is reloaded.
func (c *QueryCache) Invalidate() {
	c.lru.Purge()
}

func (c *QueryCache) Size() int {
	return c.lru.Len()
}

// Stats returns hit and miss counts since creation.
func (c *QueryCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func cloneResults(in []domain.SearchResult) []domain.SearchResult {
	if in == nil {
		return nil
	}
	out := make([]domain.SearchResult, len(in))
	copy(out, in)
	return out
}

// CachedRetriever serves repeated queries from a QueryCache. generation
// names the index the wrapped retriever searches.
type CachedRetriever struct {
	retriever  port.Retriever
	cache      *QueryCache
	generation string
}

var _ port.Retriever = (*CachedRetriever)(nil)

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache, generation string) *CachedRetriever {
	return &CachedRetriever{
		retriever:  retriever,
		cache:      cache,
		generation: generation,
	}
}

func (r *CachedRetriever) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if results, hit := r.cache.Get(r.generation, query, k); hit {
		return results, nil
	}

	results, err := r.retriever.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	r.cache.Put(r.generation, query, k, results)
	return results, nil
}
