package remote

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Fingerprint derives the ETag of a serialized response body.
func Fingerprint(body []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(body))
}

type cacheKey struct {
	Book     string
	Revision int64
	Query    string
}

type cachedPage struct {
	Body []byte
	ETag string
}

// ResponseCache memoizes serialized list pages and their fingerprints per
// collection revision, so repeating a query against an unchanged collection
// skips re-serialization.
type ResponseCache struct {
	entries *lru.Cache[cacheKey, cachedPage]
}

// NewResponseCache creates a cache holding at most size pages.
func NewResponseCache(size int) (*ResponseCache, error) {
	entries, err := lru.New[cacheKey, cachedPage](size)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &ResponseCache{entries: entries}, nil
}

func (c *ResponseCache) get(key cacheKey) (cachedPage, bool) {
	return c.entries.Get(key)
}

func (c *ResponseCache) add(key cacheKey, page cachedPage) {
	c.entries.Add(key, page)
}

// Invalidate drops every cached page of book. Needed when the stored
// collection changes without a revision bump, e.g. a hand-edited file.
func (c *ResponseCache) Invalidate(book string) int {
	removed := 0
	for _, key := range c.entries.Keys() {
		if key.Book == book && c.entries.Remove(key) {
			removed++
		}
	}
	return removed
}

// Len returns the number of cached pages.
func (c *ResponseCache) Len() int {
	return c.entries.Len()
}
