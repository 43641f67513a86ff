package citation

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/wenhaiyang6/parenting/internal/models"
)

// Cache memoizes Reconcile results keyed by (answer, sources). It is an LRU bounded by
// capacity and is safe for concurrent use. Returned results are shared and must not be
// modified.
type Cache struct {
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex

	hits, misses int
}

type cacheEntry struct {
	key   string
	value Result
}

// NewCache creates a cache holding at most capacity results. A capacity below 1 is treated as 1.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Reconcile returns the cached display form of answer, computing it on a miss.
func (c *Cache) Reconcile(answer string, sources []models.Source) Result {
	key := cacheKey(answer, sources)
	if res, ok := c.get(key); ok {
		return res
	}
	res := Reconcile(answer, sources)
	c.set(key, res)
	return res
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).value, true
	}
	c.misses++
	return Result{}, false
}

func (c *Cache) set(key string, value Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.entries[key] = elem

	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
}

// cacheKey hashes every field Reconcile reads. Fields are NUL-separated so that
// adjacent values cannot run together.
func cacheKey(answer string, sources []models.Source) string {
	h := sha256.New()
	h.Write([]byte(answer))
	for _, s := range sources {
		h.Write([]byte{0})
		h.Write([]byte(s.Link))
		h.Write([]byte{0})
		h.Write([]byte(s.Title))
		h.Write([]byte{0})
		if s.Date != nil {
			h.Write([]byte(*s.Date))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
