package msgdb

import (
	"container/list"
	"sync"

	"github.com/hkdb/aerion/internal/metrics"
)

// DefaultHitCacheSize matches the historical kMaxHdrsInCache constant.
const DefaultHitCacheSize = 512

// useCache guarantees at most one live *Header per MessageKey, the
// identity invariant every concurrent GetMsgHdrForKey retrieval must
// observe (§4.2.3, testable property 1).
type useCache struct {
	mu    sync.Mutex
	byKey map[MessageKey]*Header
}

func newUseCache() *useCache {
	return &useCache{byKey: make(map[MessageKey]*Header)}
}

// GetOrInsert returns the cached header for key if present, otherwise
// stores and returns h.
func (c *useCache) GetOrInsert(key MessageKey, h *Header) *Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byKey[key]; ok {
		return existing
	}
	c.byKey[key] = h
	return h
}

func (c *useCache) Get(key MessageKey) (*Header, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.byKey[key]
	return h, ok
}

func (c *useCache) Remove(key MessageKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, key)
}

// Clear empties the cache before the underlying store is destroyed
// (§4.2.3: "failure to do this is a memory-safety bug" in the original
// refcounted design; here it just drops the map so no stale *Header can
// be handed out after Close). Headers already handed out are not touched.
func (c *useCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey = make(map[MessageKey]*Header)
}

func (c *useCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// hitCache is a bounded LRU of recently touched keys. It tracks recency
// only: the keys it evicts are not removed from the use cache, which stays
// the authority for identity, so eviction here never invalidates a header
// some other caller still holds — it only stops being "hot".
type hitCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	elems    map[MessageKey]*list.Element
}

func newHitCache(capacity int) *hitCache {
	if capacity <= 0 {
		capacity = DefaultHitCacheSize
	}
	return &hitCache{
		capacity: capacity,
		ll:       list.New(),
		elems:    make(map[MessageKey]*list.Element),
	}
}

// Touch records key as most recently used, evicting the least recently
// used key if the cache is over capacity. Returns the evicted key, if any.
func (c *hitCache) Touch(key MessageKey) (evicted MessageKey, didEvict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elems[key]; ok {
		c.ll.MoveToFront(el)
		metrics.HitCacheLookups.WithLabelValues("hit").Inc()
		return 0, false
	}
	metrics.HitCacheLookups.WithLabelValues("miss").Inc()

	el := c.ll.PushFront(key)
	c.elems[key] = el

	if c.ll.Len() <= c.capacity {
		return 0, false
	}

	back := c.ll.Back()
	c.ll.Remove(back)
	evictedKey := back.Value.(MessageKey)
	delete(c.elems, evictedKey)
	metrics.HitCacheLookups.WithLabelValues("evict").Inc()
	return evictedKey, true
}

func (c *hitCache) Remove(key MessageKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.elems[key]; ok {
		c.ll.Remove(el)
		delete(c.elems, key)
	}
}

func (c *hitCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
