// Package embcache memoizes text-to-vector lookups so identical text never
// pays for a second remote encode call. The cache is approximate: keys are
// a hash of the normalized text plus its length, and a rare collision only
// costs a wrong cached vector for a lookup, never a correctness-critical
// decision.
package embcache

import (
	"container/list"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const maxSweepInterval = 5 * time.Minute

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

type entry struct {
	key       string
	vector    []float32
	expiresAt time.Time
}

// Cache is a process-wide LRU-with-TTL store for embedding vectors.
// Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	capacity   int
	ttl        time.Duration
	hits       int64
	misses     int64
	cacheTotal *prometheus.CounterVec // label "result": hit/miss; may be nil
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a cache with the given capacity and TTL and starts the
// background sweep. cacheTotal is a counter vec with label "result"
// ("hit"/"miss"), passed explicitly; nil disables metrics.
func New(capacity int, ttl time.Duration, cacheTotal *prometheus.CounterVec) *Cache {
	c := &Cache{
		entries:    make(map[string]*list.Element, capacity),
		order:      list.New(),
		capacity:   capacity,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached vector for text, promoting the entry to most
// recently used. Expired entries are deleted on sight and count as misses.
func (c *Cache) Get(text string) ([]float32, bool) {
	key := cacheKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.miss()
		return nil, false
	}

	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.remove(el)
		c.miss()
		return nil, false
	}

	c.order.MoveToFront(el)
	c.hits++
	c.inc("hit")
	return e.vector, true
}

// Has reports whether a live entry exists for text, without promoting it
// or touching the counters.
func (c *Cache) Has(text string) bool {
	key := cacheKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	return !c.now().After(el.Value.(*entry).expiresAt)
}

// Set stores a vector for text, evicting the single oldest entry when the
// cache is at capacity.
func (c *Cache) Set(text string, vector []float32) {
	key := cacheKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.vector = vector
		e.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}

	el := c.order.PushFront(&entry{key: key, vector: vector, expiresAt: c.now().Add(c.ttl)})
	c.entries[key] = el
}

// Stats returns a snapshot of size and hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:    c.order.Len(),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// sweepLoop purges expired entries every min(TTL, 5m) so memory is
// reclaimed even when nothing reads the cache.
func (c *Cache) sweepLoop() {
	interval := c.ttl
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.remove(el)
		}
		el = prev
	}
}

func (c *Cache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}

func (c *Cache) miss() {
	c.misses++
	c.inc("miss")
}

func (c *Cache) inc(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// cacheKey hashes the normalized text together with its length, bounding
// key size while cheaply approximating equality.
func cacheKey(text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	h := fnv.New64a()
	_, _ = h.Write([]byte(norm))
	return strconv.FormatUint(h.Sum64(), 16) + ":" + strconv.Itoa(len(norm))
}
