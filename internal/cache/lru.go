package cache

import (
	"sync"
	"time"
)

// Entry is one cached result, either synthesized audio or a transcript.
type Entry struct {
	Audio     []byte    `json:"audio,omitempty"`
	Text      string    `json:"text,omitempty"`
	Voice     string    `json:"voice,omitempty"`
	Format    string    `json:"format,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	HitCount  int       `json:"hit_count"`
	// Pinned entries are precomputed warm responses. They never expire
	// and are never evicted under memory pressure.
	Pinned bool `json:"pinned,omitempty"`
}

func (e *Entry) size() int64 {
	return int64(len(e.Audio) + len(e.Text))
}

// LRU is the in-process tier: a doubly linked list plus index map, all
// operations O(1). Expired entries are dropped lazily on Get.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode

	bytes     int64
	evictions uint64
}

type lruNode struct {
	key       string
	entry     *Entry
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

// NewLRU builds the tier. ttl applies to unpinned entries only.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
	}
}

func (c *LRU) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !node.entry.Pinned && time.Now().After(node.expiresAt) {
		c.unlink(node)
		return nil, false
	}

	c.moveToHead(node)
	node.entry.HitCount++
	return node.entry, true
}

func (c *LRU) Set(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		c.bytes += entry.size() - node.entry.size()
		node.entry = entry
		node.expiresAt = time.Now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOne()
	}

	node := &lruNode{
		key:       key,
		entry:     entry,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.items[key] = node
	c.bytes += entry.size()
	c.addToHead(node)
}

func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		c.unlink(node)
	}
}

func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode)
	c.head = nil
	c.tail = nil
	c.bytes = 0
}

// Len reports the number of resident entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes reports resident payload size.
func (c *LRU) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Evictions reports how many entries capacity pressure has pushed out
// since construction.
func (c *LRU) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

func (c *LRU) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *LRU) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

func (c *LRU) unlink(node *lruNode) {
	c.removeNode(node)
	delete(c.items, node.key)
	c.bytes -= node.entry.size()
}

func (c *LRU) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

// evictOne drops the least recently used unpinned entry. If every
// resident entry is pinned the cache is allowed to exceed capacity; the
// warm set is small and bounded by configuration.
func (c *LRU) evictOne() {
	for node := c.tail; node != nil; node = node.prev {
		if node.entry.Pinned {
			continue
		}
		c.unlink(node)
		c.evictions++
		return
	}
}
