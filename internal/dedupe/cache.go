// ABOUTME: Bounded TTL set of event ids already delivered on a world bus
// ABOUTME: Lets broker-backed providers drop their own echoes and redeliveries

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is how long an id is remembered when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// DefaultMaxSize bounds the number of remembered ids when none is configured.
const DefaultMaxSize = 10000

type entry struct {
	id     string
	seenAt time.Time
}

// Cache remembers event ids for a TTL and evicts the oldest id once full.
// Entries are kept in arrival order, so expiry and eviction both pop from the
// front of the list.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// New creates a cache. Non-positive arguments fall back to the defaults.
// A background sweep drops expired ids every ttl/2 until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether id was marked within the TTL.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[id]
	return ok && c.fresh(el)
}

// Mark records id as delivered.
func (c *Cache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(id)
}

// CheckAndMark returns true when id was already marked within the TTL.
// Otherwise it marks id and returns false. The check and the mark happen
// under one lock, so two racing deliveries of the same id cannot both pass.
func (c *Cache) CheckAndMark(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok && c.fresh(el) {
		return true
	}
	c.markLocked(id)
	return false
}

// Len returns the number of remembered ids, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) fresh(el *list.Element) bool {
	return c.now().Sub(el.Value.(*entry).seenAt) < c.ttl
}

func (c *Cache) markLocked(id string) {
	if el, ok := c.index[id]; ok {
		c.order.Remove(el)
		delete(c.index, id)
	}
	for len(c.index) >= c.maxSize {
		c.removeFront()
	}
	c.index[id] = c.order.PushBack(&entry{id: id, seenAt: c.now()})
}

func (c *Cache) removeFront() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*entry).id)
}

// sweep drops expired ids from the front of the arrival list.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for front := c.order.Front(); front != nil && !c.fresh(front); front = c.order.Front() {
		c.removeFront()
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}
