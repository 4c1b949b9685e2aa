package service

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
)

// cacheNode is a doubly-linked list node for the LRU cache.
type cacheNode struct {
	key      uint64
	compiled *policy.CompiledPolicy
	prev     *cacheNode
	next     *cacheNode
}

// CompileCache is a bounded LRU of compiled policies.
// Keys cover every field that affects evaluation, so an updated policy
// never hits a stale entry; old versions simply age out.
type CompileCache struct {
	mu      sync.Mutex
	nodes   map[uint64]*cacheNode
	head    *cacheNode // most recently used
	tail    *cacheNode // least recently used
	maxSize int
}

// NewCompileCache creates a cache holding at most maxSize entries.
func NewCompileCache(maxSize int) *CompileCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &CompileCache{
		nodes:   make(map[uint64]*cacheNode, maxSize),
		maxSize: maxSize,
	}
}

// Get returns the compiled policy for key and marks it recently used.
func (c *CompileCache) Get(key uint64) (*policy.CompiledPolicy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[key]
	if !ok {
		return nil, false
	}
	c.promoteLocked(n)
	return n.compiled, true
}

// Put stores a compiled policy, evicting the least recently used entry when full.
func (c *CompileCache) Put(key uint64, cp *policy.CompiledPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.nodes[key]; ok {
		n.compiled = cp
		c.promoteLocked(n)
		return
	}
	if len(c.nodes) >= c.maxSize {
		c.evictLocked()
	}
	n := &cacheNode{key: key, compiled: cp}
	c.nodes[key] = n
	c.pushFrontLocked(n)
}

// Clear empties the cache.
func (c *CompileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[uint64]*cacheNode, c.maxSize)
	c.head, c.tail = nil, nil
}

// Size returns the number of cached entries.
func (c *CompileCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

// Capacity returns the maximum number of entries.
func (c *CompileCache) Capacity() int {
	return c.maxSize
}

func (c *CompileCache) promoteLocked(n *cacheNode) {
	if c.head == n {
		return
	}
	c.unlinkLocked(n)
	c.pushFrontLocked(n)
}

func (c *CompileCache) pushFrontLocked(n *cacheNode) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *CompileCache) unlinkLocked(n *cacheNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *CompileCache) evictLocked() {
	if c.tail == nil {
		return
	}
	delete(c.nodes, c.tail.key)
	c.unlinkLocked(c.tail)
}

// compileKey hashes every policy field that influences evaluation.
// Fields are separated by a zero byte; conditions are hashed in key order.
func compileKey(p policy.Policy) uint64 {
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}

	write(p.ID)
	write(strconv.FormatInt(p.Version, 10))
	write(strconv.FormatInt(p.UpdatedAt.UnixNano(), 10))
	write(p.Subject)
	write(p.Object)
	write(string(p.Action))
	write(strconv.Itoa(p.Priority))
	write(strconv.FormatBool(p.Enabled))
	write(p.Name)

	keys := make([]string, 0, len(p.Conditions))
	for k := range p.Conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k)
		write(p.Conditions[k])
	}
	return h.Sum64()
}
