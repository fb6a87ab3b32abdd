package tier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskhive/tiercache/types"
)

// This file implements the in-process tier: the fastest tier, always first
// in the hierarchy. Entries live for the process lifetime only.

// memNode represents ONE key inside the recency list. We use a
// doubly-linked list so moves and removals are O(1).
type memNode struct {
	ent *types.CacheEntry

	// prev points toward more recently used entries
	prev *memNode

	// next points toward less recently used entries
	next *memNode
}

/*
Memory is a byte-bounded in-process tier.

Storage is a plain map guarded by one mutex; recency is a doubly-linked
list with the most recently used entry at the head. Every successful Get
moves the entry to the front, so the tail is always the strict LRU victim.
*/
type Memory struct {
	name     string
	capacity int64
	log      zerolog.Logger
	metrics  types.Metrics

	mu    sync.Mutex
	nodes map[string]*memNode

	// head points to the MOST recently used entry
	head *memNode

	// tail points to the LEAST recently used entry
	tail *memNode

	size      int64
	evictions atomic.Uint64
}

// NewMemory creates an in-process tier with the given byte capacity.
// A nil metrics hook is replaced with NoopMetrics so eviction reporting
// needs no nil checks.
func NewMemory(name string, capacityBytes int64, log zerolog.Logger, metrics types.Metrics) *Memory {
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	return &Memory{
		name:     name,
		capacity: capacityBytes,
		log:      log.With().Str("tier", name).Logger(),
		metrics:  metrics,
		nodes:    make(map[string]*memNode),
	}
}

func (m *Memory) Name() string { return m.name }

// Get retrieves an entry and marks it most recently used.
func (m *Memory) Get(_ context.Context, key string) (*types.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[key]
	if !ok {
		return nil, false
	}

	n.ent.Touch(time.Now())
	m.moveToFront(n)
	return n.ent, true
}

// Peek retrieves an entry without touching access stats or recency order.
func (m *Memory) Peek(_ context.Context, key string) (*types.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[key]
	if !ok {
		return nil, false
	}
	return n.ent, true
}

// Set stores an entry, evicting from the tail until it fits.
func (m *Memory) Set(_ context.Context, key string, ent *types.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ent.SizeBytes > m.capacity {
		return ErrCapacityExceeded
	}

	// Overwriting frees the old entry's bytes first.
	if old, ok := m.nodes[key]; ok {
		m.unlink(old)
		m.size -= old.ent.SizeBytes
		delete(m.nodes, key)
	}

	// Strict LRU: the tail is always the entry with the oldest last access.
	for m.size+ent.SizeBytes > m.capacity && m.tail != nil {
		m.evictTail()
	}

	n := &memNode{ent: ent}
	m.nodes[key] = n
	m.addFront(n)
	m.size += ent.SizeBytes
	return nil
}

// Delete removes an entry. Missing keys are a no-op.
func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[key]
	if !ok {
		return
	}
	m.unlink(n)
	m.size -= n.ent.SizeBytes
	delete(m.nodes, key)
}

// Clear drops every entry and resets the eviction counter.
func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes = make(map[string]*memNode)
	m.head = nil
	m.tail = nil
	m.size = 0
	m.evictions.Store(0)
}

// Keys lists all stored keys.
func (m *Memory) Keys(_ context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.nodes))
	for k := range m.nodes {
		keys = append(keys, k)
	}
	return keys
}

func (m *Memory) SizeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

func (m *Memory) Evictions() uint64 { return m.evictions.Load() }

// Close is a no-op: memory tiers hold no backend resources.
func (m *Memory) Close() error { return nil }

// evictTail removes the least recently used entry. Caller holds mu.
func (m *Memory) evictTail() {
	victim := m.tail
	m.unlink(victim)
	m.size -= victim.ent.SizeBytes
	delete(m.nodes, victim.ent.Key)
	m.evictions.Add(1)
	m.metrics.Eviction()
	m.log.Debug().Str("key", victim.ent.Key).Msg("evicted lru entry")
}

// addFront marks a node as most recently used.
func (m *Memory) addFront(n *memNode) {
	n.prev = nil
	n.next = m.head
	if m.head != nil {
		m.head.prev = n
	}
	m.head = n

	// If the list was empty, head and tail are the same
	if m.tail == nil {
		m.tail = n
	}
}

// unlink removes a node from the recency list, fixing head/tail as needed.
func (m *Memory) unlink(n *memNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		m.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

// moveToFront is used when a key is accessed.
func (m *Memory) moveToFront(n *memNode) {
	m.unlink(n)
	m.addFront(n)
}
