package tier

import (
	"sort"
	"time"
)

/*
Durable tiers keep an in-memory index of what their backend holds: the
byte size and last-access time of every key. The index is rebuilt by
scanning the backend at open, so LRU ordering survives process restarts.

Everything here assumes the owning tier holds its own lock.
*/

type indexEntry struct {
	size       int64
	lastAccess time.Time
}

type index struct {
	entries map[string]indexEntry
	size    int64
}

func newIndex() *index {
	return &index{entries: make(map[string]indexEntry)}
}

func (ix *index) put(key string, size int64, lastAccess time.Time) {
	if old, ok := ix.entries[key]; ok {
		ix.size -= old.size
	}
	ix.entries[key] = indexEntry{size: size, lastAccess: lastAccess}
	ix.size += size
}

func (ix *index) touch(key string, at time.Time) {
	if e, ok := ix.entries[key]; ok {
		e.lastAccess = at
		ix.entries[key] = e
	}
}

func (ix *index) remove(key string) {
	if e, ok := ix.entries[key]; ok {
		ix.size -= e.size
		delete(ix.entries, key)
	}
}

func (ix *index) reset() {
	ix.entries = make(map[string]indexEntry)
	ix.size = 0
}

func (ix *index) keys() []string {
	keys := make([]string, 0, len(ix.entries))
	for k := range ix.entries {
		keys = append(keys, k)
	}
	return keys
}

// oldest returns the key with the earliest last access, or "" when empty.
// A linear scan is fine here: durable tiers hold few entries relative to
// how rarely capacity eviction runs.
func (ix *index) oldest() string {
	var victim string
	var at time.Time
	for k, e := range ix.entries {
		if victim == "" || e.lastAccess.Before(at) {
			victim = k
			at = e.lastAccess
		}
	}
	return victim
}

// oldestQuarter returns the oldest 25% of keys by last access, at least
// one. This is the second eviction pass used when the backend rejects a
// write outright.
func (ix *index) oldestQuarter() []string {
	keys := ix.keys()
	sort.Slice(keys, func(i, j int) bool {
		return ix.entries[keys[i]].lastAccess.Before(ix.entries[keys[j]].lastAccess)
	})
	n := len(keys) / 4
	if n == 0 && len(keys) > 0 {
		n = 1
	}
	return keys[:n]
}
