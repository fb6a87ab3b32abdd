package types

import (
	"slices"
	"time"
)

// SchemaVersion is stamped on every stored entry. It is advisory: readers
// do not enforce it, but it gives stored payloads room to evolve.
const SchemaVersion = "1"

// CacheEntry is intentionally mutable for access stats.
// Timestamp races are acceptable.
type CacheEntry struct {
	Key            string        `json:"key"`
	Payload        []byte        `json:"payload"`
	CreatedAt      time.Time     `json:"created_at"`
	TTL            time.Duration `json:"ttl"` // zero => never expires
	SizeBytes      int64         `json:"size_bytes"`
	AccessCount    int64         `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	Tags           []string      `json:"tags,omitempty"`
	Codecs         []string      `json:"codecs,omitempty"` // transforms applied to Payload, in order
	SchemaVersion  string        `json:"schema_version"`
}

// Expired reports whether the entry is past its TTL at the given moment.
// A zero TTL means the entry never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// Touch records a successful read. Tiers call this from Get so that
// last-access ordering stays correct for LRU eviction.
func (e *CacheEntry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
}

// HasAnyTag reports whether the entry carries at least one of the given
// tags. Both sides are expected to be normalized (see NormalizeTags).
func (e *CacheEntry) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if slices.Contains(e.Tags, t) {
			return true
		}
	}
	return false
}

// NormalizeTags returns a sorted, deduplicated copy of tags with empty
// strings dropped. Entries always store tags in this form so that tag
// scans can compare without re-sorting.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
