package types

import "time"

/*
Priority decides how many tiers receive a write.

This trades write amplification against promotion likelihood:
- Low-priority data (prefetch speculation) is cheap to write and cheap to lose,
  so it only lands in the fastest tier.
- Normal data lands in the fastest two tiers.
- High-priority data (session state) is duplicated into every tier for resilience.
*/
type Priority int

const (
	// PriorityNormal is the default: the fastest two tiers.
	PriorityNormal Priority = iota

	// PriorityLow writes only to the fastest tier.
	PriorityLow

	// PriorityHigh writes to every tier.
	PriorityHigh
)

// WriteOptions carries the per-write knobs of a Set call.
// The zero value means: manager default TTL, no tags, normal priority.
type WriteOptions struct {
	TTL      time.Duration
	HasTTL   bool // distinguishes "not set" from an explicit zero (= never expires)
	Tags     []string
	Priority Priority
}

// WriteOption mutates WriteOptions. Passed variadically to Set and GetOrSet.
type WriteOption func(*WriteOptions)

// WithTTL sets the time-to-live for this write.
// A zero (or negative) duration means the entry never expires.
func WithTTL(ttl time.Duration) WriteOption {
	return func(o *WriteOptions) {
		if ttl < 0 {
			ttl = 0
		}
		o.TTL = ttl
		o.HasTTL = true
	}
}

// WithTags attaches tags for bulk invalidation via DeleteByTags.
func WithTags(tags ...string) WriteOption {
	return func(o *WriteOptions) {
		o.Tags = tags
	}
}

// WithPriority selects how many tiers receive the write.
func WithPriority(p Priority) WriteOption {
	return func(o *WriteOptions) {
		o.Priority = p
	}
}

// ApplyWriteOptions folds a list of options over the zero WriteOptions.
func ApplyWriteOptions(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
