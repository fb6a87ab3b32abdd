package tiercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/taskhive/tiercache/codec"
	"github.com/taskhive/tiercache/tier"
	"github.com/taskhive/tiercache/types"
)

/*
Manager is the main cache implementation.
This struct is the orchestrator that connects:
- the ordered storage tiers
- the codec pipeline
- promotion, tagging and expiry policy
- statistics and metrics

Tiers never talk to each other; the manager is the sole owner of tier
ordering and cross-tier consistency ("eventually same", not strict).
*/
type Manager struct {
	// tiers are ordered fastest to slowest. The in-process tier comes first.
	tiers []tier.Tier

	// chain is the optional payload transform pipeline (compression,
	// encryption). Nil acts as the identity.
	chain *codec.Chain

	// defaultTTL applies to writes without an explicit TTL. Zero => never expires.
	defaultTTL time.Duration

	metrics types.Metrics
	log     zerolog.Logger

	// sf prevents concurrent GetOrSet misses on the same key from running
	// the factory more than once.
	sf singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64

	// sweepRemoved counts entries physically removed by the expiry sweep.
	sweepRemoved atomic.Uint64

	sweepEvery time.Duration
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the metrics hook. Default is types.NoopMetrics.
func WithMetrics(metrics types.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithCodec sets the payload transform pipeline.
func WithCodec(chain *codec.Chain) Option {
	return func(m *Manager) { m.chain = chain }
}

// WithDefaultTTL sets the TTL for writes that don't carry one.
// Zero means such writes never expire.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// WithSweepInterval sets how often the background expiry sweep runs.
// Zero disables the sweep (expired entries are then only skipped lazily).
func WithSweepInterval(every time.Duration) Option {
	return func(m *Manager) { m.sweepEvery = every }
}

// New creates a Manager over the given tiers, fastest first, and starts
// the background expiry sweep.
func New(tiers []tier.Tier, opts ...Option) (*Manager, error) {
	if len(tiers) == 0 {
		return nil, errors.New("tiercache: at least one tier is required")
	}

	m := &Manager{
		tiers:      tiers,
		metrics:    types.NoopMetrics{},
		log:        zerolog.Nop(),
		sweepEvery: 5 * time.Minute,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sweepEvery > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return m, nil
}

/*
Get returns the payload for a key, or absent.

1. Tiers are tried fastest to slowest.
2. An expired entry is a miss for THIS lookup only; the sweep removes it later.
3. The first valid hit is promoted into every faster tier, best-effort:
   promotion is an optimization, never a correctness requirement.
*/
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()

	for i, t := range m.tiers {
		ent, ok := t.Get(ctx, key)
		if !ok {
			continue
		}
		if ent.Expired(now) {
			continue
		}

		payload, err := m.chain.Decode(ent.Payload, ent.Codecs)
		if err != nil {
			// Corrupt copy in THIS tier only: each envelope records its own
			// transforms, so a slower tier may still hold a decodable copy.
			m.log.Warn().Err(err).Str("key", key).Str("tier", t.Name()).Msg("undecodable entry, deleting")
			t.Delete(ctx, key)
			continue
		}

		m.hits.Add(1)
		m.metrics.Hit()
		m.promote(ctx, key, ent, i)
		return payload, true
	}

	m.misses.Add(1)
	m.metrics.Miss()
	return nil, false
}

// promote copies a hit into every tier faster than where it was found.
// Errors are logged and ignored.
func (m *Manager) promote(ctx context.Context, key string, ent *types.CacheEntry, foundAt int) {
	for j := 0; j < foundAt; j++ {
		if err := m.tiers[j].Set(ctx, key, ent); err != nil {
			m.log.Debug().Err(err).Str("key", key).Str("tier", m.tiers[j].Name()).Msg("promotion skipped")
			continue
		}
		m.metrics.Promotion()
	}
}

/*
Set stores an already-serialized payload.

The codec pipeline runs best-effort (a failing transform falls back to
identity), SizeBytes is computed from the final form, and the entry is
fanned out concurrently to the tiers selected by priority. Per-tier
failures are logged and ignored: the call is complete once every selected
tier has been attempted. Set never returns an error.
*/
func (m *Manager) Set(ctx context.Context, key string, value []byte, opts ...types.WriteOption) {
	o := types.ApplyWriteOptions(opts)

	ttl := m.defaultTTL
	if o.HasTTL {
		ttl = o.TTL
	}

	payload, applied := m.chain.Encode(value)

	now := time.Now()
	ent := &types.CacheEntry{
		Key:            key,
		Payload:        payload,
		CreatedAt:      now,
		TTL:            ttl,
		SizeBytes:      int64(len(payload)),
		AccessCount:    1,
		LastAccessedAt: now,
		Tags:           types.NormalizeTags(o.Tags),
		Codecs:         applied,
		SchemaVersion:  types.SchemaVersion,
	}

	var wg sync.WaitGroup
	for _, t := range m.targets(o.Priority) {
		wg.Add(1)
		go func(t tier.Tier) {
			defer wg.Done()
			if err := t.Set(ctx, key, ent); err != nil {
				m.log.Warn().Err(err).Str("key", key).Str("tier", t.Name()).Msg("write skipped")
			}
		}(t)
	}
	wg.Wait()
}

// targets selects the tiers a write lands in, by priority.
func (m *Manager) targets(p types.Priority) []tier.Tier {
	switch p {
	case types.PriorityLow:
		return m.tiers[:1]
	case types.PriorityHigh:
		return m.tiers
	default:
		return m.tiers[:min(2, len(m.tiers))]
	}
}

// Has reports valid, non-expired presence in any tier. It does not touch
// access stats or the hit/miss counters.
func (m *Manager) Has(ctx context.Context, key string) bool {
	now := time.Now()
	for _, t := range m.tiers {
		if ent, ok := t.Peek(ctx, key); ok && !ent.Expired(now) {
			return true
		}
	}
	return false
}

// Delete removes the key from every tier. Absence is not an error.
func (m *Manager) Delete(ctx context.Context, key string) {
	for _, t := range m.tiers {
		t.Delete(ctx, key)
	}
}

/*
DeleteByTags removes every entry whose tag set intersects the given tags.

This is O(total entries) per call. That is acceptable: invalidation is
driven by coarse events ("all data for user X"), not a hot path.
*/
func (m *Manager) DeleteByTags(ctx context.Context, tags []string) {
	tags = types.NormalizeTags(tags)
	if len(tags) == 0 {
		return
	}

	for _, t := range m.tiers {
		for _, key := range t.Keys(ctx) {
			ent, ok := t.Peek(ctx, key)
			if ok && ent.HasAnyTag(tags) {
				t.Delete(ctx, key)
			}
		}
	}
}

// Clear empties every tier and resets the hit/miss counters.
func (m *Manager) Clear(ctx context.Context) {
	for _, t := range m.tiers {
		t.Clear(ctx)
	}
	m.hits.Store(0)
	m.misses.Store(0)
	m.sweepRemoved.Store(0)
}

/*
GetOrSet is the cache-aside pattern: attempt Get, on miss run the factory,
cache its result, return it.

Concurrent misses on the same key share ONE factory invocation via
singleflight; the duplicate-work window of a naive cache-aside loop is
closed here. A factory error is the caller's own business-logic failure:
it propagates, and nothing is cached.
*/
func (m *Manager) GetOrSet(ctx context.Context, key string, factory func(context.Context) ([]byte, error), opts ...types.WriteOption) ([]byte, error) {
	if v, ok := m.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := m.sf.Do(key, func() (any, error) {
		val, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		m.Set(ctx, key, val, opts...)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Stats returns an aggregate snapshot across all tiers.
func (m *Manager) Stats() types.Statistics {
	stats := types.Statistics{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.sweepRemoved.Load(),
		TierSizes: make(map[string]int64, len(m.tiers)),
	}

	for _, t := range m.tiers {
		size := t.SizeBytes()
		stats.TierSizes[t.Name()] = size
		stats.TotalSizeBytes += size
		stats.TotalEntries += t.Len()
		stats.Evictions += t.Evictions()
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Close stops the expiry sweep and closes every tier.
func (m *Manager) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		for _, t := range m.tiers {
			if err := t.Close(); err != nil {
				m.log.Warn().Err(err).Str("tier", t.Name()).Msg("close failed")
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
