package tier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/taskhive/tiercache/types"
)

// This file implements the first durable tier: a single-file bbolt store.
// Entries are JSON envelopes in one bucket and survive process restarts.

var boltBucket = []byte("entries")

/*
Bolt is a durable tier backed by a bbolt database file.

The database holds the entries; a rebuilt in-memory index (size and
last-access per key) drives LRU eviction and keeps Keys/SizeBytes cheap.
Access-time updates are written back to the file best-effort so recency
ordering survives restarts when the backend cooperates.
*/
type Bolt struct {
	name     string
	capacity int64
	log      zerolog.Logger
	metrics  types.Metrics
	db       *bolt.DB

	mu        sync.Mutex
	ix        *index
	evictions atomic.Uint64
}

// NewBolt opens (or creates) the database file and rebuilds the index.
// An unopenable file is ErrBackendUnavailable: the caller is expected to
// drop this tier and keep running on the remaining ones.
func NewBolt(name, path string, capacityBytes int64, log zerolog.Logger, metrics types.Metrics) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBackendUnavailable, path, err)
	}

	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	b := &Bolt{
		name:     name,
		capacity: capacityBytes,
		log:      log.With().Str("tier", name).Logger(),
		metrics:  metrics,
		db:       db,
		ix:       newIndex(),
	}
	if err := b.rebuild(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: index %s: %v", ErrBackendUnavailable, path, err)
	}
	return b, nil
}

// rebuild scans the bucket into the index, dropping envelopes that no
// longer parse.
func (b *Bolt) rebuild() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}

		var corrupt [][]byte
		err = bk.ForEach(func(k, v []byte) error {
			var ent types.CacheEntry
			if json.Unmarshal(v, &ent) != nil {
				corrupt = append(corrupt, append([]byte(nil), k...))
				return nil
			}
			b.ix.put(string(k), ent.SizeBytes, ent.LastAccessedAt)
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range corrupt {
			b.log.Warn().Str("key", string(k)).Msg("dropping corrupt entry during index rebuild")
			if err := bk.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) Name() string { return b.name }

// Get loads an entry and records the access. The updated access stats are
// written back best-effort; a failed write-back never fails the read.
func (b *Bolt) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	ent, ok := b.load(ctx, key)
	if !ok {
		return nil, false
	}

	now := time.Now()
	ent.Touch(now)

	b.mu.Lock()
	b.ix.touch(key, now)
	if err := b.writeEnvelope(key, ent); err != nil {
		b.log.Debug().Err(err).Str("key", key).Msg("access write-back skipped")
	}
	b.mu.Unlock()

	return ent, true
}

// Peek loads an entry without touching access stats.
func (b *Bolt) Peek(ctx context.Context, key string) (*types.CacheEntry, bool) {
	return b.load(ctx, key)
}

// load reads and parses one envelope. A corrupt envelope is deleted
// proactively and reported as absent.
func (b *Bolt) load(ctx context.Context, key string) (*types.CacheEntry, bool) {
	var ent types.CacheEntry
	found := false

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &ent); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptEntry, key, err)
		}
		found = true
		return nil
	})
	if err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("unreadable entry, deleting")
		b.Delete(ctx, key)
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &ent, true
}

// Set stores an entry, evicting strict-LRU until it fits. A write the
// backend still rejects triggers one oldest-25% pass and one retry.
func (b *Bolt) Set(_ context.Context, key string, ent *types.CacheEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ent.SizeBytes > b.capacity {
		return ErrCapacityExceeded
	}

	// Overwriting frees the old entry's bytes first.
	if _, ok := b.ix.entries[key]; ok {
		b.deleteLocked(key)
	}

	for b.ix.size+ent.SizeBytes > b.capacity {
		victim := b.ix.oldest()
		if victim == "" {
			break
		}
		b.deleteLocked(victim)
		b.evictions.Add(1)
		b.metrics.Eviction()
	}

	err := b.putLocked(key, ent)
	if err == nil {
		return nil
	}

	// Hard backend rejection: drop the oldest quarter, retry once.
	b.log.Warn().Err(err).Str("key", key).Msg("write rejected, evicting oldest quarter")
	for _, k := range b.ix.oldestQuarter() {
		b.deleteLocked(k)
		b.evictions.Add(1)
		b.metrics.Eviction()
	}
	if err := b.putLocked(key, ent); err != nil {
		return fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
	}
	return nil
}

// putLocked writes the envelope and updates the index. Caller holds mu.
func (b *Bolt) putLocked(key string, ent *types.CacheEntry) error {
	if err := b.writeEnvelope(key, ent); err != nil {
		return err
	}
	b.ix.put(key, ent.SizeBytes, ent.LastAccessedAt)
	return nil
}

func (b *Bolt) writeEnvelope(key string, ent *types.CacheEntry) error {
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), data)
	})
}

// Delete removes one entry. Missing keys and backend errors degrade to a no-op.
func (b *Bolt) Delete(_ context.Context, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteLocked(key)
}

// deleteLocked removes the key from the bucket and the index. Caller holds mu.
func (b *Bolt) deleteLocked(key string) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	if err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("delete failed")
		return
	}
	b.ix.remove(key)
}

// Clear drops the bucket and resets the index and the eviction counter.
func (b *Bolt) Clear(_ context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(boltBucket)
		return err
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("clear failed")
		return
	}
	b.ix.reset()
	b.evictions.Store(0)
}

// Keys lists all indexed keys.
func (b *Bolt) Keys(_ context.Context) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ix.keys()
}

func (b *Bolt) SizeBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ix.size
}

func (b *Bolt) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ix.entries)
}

func (b *Bolt) Evictions() uint64 { return b.evictions.Load() }

// Close closes the database file.
func (b *Bolt) Close() error { return b.db.Close() }
