package tier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskhive/tiercache/types"
)

// This file implements the second durable tier: one JSON envelope file per
// key under a directory. Larger and slower than the bolt tier, it is the
// last stop before a miss.

const (
	diskSuffix = ".cache"

	// tmpSuffix marks half-written envelopes. Writes land in a temp file
	// first and are renamed into place, so readers never see a truncated
	// envelope; stray temp files are swept away at open.
	tmpSuffix = ".tmp"
)

/*
Disk is a durable tier writing each entry to its own file.

File names are the SHA-256 of the key, so arbitrary keys map to safe
paths. The envelope records the original key, which is how the index is
rebuilt from a directory scan at open.
*/
type Disk struct {
	name     string
	dir      string
	capacity int64
	log      zerolog.Logger
	metrics  types.Metrics

	mu        sync.Mutex
	ix        *index
	evictions atomic.Uint64
}

// NewDisk creates the directory if needed and rebuilds the index by
// scanning it. An unusable directory is ErrBackendUnavailable.
func NewDisk(name, dir string, capacityBytes int64, log zerolog.Logger, metrics types.Metrics) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrBackendUnavailable, dir, err)
	}

	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	d := &Disk{
		name:     name,
		dir:      dir,
		capacity: capacityBytes,
		log:      log.With().Str("tier", name).Logger(),
		metrics:  metrics,
		ix:       newIndex(),
	}
	if err := d.rebuild(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrBackendUnavailable, dir, err)
	}
	return d, nil
}

// rebuild scans the directory into the index, removing files that no
// longer parse.
func (d *Disk) rebuild() error {
	files, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		path := filepath.Join(d.dir, f.Name())

		// A temp file means a write never completed. Its final envelope
		// either exists (the rename happened) or was never valid.
		if strings.HasSuffix(f.Name(), tmpSuffix) {
			_ = os.Remove(path)
			continue
		}
		if !strings.HasSuffix(f.Name(), diskSuffix) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			d.log.Warn().Err(err).Str("file", f.Name()).Msg("unreadable cache file, removing")
			_ = os.Remove(path)
			continue
		}

		var ent types.CacheEntry
		if err := json.Unmarshal(data, &ent); err != nil || ent.Key == "" {
			d.log.Warn().Str("file", f.Name()).Msg("dropping corrupt entry during index rebuild")
			_ = os.Remove(path)
			continue
		}
		d.ix.put(ent.Key, ent.SizeBytes, ent.LastAccessedAt)
	}
	return nil
}

func (d *Disk) Name() string { return d.name }

// path returns the envelope file for a key.
func (d *Disk) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+diskSuffix)
}

// Get loads an entry and records the access. The updated access stats are
// written back best-effort; a failed write-back never fails the read.
func (d *Disk) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	ent, ok := d.load(ctx, key)
	if !ok {
		return nil, false
	}

	now := time.Now()
	ent.Touch(now)

	d.mu.Lock()
	d.ix.touch(key, now)
	if err := d.writeEnvelope(key, ent); err != nil {
		d.log.Debug().Err(err).Str("key", key).Msg("access write-back skipped")
	}
	d.mu.Unlock()

	return ent, true
}

// Peek loads an entry without touching access stats.
func (d *Disk) Peek(ctx context.Context, key string) (*types.CacheEntry, bool) {
	return d.load(ctx, key)
}

// load reads and parses one envelope file. A corrupt file is deleted
// proactively and reported as absent.
func (d *Disk) load(ctx context.Context, key string) (*types.CacheEntry, bool) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			d.log.Warn().Err(err).Str("key", key).Msg("read failed")
		}
		return nil, false
	}

	var ent types.CacheEntry
	if err := json.Unmarshal(data, &ent); err != nil {
		d.log.Warn().Str("key", key).Msg("corrupt entry, deleting")
		d.Delete(ctx, key)
		return nil, false
	}
	return &ent, true
}

// Set stores an entry, evicting strict-LRU until it fits. A write the
// filesystem still rejects triggers one oldest-25% pass and one retry.
func (d *Disk) Set(_ context.Context, key string, ent *types.CacheEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ent.SizeBytes > d.capacity {
		return ErrCapacityExceeded
	}

	// Overwriting frees the old entry's bytes first.
	if _, ok := d.ix.entries[key]; ok {
		d.deleteLocked(key)
	}

	for d.ix.size+ent.SizeBytes > d.capacity {
		victim := d.ix.oldest()
		if victim == "" {
			break
		}
		d.deleteLocked(victim)
		d.evictions.Add(1)
		d.metrics.Eviction()
	}

	err := d.putLocked(key, ent)
	if err == nil {
		return nil
	}

	// Hard backend rejection (e.g. the filesystem is out of space):
	// drop the oldest quarter, retry once.
	d.log.Warn().Err(err).Str("key", key).Msg("write rejected, evicting oldest quarter")
	for _, k := range d.ix.oldestQuarter() {
		d.deleteLocked(k)
		d.evictions.Add(1)
		d.metrics.Eviction()
	}
	if err := d.putLocked(key, ent); err != nil {
		return fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
	}
	return nil
}

// putLocked writes the envelope and updates the index. Caller holds mu.
func (d *Disk) putLocked(key string, ent *types.CacheEntry) error {
	if err := d.writeEnvelope(key, ent); err != nil {
		return err
	}
	d.ix.put(key, ent.SizeBytes, ent.LastAccessedAt)
	return nil
}

// writeEnvelope replaces the envelope atomically: os.WriteFile truncates
// in place, which would let a concurrent load observe a partial file,
// misparse it and delete a valid entry. Temp file + rename keeps every
// read seeing either the old or the new complete envelope.
func (d *Disk) writeEnvelope(key string, ent *types.CacheEntry) error {
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}

	path := d.path(key)
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Delete removes one entry. Missing keys and backend errors degrade to a no-op.
func (d *Disk) Delete(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteLocked(key)
}

// deleteLocked removes the envelope file and the index entry. Caller holds mu.
func (d *Disk) deleteLocked(key string) {
	if err := os.Remove(d.path(key)); err != nil && !os.IsNotExist(err) {
		d.log.Warn().Err(err).Str("key", key).Msg("delete failed")
		return
	}
	d.ix.remove(key)
}

// Clear removes every envelope file and resets the eviction counter.
func (d *Disk) Clear(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range d.ix.keys() {
		d.deleteLocked(key)
	}
	d.evictions.Store(0)
}

// Keys lists all indexed keys.
func (d *Disk) Keys(_ context.Context) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ix.keys()
}

func (d *Disk) SizeBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ix.size
}

func (d *Disk) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ix.entries)
}

func (d *Disk) Evictions() uint64 { return d.evictions.Load() }

// Close is a no-op: the disk tier holds no open handles between calls.
func (d *Disk) Close() error { return nil }
