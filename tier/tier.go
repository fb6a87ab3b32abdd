package tier

import (
	"context"
	"errors"

	"github.com/taskhive/tiercache/types"
)

/*
This file defines what a storage tier is.

A tier is one backend in the cache's ordered hierarchy, fastest to slowest.
The manager owns ordering and cross-tier policy; tiers never talk to each
other. Each tier owns exactly one thing: its entries, its byte capacity,
and its own eviction when that capacity overflows.
*/

var (
	// ErrCapacityExceeded means an entry could not be written even after
	// LRU eviction and one retry. The manager skips the tier and moves on.
	ErrCapacityExceeded = errors.New("tier: capacity exceeded")

	// ErrBackendUnavailable means the tier's storage cannot be opened or
	// used at all. Callers drop the tier and run on the remaining ones.
	ErrBackendUnavailable = errors.New("tier: backend unavailable")

	// ErrCorruptEntry means a stored entry failed to parse. The tier
	// deletes it proactively and reports the key as absent.
	ErrCorruptEntry = errors.New("tier: corrupt entry")
)

/*
Tier is the contract every storage backend must follow.

Failure semantics
-----------------
A tier must never let a storage error escape as a panic. Get degrades to
"absent", Set returns an error value the manager logs and ignores, Delete
and Clear swallow errors entirely. A cache that fails its caller is worse
than no cache.

Expiry is NOT a tier concern: Get returns expired entries unchanged. The
manager decides what "expired" means and runs the sweep.
*/
type Tier interface {

	// Name identifies the tier in statistics and logs.
	Name() string

	// Get returns the entry if present, regardless of expiry, and updates
	// its access count and last-access time for LRU accounting.
	Get(ctx context.Context, key string) (*types.CacheEntry, bool)

	// Peek returns the entry without touching access stats. Used by tag
	// scans, the expiry sweep, and presence checks so that read-only
	// bookkeeping does not perturb eviction order.
	Peek(ctx context.Context, key string) (*types.CacheEntry, bool)

	/*
		Set stores or overwrites an entry.

		If the entry would exceed the capacity ceiling, the tier first
		evicts existing entries in ascending last-access order (strict LRU)
		until it fits. If the backend still rejects the write (a hard
		quota), the tier evicts the oldest 25% of entries, retries once,
		and on renewed failure returns ErrCapacityExceeded.

		An entry larger than the whole tier is rejected up front without
		evicting anything.
	*/
	Set(ctx context.Context, key string, ent *types.CacheEntry) error

	// Delete removes one entry. Missing keys are not an error.
	Delete(ctx context.Context, key string)

	// Clear removes every entry and resets the eviction counter, so a
	// cleared tier reports statistics as if freshly created.
	Clear(ctx context.Context)

	// Keys lists all stored keys. Read-only; used for tag scans and the sweep.
	Keys(ctx context.Context) []string

	// SizeBytes is the running total of stored payload sizes.
	SizeBytes() int64

	// Len is the number of stored entries.
	Len() int

	// Evictions is the number of entries this tier removed to make room.
	Evictions() uint64

	// Close releases backend resources. The tier is unusable afterwards.
	Close() error
}
