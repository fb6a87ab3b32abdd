package api

import (
	"context"

	"github.com/taskhive/tiercache/types"
)

/*
Cache defines the PUBLIC API of the tiered cache engine.
This is a contract that guarantees certain behaviors, without exposing internals.
All of the details (tier ordering, promotion, eviction, expiry, the codec
pipeline, concurrency) are hidden behind this interface.

Consumers — the API-wrapper layer and the predictive warming layer — call
into this interface only. They must not assume read-your-writes ordering
across tiers: a Set and a promotion triggered by a concurrent Get may
race, with last-write-wins semantics per tier.
*/
type Cache interface {

	/*
		Get retrieves the payload stored under a key.

		BEHAVIOR:
		---------
		1. Tiers are consulted fastest to slowest; the first valid,
		   non-expired entry wins and is promoted into faster tiers.

		2. An expired entry is treated as absent for this lookup.
		   The background sweep removes it physically later.

		3. A corrupt entry is deleted proactively and treated as absent.

		Get never returns an error: any storage failure degrades to a miss.
	*/
	Get(ctx context.Context, key string) ([]byte, bool)

	/*
		Set stores an already-serialized payload.

		BEHAVIOR:
		---------
		- The codec pipeline (compression, encryption) runs best-effort
		- Target tiers are selected by the write's priority
		- Tier writes run concurrently; one tier failing does not block
		  or fail the others

		Set is fire-and-forget: it never reports an error to the caller.
		A cache must never be a source of application-level failures.
	*/
	Set(ctx context.Context, key string, value []byte, opts ...types.WriteOption)

	/*
		Has reports whether a valid, non-expired entry exists in any tier.

		Unlike Get it does not promote, does not update access stats, and
		does not count toward the hit rate.
	*/
	Has(ctx context.Context, key string) bool

	/*
		Delete removes a key from every tier.

		This operation is idempotent:
		- Removing a non-existing key is safe
	*/
	Delete(ctx context.Context, key string)

	/*
		DeleteByTags removes every entry carrying at least one of the
		given tags, across all tiers.

		USE CASES:
		----------
		- "All data for user X" invalidation after a mutation
		- Category-wide refresh

		This scans every entry; it is meant for coarse events, not hot paths.
	*/
	DeleteByTags(ctx context.Context, tags []string)

	// Clear empties every tier and resets the statistics counters.
	Clear(ctx context.Context)

	/*
		GetOrSet is the cache-aside pattern used by all higher-level callers:
		attempt Get; on miss run the factory, cache its result with the
		given options, and return it.

		Concurrent misses on the same key share one factory invocation.
		A factory error is the caller's own failure: it propagates, and
		nothing is cached. This is the ONLY operation allowed to surface
		an error.
	*/
	GetOrSet(ctx context.Context, key string, factory func(context.Context) ([]byte, error), opts ...types.WriteOption) ([]byte, error)

	/*
		Stats returns entry counts, per-tier sizes and the cumulative
		hit/miss/eviction counters.

		WHY THIS IS IMPORTANT:
		----------------------
		A degraded hit rate is the only externally observable symptom of a
		failing storage backend.
	*/
	Stats() types.Statistics

	/*
		Close gracefully shuts down the cache.

		BEHAVIOR:
		---------
		- Stops the background expiry sweep
		- Closes the durable tiers' backends

		WHEN TO CALL:
		-------------
		- Application shutdown
		- Tests cleanup
	*/
	Close() error
}
