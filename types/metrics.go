package types

// This file defines how the cache reports what it is doing.

/*
Metrics is an interface that defines what the cache wants to measure.
Each method represents an event in the cache lifecycle. The cache will call these methods whenever something happens.
*/
type Metrics interface {

	// Hit is called when a lookup returns a valid, non-expired value.
	Hit()

	// Miss is called when no tier holds a valid value for the requested key.
	Miss()

	// Eviction is called when a tier removes an entry to make room for a new one.
	Eviction()

	// Expire is called when the sweep removes an entry that passed its TTL.
	Expire()

	// Promotion is called when a hit in a slow tier is copied into a faster tier.
	Promotion()
}

/*
NoopMetrics is a "do nothing" implementation of Metrics.

Why do we need this?
--------------------
We don't want to force every user of the cache
to implement metrics.

If someone does not care about metrics,
we still want the cache to work without:
- nil pointer checks everywhere
- if metrics != nil conditions

So we provide a default implementation
that simply ignores all metric events.
*/
type NoopMetrics struct{}

// All methods below intentionally do nothing.
// This satisfies the Metrics interface without side effects.

func (NoopMetrics) Hit()       {}
func (NoopMetrics) Miss()      {}
func (NoopMetrics) Eviction()  {}
func (NoopMetrics) Expire()    {}
func (NoopMetrics) Promotion() {}
