package types

// Statistics is an aggregate snapshot across all tiers.
// It is the only window callers get into degraded storage backends:
// a failing tier shows up as a lower hit rate, never as an error.
type Statistics struct {
	TotalEntries   int
	TotalSizeBytes int64
	Hits           uint64
	Misses         uint64
	Evictions      uint64 // capacity evictions plus sweep removals
	HitRate        float64
	TierSizes      map[string]int64 // bytes per tier, keyed by tier name
}
