package tiercache_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	tiercache "github.com/taskhive/tiercache"
	"github.com/taskhive/tiercache/codec"
	"github.com/taskhive/tiercache/tier"
	"github.com/taskhive/tiercache/types"
)

//
// ================= FAILING TIER =================
//

// failingTier simulates a durable backend that rejects every operation.
type failingTier struct{}

func (failingTier) Name() string                                               { return "broken" }
func (failingTier) Get(context.Context, string) (*types.CacheEntry, bool)      { return nil, false }
func (failingTier) Peek(context.Context, string) (*types.CacheEntry, bool)     { return nil, false }
func (failingTier) Set(context.Context, string, *types.CacheEntry) error       { return tier.ErrBackendUnavailable }
func (failingTier) Delete(context.Context, string)                             {}
func (failingTier) Clear(context.Context)                                      {}
func (failingTier) Keys(context.Context) []string                              { return nil }
func (failingTier) SizeBytes() int64                                           { return 0 }
func (failingTier) Len() int                                                   { return 0 }
func (failingTier) Evictions() uint64                                          { return 0 }
func (failingTier) Close() error                                               { return nil }

//
// ================= HELPER: CREATE CACHE =================
//

// newTestCache builds a manager over three in-process tiers standing in
// for the memory/bolt/disk hierarchy. The sweep is disabled; tests that
// need it call Sweep directly.
func newTestCache(t *testing.T, opts ...tiercache.Option) (*tiercache.Manager, []tier.Tier) {
	t.Helper()

	tiers := []tier.Tier{
		tier.NewMemory("fast", 1<<20, zerolog.Nop(), nil),
		tier.NewMemory("mid", 4<<20, zerolog.Nop(), nil),
		tier.NewMemory("slow", 16<<20, zerolog.Nop(), nil),
	}

	opts = append([]tiercache.Option{tiercache.WithSweepInterval(0)}, opts...)
	c, err := tiercache.New(tiers, opts...)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c, tiers
}

//
// ================= BASIC OPERATIONS =================
//

func TestSetAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	type task struct {
		ID    string   `json:"id"`
		Title string   `json:"title"`
		Bids  []int    `json:"bids"`
		Meta  []string `json:"meta"`
	}
	want := task{ID: "42", Title: "assemble shelf", Bids: []int{5, 7}, Meta: []string{"x"}}

	tiercache.Set(ctx, c, "task:42", want)

	got, ok := tiercache.Get[task](ctx, c, "task:42")
	if !ok {
		t.Fatal("expected hit")
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestUpdateExistingKey(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	tiercache.Set(ctx, c, "key1", "value1")
	tiercache.Set(ctx, c, "key1", "value2")

	v, _ := tiercache.Get[string](ctx, c, "key1")
	if v != "value2" {
		t.Fatalf("expected value2, got %v", v)
	}
}

func TestDeleteKey(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	tiercache.Set(ctx, c, "key1", "value1", types.WithPriority(types.PriorityHigh))
	c.Delete(ctx, "key1")

	if _, ok := c.Get(ctx, "key1"); ok {
		t.Fatal("expected miss after delete")
	}

	// deleting again is safe
	c.Delete(ctx, "key1")
}

//
// ================= TTL =================
//

func TestTTLExpiration(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	tiercache.Set(ctx, c, "ttlKey", "temp", types.WithTTL(50*time.Millisecond))

	time.Sleep(120 * time.Millisecond)

	if _, ok := c.Get(ctx, "ttlKey"); ok {
		t.Fatal("expected miss after TTL expiration")
	}
}

func TestInfiniteTTL(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, tiercache.WithDefaultTTL(30*time.Millisecond))

	// An explicit zero TTL overrides the short default: never expires.
	tiercache.Set(ctx, c, "pinned", "forever", types.WithTTL(0))
	tiercache.Set(ctx, c, "defaulted", "short")

	time.Sleep(80 * time.Millisecond)
	c.Sweep(ctx)

	if _, ok := tiercache.Get[string](ctx, c, "pinned"); !ok {
		t.Fatal("infinite-TTL entry must survive the sweep")
	}
	if _, ok := tiercache.Get[string](ctx, c, "defaulted"); ok {
		t.Fatal("default-TTL entry should have expired")
	}
}

//
// ================= TAGS =================
//

func TestTagInvalidation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	tiercache.Set(ctx, c, "a1", "x", types.WithTags("users"))
	tiercache.Set(ctx, c, "a2", "y", types.WithTags("users", "profiles"))
	tiercache.Set(ctx, c, "b1", "z", types.WithTags("tasks"))

	c.DeleteByTags(ctx, []string{"users"})

	if _, ok := c.Get(ctx, "a1"); ok {
		t.Fatal("a1 should be invalidated")
	}
	if _, ok := c.Get(ctx, "a2"); ok {
		t.Fatal("a2 should be invalidated")
	}
	v, ok := tiercache.Get[string](ctx, c, "b1")
	if !ok || v != "z" {
		t.Fatalf("b1 must survive, got %q ok=%v", v, ok)
	}
}

//
// ================= PROMOTION & PRIORITY =================
//

func TestPromotionOnHit(t *testing.T) {
	ctx := context.Background()
	c, tiers := newTestCache(t)

	tiercache.Set(ctx, c, "hot", "payload", types.WithPriority(types.PriorityHigh))

	// Simulate eviction from the faster tiers.
	tiers[0].Delete(ctx, "hot")
	tiers[1].Delete(ctx, "hot")

	v, ok := tiercache.Get[string](ctx, c, "hot")
	if !ok || v != "payload" {
		t.Fatalf("expected hit from slow tier, got %q ok=%v", v, ok)
	}

	// The hit must have been copied back into every faster tier.
	if _, ok := tiers[0].Peek(ctx, "hot"); !ok {
		t.Fatal("entry not promoted into fastest tier")
	}
	if _, ok := tiers[1].Peek(ctx, "hot"); !ok {
		t.Fatal("entry not promoted into middle tier")
	}
}

func TestPrioritySelectsTiers(t *testing.T) {
	ctx := context.Background()
	c, tiers := newTestCache(t)

	tiercache.Set(ctx, c, "low", "v", types.WithPriority(types.PriorityLow))
	tiercache.Set(ctx, c, "normal", "v")
	tiercache.Set(ctx, c, "high", "v", types.WithPriority(types.PriorityHigh))

	present := func(i int, key string) bool {
		_, ok := tiers[i].Peek(ctx, key)
		return ok
	}

	if !present(0, "low") || present(1, "low") || present(2, "low") {
		t.Fatal("low priority must land in the fastest tier only")
	}
	if !present(0, "normal") || !present(1, "normal") || present(2, "normal") {
		t.Fatal("normal priority must land in the fastest two tiers")
	}
	if !present(0, "high") || !present(1, "high") || !present(2, "high") {
		t.Fatal("high priority must land in every tier")
	}
}

//
// ================= STATISTICS =================
//

func TestHitRate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	tiercache.Set(ctx, c, "key", "value")

	c.Get(ctx, "key")
	c.Get(ctx, "key")
	c.Get(ctx, "absent")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("expected 2 hits / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.HitRate < 66.0 || stats.HitRate > 67.0 {
		t.Fatalf("expected hit rate ~66.7, got %.2f", stats.HitRate)
	}
}

func TestHitRateZeroRequests(t *testing.T) {
	c, _ := newTestCache(t)

	if rate := c.Stats().HitRate; rate != 0 {
		t.Fatalf("expected 0 hit rate with no requests, got %.2f", rate)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	tiercache.Set(ctx, c, "k1", "v1", types.WithPriority(types.PriorityHigh))
	tiercache.Set(ctx, c, "k2", "v2")
	c.Get(ctx, "k1")

	c.Clear(ctx)

	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatal("k1 should be gone after clear")
	}

	stats := c.Stats()
	if stats.TotalEntries != 0 {
		t.Fatalf("expected 0 entries after clear, got %d", stats.TotalEntries)
	}

	c.Clear(ctx)
}

func TestClearResetsEvictionCounters(t *testing.T) {
	ctx := context.Background()

	// Room for two 10-byte payloads; the third write forces an eviction.
	tiers := []tier.Tier{
		tier.NewMemory("fast", 25, zerolog.Nop(), nil),
	}
	c, err := tiercache.New(tiers, tiercache.WithSweepInterval(0))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	c.Set(ctx, "a", []byte("0123456789"))
	c.Set(ctx, "b", []byte("0123456789"))
	c.Set(ctx, "c", []byte("0123456789"))

	if evictions := c.Stats().Evictions; evictions == 0 {
		t.Fatal("expected at least one capacity eviction before clear")
	}

	c.Clear(ctx)

	if evictions := c.Stats().Evictions; evictions != 0 {
		t.Fatalf("clear must reset eviction counters, got %d", evictions)
	}
}

//
// ================= HAS =================
//

func TestHas(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	tiercache.Set(ctx, c, "present", "v")
	tiercache.Set(ctx, c, "stale", "v", types.WithTTL(30*time.Millisecond))

	if !c.Has(ctx, "present") {
		t.Fatal("expected Has=true for valid entry")
	}
	if c.Has(ctx, "absent") {
		t.Fatal("expected Has=false for absent key")
	}

	time.Sleep(60 * time.Millisecond)
	if c.Has(ctx, "stale") {
		t.Fatal("expected Has=false for expired entry")
	}

	// Has must not count toward the hit rate.
	if stats := c.Stats(); stats.Hits != 0 || stats.Misses != 0 {
		t.Fatalf("Has must not touch counters, got %d/%d", stats.Hits, stats.Misses)
	}
}

//
// ================= SWEEP =================
//

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	c, tiers := newTestCache(t)

	tiercache.Set(ctx, c, "gone", "v", types.WithTTL(20*time.Millisecond), types.WithPriority(types.PriorityHigh))
	tiercache.Set(ctx, c, "kept", "v", types.WithPriority(types.PriorityHigh))

	time.Sleep(50 * time.Millisecond)

	removed := c.Sweep(ctx)
	if removed != 3 { // one expired entry in each of three tiers
		t.Fatalf("expected 3 removals, got %d", removed)
	}

	for i, tr := range tiers {
		if _, ok := tr.Peek(ctx, "gone"); ok {
			t.Fatalf("tier %d still holds the expired entry", i)
		}
		if _, ok := tr.Peek(ctx, "kept"); !ok {
			t.Fatalf("tier %d lost the valid entry", i)
		}
	}

	if evictions := c.Stats().Evictions; evictions != 3 {
		t.Fatalf("sweep removals must count as evictions, got %d", evictions)
	}
}

//
// ================= DEGRADED BACKEND =================
//

func TestDegradedBackend(t *testing.T) {
	ctx := context.Background()

	tiers := []tier.Tier{
		tier.NewMemory("fast", 1<<20, zerolog.Nop(), nil),
		failingTier{},
	}
	c, err := tiercache.New(tiers, tiercache.WithSweepInterval(0))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	// Neither call may surface an error or panic.
	tiercache.Set(ctx, c, "key", "value")

	v, ok := tiercache.Get[string](ctx, c, "key")
	if !ok || v != "value" {
		t.Fatalf("expected hit via healthy tier, got %q ok=%v", v, ok)
	}
}

//
// ================= CORRUPT ENTRIES =================
//

func TestCorruptEntryDeletedOnRead(t *testing.T) {
	ctx := context.Background()

	chain := codec.NewChain(zerolog.Nop(), codec.Gzip{})
	c, tiers := newTestCache(t, tiercache.WithCodec(chain))

	// Plant an entry claiming to be gzipped whose payload is garbage.
	now := time.Now()
	bad := &types.CacheEntry{
		Key:            "corrupt",
		Payload:        []byte("not gzip data"),
		CreatedAt:      now,
		SizeBytes:      13,
		AccessCount:    1,
		LastAccessedAt: now,
		Codecs:         []string{"gzip"},
		SchemaVersion:  types.SchemaVersion,
	}
	if err := tiers[0].Set(ctx, "corrupt", bad); err != nil {
		t.Fatalf("plant: %v", err)
	}

	if _, ok := c.Get(ctx, "corrupt"); ok {
		t.Fatal("corrupt entry must read as a miss")
	}
	if _, ok := tiers[0].Peek(ctx, "corrupt"); ok {
		t.Fatal("corrupt entry must be deleted proactively")
	}
}

func TestCorruptCopyFallsThroughToSlowerTier(t *testing.T) {
	ctx := context.Background()

	chain := codec.NewChain(zerolog.Nop(), codec.Gzip{})
	c, tiers := newTestCache(t, tiercache.WithCodec(chain))

	now := time.Now()

	// The fast tier holds an undecodable copy...
	bad := &types.CacheEntry{
		Key:            "dual",
		Payload:        []byte("not gzip data"),
		CreatedAt:      now,
		SizeBytes:      13,
		AccessCount:    1,
		LastAccessedAt: now,
		Codecs:         []string{"gzip"},
		SchemaVersion:  types.SchemaVersion,
	}
	if err := tiers[0].Set(ctx, "dual", bad); err != nil {
		t.Fatalf("plant bad: %v", err)
	}

	// ...while the slow tier still has a valid one.
	payload, err := codec.Gzip{}.Encode([]byte("fresh"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	good := &types.CacheEntry{
		Key:            "dual",
		Payload:        payload,
		CreatedAt:      now,
		SizeBytes:      int64(len(payload)),
		AccessCount:    1,
		LastAccessedAt: now,
		Codecs:         []string{"gzip"},
		SchemaVersion:  types.SchemaVersion,
	}
	if err := tiers[2].Set(ctx, "dual", good); err != nil {
		t.Fatalf("plant good: %v", err)
	}

	// The lookup must skip past the corrupt copy, not destroy the valid one.
	v, ok := c.Get(ctx, "dual")
	if !ok || string(v) != "fresh" {
		t.Fatalf("expected hit from the slower tier, got %q ok=%v", v, ok)
	}
	if _, ok := tiers[2].Peek(ctx, "dual"); !ok {
		t.Fatal("valid copy in the slower tier must survive")
	}
}

//
// ================= GET-OR-SET =================
//

func TestGetOrSetCachesResult(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	calls := 0
	factory := func(context.Context) (string, error) {
		calls++
		return "produced", nil
	}

	v, err := tiercache.GetOrSet(ctx, c, "key", factory)
	if err != nil || v != "produced" {
		t.Fatalf("first call: v=%q err=%v", v, err)
	}

	v, err = tiercache.GetOrSet(ctx, c, "key", factory)
	if err != nil || v != "produced" {
		t.Fatalf("second call: v=%q err=%v", v, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 factory call, got %d", calls)
	}
}

func TestGetOrSetSingleflight(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	var calls atomic.Int64
	factory := func(context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond) // hold the flight open
		return "shared", nil
	}

	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := tiercache.GetOrSet(ctx, c, "dedup", factory)
			if err != nil || v != "shared" {
				t.Errorf("got %q err=%v", v, err)
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected 1 factory call across concurrent misses, got %d", n)
	}
}

func TestGetOrSetFactoryError(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	wantErr := errors.New("backend down")
	_, err := tiercache.GetOrSet(ctx, c, "key", func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected factory error to propagate, got %v", err)
	}

	if _, ok := c.Get(ctx, "key"); ok {
		t.Fatal("nothing may be cached on factory error")
	}
}

//
// ================= CONCURRENCY =================
//

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	tiercache.Set(ctx, c, "key", "value")

	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok := tiercache.Get[string](ctx, c, "key")
			if !ok || v != "value" {
				t.Errorf("expected value, got %q ok=%v", v, ok)
			}
			tiercache.Set(ctx, c, "key", "value")
		}()
	}
	wg.Wait()
}
