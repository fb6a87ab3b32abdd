package tiercache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	tiercache "github.com/taskhive/tiercache"
	"github.com/taskhive/tiercache/tier"
)

func newBenchmarkCache(b *testing.B) *tiercache.Manager {
	b.Helper()

	tiers := []tier.Tier{
		tier.NewMemory("fast", 64<<20, zerolog.Nop(), nil),
		tier.NewMemory("slow", 256<<20, zerolog.Nop(), nil),
	}

	c, err := tiercache.New(tiers, tiercache.WithSweepInterval(0))
	if err != nil {
		b.Fatalf("new cache: %v", err)
	}
	b.Cleanup(func() { c.Close() })
	return c
}

//
// ================= SINGLE THREAD BENCH =================
//

func BenchmarkCacheGetHit(b *testing.B) {
	ctx := context.Background()
	c := newBenchmarkCache(b)

	c.Set(ctx, "key", []byte("value"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(ctx, "key")
	}
}

func BenchmarkCacheGetMiss(b *testing.B) {
	ctx := context.Background()
	c := newBenchmarkCache(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("miss-%d", i)
		c.Get(ctx, key)
	}
}

//
// ================= PARALLEL BENCH =================
//

func BenchmarkCacheParallelGet(b *testing.B) {
	ctx := context.Background()
	c := newBenchmarkCache(b)

	for i := 0; i < 1000; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i), []byte("value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.Get(ctx, "key-42")
		}
	})
}

//
// ================= WRITE BENCH =================
//

func BenchmarkCacheSet(b *testing.B) {
	ctx := context.Background()
	c := newBenchmarkCache(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i), []byte("value"))
	}
}

//
// ================= HIGH CONCURRENCY TEST =================
//

func BenchmarkCacheHighConcurrency(b *testing.B) {
	ctx := context.Background()
	c := newBenchmarkCache(b)

	keys := make([]string, 10000)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		c.Set(ctx, keys[i], []byte("value"))
	}

	b.ResetTimer()

	wg := sync.WaitGroup{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < b.N/100; j++ {
				c.Get(ctx, keys[j%len(keys)])
			}
		}(i)
	}
	wg.Wait()
}
