package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	tiercache "github.com/taskhive/tiercache"
	"github.com/taskhive/tiercache/codec"
	"github.com/taskhive/tiercache/config"
	"github.com/taskhive/tiercache/promstats"
	"github.com/taskhive/tiercache/tier"
	"github.com/taskhive/tiercache/types"
)

// ================= LOGGER =================

func newLogger(cfg config.Logging) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// ================= WIRING =================

// buildTiers assembles the hierarchy fastest to slowest. A durable tier
// that fails to open is dropped with a warning: the cache degrades to
// fewer tiers rather than failing startup.
func buildTiers(cfg *config.Config, log zerolog.Logger, metrics types.Metrics) []tier.Tier {
	tiers := []tier.Tier{
		tier.NewMemory("memory", cfg.Memory.CapacityBytes, log, metrics),
	}

	if cfg.Bolt.Enabled {
		b, err := tier.NewBolt("bolt", cfg.Bolt.Path, cfg.Bolt.CapacityBytes, log, metrics)
		if err != nil {
			log.Warn().Err(err).Msg("bolt tier unavailable, continuing without it")
		} else {
			tiers = append(tiers, b)
		}
	}

	if cfg.Disk.Enabled {
		d, err := tier.NewDisk("disk", cfg.Disk.Dir, cfg.Disk.CapacityBytes, log, metrics)
		if err != nil {
			log.Warn().Err(err).Msg("disk tier unavailable, continuing without it")
		} else {
			tiers = append(tiers, d)
		}
	}

	return tiers
}

func buildCodec(cfg *config.Config, log zerolog.Logger) (*codec.Chain, error) {
	var transforms []codec.Transform
	if cfg.Codec.Compression {
		transforms = append(transforms, codec.Gzip{})
	}
	if key := cfg.EncryptionKeyBytes(); key != nil {
		aead, err := codec.NewAEAD(key)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, aead)
	}
	return codec.NewChain(log, transforms...), nil
}

// ================= MAIN =================

func main() {
	ctx := context.Background()

	fmt.Println("\n==================== SYSTEM BOOT ====================")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)
	metrics := promstats.New(prometheus.NewRegistry())

	fmt.Println("DEFAULT TTL     :", cfg.DefaultTTL)
	fmt.Println("SWEEP INTERVAL  :", cfg.SweepInterval)
	fmt.Println("MEMORY CAPACITY :", cfg.Memory.CapacityBytes, "bytes")
	fmt.Println("BOLT TIER       :", cfg.Bolt.Enabled)
	fmt.Println("DISK TIER       :", cfg.Disk.Enabled)
	fmt.Println("COMPRESSION     :", cfg.Codec.Compression)

	chain, err := buildCodec(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "codec:", err)
		os.Exit(1)
	}

	tiers := buildTiers(cfg, log, metrics)
	fmt.Println("TIERS           :", len(tiers))

	cache, err := tiercache.New(tiers,
		tiercache.WithLogger(log),
		tiercache.WithMetrics(metrics),
		tiercache.WithCodec(chain),
		tiercache.WithDefaultTTL(cfg.DefaultTTL),
		tiercache.WithSweepInterval(cfg.SweepInterval),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cache:", err)
		os.Exit(1)
	}

	type task struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}

	// ====================================================
	fmt.Println("\n==================== 1) SET + GET ====================")
	tiercache.Set(ctx, cache, "task:1", task{ID: "1", Title: "fix sink"},
		types.WithTags("tasks"))

	v, ok := tiercache.Get[task](ctx, cache, "task:1")
	fmt.Println("CACHE  → GET task:1 =", v, "ok =", ok)

	// ====================================================
	fmt.Println("\n==================== 2) TTL EXPIRY ====================")
	tiercache.Set(ctx, cache, "flash", "short-lived", types.WithTTL(500*time.Millisecond))
	fmt.Println("CACHE  → PUT flash (TTL = 500ms)")

	time.Sleep(time.Second)

	_, ok = tiercache.Get[string](ctx, cache, "flash")
	fmt.Println("CACHE  → GET flash after TTL, ok =", ok)

	// ====================================================
	fmt.Println("\n==================== 3) TAG INVALIDATION ====================")
	tiercache.Set(ctx, cache, "task:2", task{ID: "2", Title: "mow lawn"},
		types.WithTags("tasks"))
	tiercache.Set(ctx, cache, "user:9", "alice", types.WithTags("users"))

	cache.DeleteByTags(ctx, []string{"tasks"})

	_, ok = tiercache.Get[task](ctx, cache, "task:1")
	fmt.Println("CACHE  → GET task:1 after invalidation, ok =", ok)
	v2, ok := tiercache.Get[string](ctx, cache, "user:9")
	fmt.Println("CACHE  → GET user:9 =", v2, "ok =", ok)

	// ====================================================
	fmt.Println("\n==================== 4) SINGLEFLIGHT ====================")

	var calls int
	var mu sync.Mutex

	wg := sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			val, _ := tiercache.GetOrSet(ctx, cache, "bids:open", func(context.Context) ([]int, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				time.Sleep(50 * time.Millisecond) // simulated backend fetch
				return []int{101, 102}, nil
			})
			fmt.Printf("GOROUTINE-%d → GET bids:open = %v\n", id, val)
		}(i)
	}
	wg.Wait()
	fmt.Println("FACTORY CALLS   :", calls)

	// ====================================================
	fmt.Println("\n==================== 5) PRIORITY ====================")
	tiercache.Set(ctx, cache, "session:token", "eyJ...", types.WithPriority(types.PriorityHigh))
	tiercache.Set(ctx, cache, "prefetch:page2", "speculative", types.WithPriority(types.PriorityLow))
	fmt.Println("CACHE  → session written to all tiers, prefetch to memory only")

	// ====================================================
	fmt.Println("\n==================== STATISTICS ====================")
	stats := cache.Stats()
	metrics.Observe(stats)
	fmt.Printf("ENTRIES   : %d\n", stats.TotalEntries)
	fmt.Printf("SIZE      : %d bytes\n", stats.TotalSizeBytes)
	fmt.Printf("HITS      : %d\n", stats.Hits)
	fmt.Printf("MISSES    : %d\n", stats.Misses)
	fmt.Printf("EVICTIONS : %d\n", stats.Evictions)
	fmt.Printf("HIT RATE  : %.1f%%\n", stats.HitRate)
	for name, size := range stats.TierSizes {
		fmt.Printf("TIER %-8s: %d bytes\n", name, size)
	}

	// ====================================================
	fmt.Println("\n==================== SHUTDOWN ====================")
	if err := cache.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close:", err)
	}
	fmt.Println("SYSTEM → cache closed cleanly")
}
