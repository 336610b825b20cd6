package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCache_MissComputesAndStores(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewCache(client, time.Minute, 0)
	ctx := context.Background()

	var calls int32
	v, err := c.Get(ctx, "k1", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh-value", nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "fresh-value" {
		t.Fatalf("expected fresh-value, got %q", v)
	}
	if calls != 1 {
		t.Fatalf("expected compute called once, got %d", calls)
	}
}

func TestCache_HitAvoidsRecompute(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewCache(client, time.Minute, 0)
	ctx := context.Background()

	var calls int32
	compute := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}

	if _, err := c.Get(ctx, "k2", compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(ctx, "k2", compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a warm hit to skip recompute, compute called %d times", calls)
	}
}

func TestCache_ExpiredEntryRecomputes(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewCache(client, 50*time.Millisecond, 0)
	ctx := context.Background()

	var calls int32
	compute := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}

	if _, err := c.Get(ctx, "k3", compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	mr.FastForward(200 * time.Millisecond)

	if _, err := c.Get(ctx, "k3", compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected recompute after TTL expiry, compute called %d times", calls)
	}
}

func TestCache_DueForRefreshReturnsStaleAndDedups(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewCache(client, 10*time.Millisecond, 0)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return "v1", nil
		}
		<-release
		return "v2", nil
	}

	if v, err := c.Get(ctx, "k4", compute); err != nil || v != "v1" {
		t.Fatalf("initial Get: v=%q err=%v", v, err)
	}

	// Rewrite the stored entry with a recompute cost far larger than its
	// remaining life, so the XFetch check selects it for early refresh
	// on (almost) every read without expiring the underlying Redis key.
	due := entry{Value: "v1", DeltaMs: int64(24 * time.Hour / time.Millisecond), ExpiresAt: time.Now().Add(time.Minute).UnixMilli()}
	if err := client.Set(ctx, "k4", encodeEntry(due), time.Minute).Err(); err != nil {
		t.Fatalf("seed due entry: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]string, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(ctx, "k4", compute)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()
	close(release)

	for _, v := range results {
		if v != "" && v != "v1" {
			t.Errorf("expected concurrent due-for-refresh callers to see the stale value, got %q", v)
		}
	}

	deadline := time.After(time.Second)
	for {
		c.mu.Lock()
		_, busy := c.inFlight["k4"]
		c.mu.Unlock()
		if !busy {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background refresh never completed")
		case <-time.After(time.Millisecond):
		}
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected exactly one background refresh beyond the initial fetch, compute called %d times", got)
	}
}

func TestCache_InvalidatePrefix(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewCache(client, time.Minute, 0)
	ctx := context.Background()

	compute := func(ctx context.Context) (string, error) { return "v", nil }
	if _, err := c.Get(ctx, "tenant-a:trust:agent-1", compute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(ctx, "tenant-a:trust:agent-2", compute); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := c.InvalidatePrefix(ctx, "tenant-a:trust:"); err != nil {
		t.Fatalf("InvalidatePrefix: %v", err)
	}

	var calls int32
	countingCompute := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v2", nil
	}
	if _, err := c.Get(ctx, "tenant-a:trust:agent-1", countingCompute); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls != 1 {
		t.Fatal("expected invalidated key to force a recompute")
	}
}
