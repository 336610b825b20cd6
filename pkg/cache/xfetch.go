// Package cache implements the Cache Layer: probabilistic
// early refresh (XFetch), TTL jitter, and refresh deduplication so a
// thundering herd of callers never recomputes the same expensive value
// concurrently.
package cache

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/voriongit/vorion-sub013/pkg/telemetry"
)

// Beta tunes how aggressively XFetch refreshes ahead of expiry; 1.0
// matches the reference algorithm (Vattani, Chierichetti, Lowenstein).
const Beta = 1.0

// entry is the wire format stored in Redis: value plus the recompute
// cost (delta) and the true expiry, both needed by the XFetch formula.
type entry struct {
	Value     string
	DeltaMs   int64
	ExpiresAt int64 // unix millis
}

func encodeEntry(e entry) string {
	return fmt.Sprintf("%d|%d|%s", e.DeltaMs, e.ExpiresAt, e.Value)
}

func decodeEntry(raw string) (entry, error) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return entry{}, fmt.Errorf("cache: malformed entry")
	}
	delta, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return entry{}, fmt.Errorf("cache: malformed delta: %w", err)
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return entry{}, fmt.Errorf("cache: malformed expiry: %w", err)
	}
	return entry{Value: parts[2], DeltaMs: delta, ExpiresAt: exp}, nil
}

// ComputeFunc produces a fresh value to cache.
type ComputeFunc func(ctx context.Context) (string, error)

// Cache is a Redis-backed cache with XFetch early refresh.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	jitter time.Duration

	group singleflight.Group // coalesces synchronous fetches on a true miss

	mu       sync.Mutex
	inFlight map[string]struct{} // keys with a background refresh already scheduled
}

func NewCache(client *redis.Client, ttl, jitter time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, jitter: jitter, inFlight: make(map[string]struct{})}
}

func (c *Cache) namespacedTTL() time.Duration {
	if c.jitter <= 0 {
		return c.ttl
	}
	return c.ttl + time.Duration(rand.Int63n(int64(c.jitter)))
}

// Get returns the cached value for key. On a true miss it computes and
// stores a fresh value synchronously via compute, deduplicating
// concurrent misses on the same key through singleflight. When an entry
// exists but the XFetch formula
//
//	now - delta*beta*ln(rand()) >= expiresAt
//
// selects it for early refresh, the stale value is returned immediately
// and a single background refresh is scheduled; concurrent callers that
// observe the same due-for-refresh entry do not pile onto the refresh —
// the in-flight map coalesces them to the one already running, and is
// cleared on completion regardless of outcome.
func (c *Cache) Get(ctx context.Context, key string, compute ComputeFunc) (string, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("cache: get %q: %w", key, err)
	}

	if err != redis.Nil {
		e, decodeErr := decodeEntry(raw)
		if decodeErr == nil {
			nowMs := time.Now().UnixMilli()
			xfetch := float64(nowMs) - float64(e.DeltaMs)*Beta*math.Log(randFloat())
			if xfetch < float64(e.ExpiresAt) {
				return e.Value, nil
			}
			c.scheduleRefresh(key, compute)
			return e.Value, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.refresh(context.Background(), key, compute)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// scheduleRefresh launches a background recompute for key unless one is
// already in flight. It runs detached from the triggering request's
// context, since the caller has already received the stale value and
// moved on.
func (c *Cache) scheduleRefresh(key string, compute ComputeFunc) {
	c.mu.Lock()
	if _, busy := c.inFlight[key]; busy {
		c.mu.Unlock()
		return
	}
	c.inFlight[key] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, key)
			c.mu.Unlock()
		}()
		_, _ = c.refresh(context.Background(), key, compute)
	}()
}

// refresh invokes compute, measures its wall-clock cost as the next
// entry's delta, and persists the result under a freshly jittered TTL.
func (c *Cache) refresh(ctx context.Context, key string, compute ComputeFunc) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "cache.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key))

	start := time.Now()
	val, err := compute(ctx)
	if err != nil {
		return "", err
	}
	delta := time.Since(start)

	ttl := c.namespacedTTL()
	e := entry{
		Value:     val,
		DeltaMs:   delta.Milliseconds(),
		ExpiresAt: time.Now().Add(ttl).UnixMilli(),
	}
	if err := c.client.Set(ctx, key, encodeEntry(e), ttl).Err(); err != nil {
		return "", fmt.Errorf("cache: set %q: %w", key, err)
	}
	return val, nil
}

// randFloat returns a value in (0,1], avoiding exactly 0 so log() never
// sees -Inf.
func randFloat() float64 {
	v := rand.Float64()
	if v == 0 {
		return 1e-12
	}
	return v
}

// Invalidate deletes a single key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// InvalidatePrefix deletes every key matching prefix* via SCAN, avoiding
// the cluster-wide pause a KEYS command would cause.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("cache: scan %q: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: del batch: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
