package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes a lock key only if the caller's fence token still
// owns it, preventing a slow holder from deleting a lock another process
// has since acquired after expiry.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Lock is a distributed mutual-exclusion lock over Redis SET NX EX.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewLock builds a lock handle for the given resource name. The lock is
// not held until Acquire succeeds.
func NewLock(client *redis.Client, resource string, ttl time.Duration) *Lock {
	return &Lock{client: client, key: fmt.Sprintf("vorion:lock:%s", resource), ttl: ttl, token: uuid.NewString()}
}

// backoffDelay computes deterministic jitter for retry scheduling: the
// jitter is derived from a hash of the attempt context rather than
// math/rand, so retries from racing processes naturally desynchronize
// without needing a shared PRNG.
func backoffDelay(resource string, attempt int) time.Duration {
	base := int64(20) // ms
	max := int64(1000)
	factor := int64(1)
	if attempt > 0 {
		if attempt > 20 {
			attempt = 20
		}
		factor = 1 << attempt
	}
	delay := base * factor
	if delay > max {
		delay = max
	}

	seed := fmt.Sprintf("%s:%d", resource, attempt)
	hash := sha256.Sum256([]byte(seed))
	jitter := int64(binary.BigEndian.Uint64(hash[:8]) % uint64(max))

	return time.Duration(delay+jitter) * time.Millisecond
}

// Acquire blocks (subject to ctx) retrying with exponential backoff and
// hash-derived jitter until the lock is obtained or maxAttempts is
// exhausted.
func (l *Lock) Acquire(ctx context.Context, maxAttempts int) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("resilience: lock acquire: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(l.key, attempt)):
		}
	}
	return fmt.Errorf("resilience: could not acquire lock %q after %d attempts", l.key, maxAttempts)
}

// Release frees the lock only if this handle's token still owns it.
func (l *Lock) Release(ctx context.Context) error {
	res, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("resilience: lock release: %w", err)
	}
	if n, _ := res.(int64); n == 0 {
		return fmt.Errorf("resilience: lock %q was not held by this token (expired or stolen)", l.key)
	}
	return nil
}

// Extend refreshes the lock's TTL, for long-held locks whose holder is
// still alive and doing work. Like Release, it only touches the key while
// this handle's token still owns it, and fails otherwise.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	script := redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)
	res, err := script.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("resilience: lock extend: %w", err)
	}
	if n, _ := res.(int64); n == 0 {
		return fmt.Errorf("resilience: lock %q is no longer held by this token", l.key)
	}
	return nil
}
