// Package resilience implements the Resilience Fabric:
// a Redis-backed circuit breaker state machine, a distributed lock with
// fenced tokens, and lease-based leader election. State lives in Redis
// rather than in-process so every instance fronting the same downstream
// service observes the same trip.
package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
	"github.com/voriongit/vorion-sub013/pkg/telemetry"
)

// transitionCounter tallies every breaker state observed after a
// transition call, labeled by service and resulting state, so an
// operator can see trips and recoveries without the breaker itself
// needing to care who's watching.
var transitionCounter = func() metric.Int64Counter {
	c, _ := telemetry.Meter().Int64Counter("vorion.breaker.transitions",
		metric.WithDescription("circuit breaker state observations by service and resulting state"))
	return c
}()

// breakerScript atomically reads, transitions, and writes circuit breaker
// state, mirroring the token-bucket Lua script pattern: all read-modify-write
// logic happens inside Redis so concurrent callers across processes never
// race on the transition.
//
// KEYS[1] = breaker state key
// ARGV[1] = outcome: "success" | "failure"
// ARGV[2] = now (unix seconds, float)
// ARGV[3] = failure threshold
// ARGV[4] = open duration seconds
// ARGV[5] = half-open probe limit
var breakerScript = redis.NewScript(`
local key = KEYS[1]
local outcome = ARGV[1]
local now = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local open_secs = tonumber(ARGV[4])
local half_open_limit = tonumber(ARGV[5])

local raw = redis.call("GET", key)
local state, failures, opened_at, half_open_attempts
if raw then
    local decoded = cjson.decode(raw)
    state = decoded.state
    failures = decoded.failures
    opened_at = decoded.opened_at
    half_open_attempts = decoded.half_open_attempts
else
    state = "CLOSED"
    failures = 0
    opened_at = 0
    half_open_attempts = 0
end

if state == "OPEN" and (now - opened_at) >= open_secs then
    state = "HALF_OPEN"
    half_open_attempts = 0
end

if outcome == "success" then
    if state == "HALF_OPEN" then
        state = "CLOSED"
    end
    failures = 0
    half_open_attempts = 0
elseif outcome == "failure" then
    if state == "HALF_OPEN" then
        half_open_attempts = half_open_attempts + 1
        state = "OPEN"
        opened_at = now
    else
        failures = failures + 1
        if failures >= threshold then
            state = "OPEN"
            opened_at = now
        end
    end
end

local result = {state = state, failures = failures, opened_at = opened_at, half_open_attempts = half_open_attempts}
redis.call("SET", key, cjson.encode(result), "EX", 86400)
return cjson.encode(result)
`)

type breakerState struct {
	State            string  `json:"state"`
	Failures         int     `json:"failures"`
	OpenedAt         float64 `json:"opened_at"`
	HalfOpenAttempts int     `json:"half_open_attempts"`
}

// BreakerConfig tunes a single service's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
	HalfOpenLimit    int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenLimit: 1}
}

// WellKnownBreakerConfigs ships default tunables for the services every
// Vorion deployment talks to, fully override-able at startup by replacing
// entries before constructing a Breaker.
func WellKnownBreakerConfigs() map[string]BreakerConfig {
	return map[string]BreakerConfig{
		"database":     {FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenLimit: 1},
		"redis":        {FailureThreshold: 5, OpenDuration: 15 * time.Second, HalfOpenLimit: 1},
		"webhook":      {FailureThreshold: 3, OpenDuration: 60 * time.Second, HalfOpenLimit: 1},
		"policyEngine": {FailureThreshold: 3, OpenDuration: 20 * time.Second, HalfOpenLimit: 2},
		"trustEngine":  {FailureThreshold: 5, OpenDuration: 20 * time.Second, HalfOpenLimit: 2},
		"auditService": {FailureThreshold: 3, OpenDuration: 30 * time.Second, HalfOpenLimit: 1},
	}
}

// Breaker is a per-service circuit breaker whose state lives in Redis so
// every process fronting the same downstream service observes the same
// trip. A short-lived in-process read cache absorbs hot-path Allow calls;
// writes (RecordSuccess/RecordFailure) always go through to Redis.
type Breaker struct {
	kv          *redis.Client
	serviceName string
	cfg         BreakerConfig

	// OnStateChange, if set, fires exactly once per observed transition
	// with the prior and new state. It is invoked synchronously from
	// whichever goroutine observed the change; callers needing
	// async delivery should make it non-blocking themselves.
	OnStateChange func(service string, from, to contracts.CircuitState)

	mu           sync.Mutex
	cached       *breakerState
	cachedAt     time.Time
	observed     bool
	lastNotified contracts.CircuitState
}

const breakerReadCacheTTL = time.Second

func NewBreaker(client *redis.Client, serviceName string, cfg BreakerConfig) *Breaker {
	return &Breaker{kv: client, serviceName: serviceName, cfg: cfg}
}

func (b *Breaker) key() string { return fmt.Sprintf("vorion:circuit-breaker:%s", b.serviceName) }

// Allow reports whether a call may proceed, and updates state to
// HALF_OPEN if the open window has elapsed. A Redis read failure fails
// open (assumes CLOSED) to avoid a Redis outage cascading into every
// downstream call being short-circuited.
func (b *Breaker) Allow(ctx context.Context) (bool, error) {
	st, err := b.transitionCached(ctx, "")
	if err != nil {
		return true, nil
	}
	if st.State == "OPEN" {
		return false, nil
	}
	if st.State == "HALF_OPEN" {
		return st.HalfOpenAttempts < b.cfg.HalfOpenLimit, nil
	}
	return true, nil
}

func (b *Breaker) RecordSuccess(ctx context.Context) error {
	_, err := b.transition(ctx, "success")
	return err
}

func (b *Breaker) RecordFailure(ctx context.Context) error {
	_, err := b.transition(ctx, "failure")
	return err
}

// transitionCached serves probe reads from the 1-second local cache when
// fresh, falling back to Redis on a cache miss or expiry. It is advisory
// only: anything that needs an authoritative answer (State, writes) goes
// through transition directly.
func (b *Breaker) transitionCached(ctx context.Context, outcome string) (*breakerState, error) {
	if outcome == "" {
		b.mu.Lock()
		cached := b.cached
		fresh := cached != nil && time.Since(b.cachedAt) < breakerReadCacheTTL
		b.mu.Unlock()
		if fresh {
			// A cached OPEN state still needs the OPEN->HALF_OPEN
			// promotion check against wall-clock time: never let the
			// advisory cache paper over a reset window that has
			// already elapsed.
			elapsed := time.Since(time.Unix(0, int64(cached.OpenedAt*float64(time.Second))))
			if cached.State != "OPEN" || elapsed < b.cfg.OpenDuration {
				st := *cached
				return &st, nil
			}
		}
	}
	return b.transition(ctx, outcome)
}

func (b *Breaker) transition(ctx context.Context, outcome string) (*breakerState, error) {
	if outcome == "" {
		// Read-only probe: run the script with a neutral outcome so it
		// still performs OPEN -> HALF_OPEN promotion on a stale entry.
		outcome = "probe"
	}
	raw, err := breakerScript.Run(ctx, b.kv, []string{b.key()},
		outcome, float64(time.Now().UnixMicro())/1e6,
		b.cfg.FailureThreshold, b.cfg.OpenDuration.Seconds(), b.cfg.HalfOpenLimit,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("resilience: breaker script: %w", err)
	}
	var st breakerState
	if err := json.Unmarshal([]byte(raw.(string)), &st); err != nil {
		return nil, fmt.Errorf("resilience: decode breaker state: %w", err)
	}
	transitionCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("service", b.serviceName), attribute.String("state", st.State)))

	b.mu.Lock()
	b.cached = &st
	b.cachedAt = time.Now()
	prev := b.lastNotified
	hadPrior := b.observed
	b.observed = true
	b.lastNotified = contracts.CircuitState(st.State)
	b.mu.Unlock()

	if b.OnStateChange != nil && hadPrior && prev != contracts.CircuitState(st.State) {
		b.OnStateChange(b.serviceName, prev, contracts.CircuitState(st.State))
	}
	return &st, nil
}

// State returns the breaker's current CircuitBreakerState snapshot.
func (b *Breaker) State(ctx context.Context) (*contracts.CircuitBreakerState, error) {
	st, err := b.transition(ctx, "probe")
	if err != nil {
		return nil, err
	}
	return &contracts.CircuitBreakerState{
		ServiceName:      b.serviceName,
		State:            contracts.CircuitState(st.State),
		FailureCount:     st.Failures,
		HalfOpenAttempts: st.HalfOpenAttempts,
	}, nil
}
