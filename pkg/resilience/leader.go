package resilience

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// instanceIdentity builds the hostname-pid-random8 identity a campaigning
// process stakes its leadership bid on, so a lease value in Redis can be
// traced back to the instance that holds it.
func instanceIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), hex.EncodeToString(buf[:]))
}

// Leader campaigns for and holds a leadership lease over a named role,
// renewing it on a heartbeat until the context is canceled or renewal
// fails (e.g. the process stalled past the lease TTL and another
// candidate took over).
type Leader struct {
	client    *redis.Client
	role      string
	lease     time.Duration
	heartbeat time.Duration
	lock      *Lock
}

func NewLeader(client *redis.Client, role string, lease, heartbeat time.Duration) *Leader {
	lock := NewLock(client, fmt.Sprintf("leader:%s", role), lease)
	lock.token = instanceIdentity()
	return &Leader{
		client:    client,
		role:      role,
		lease:     lease,
		heartbeat: heartbeat,
		lock:      lock,
	}
}

// Identity returns this instance's campaign identity
// (hostname-pid-random8), the value staked in Redis when it holds the
// lease.
func (l *Leader) Identity() string { return l.lock.token }

// Campaign attempts a single non-blocking bid for leadership, returning
// true if this process became leader.
func (l *Leader) Campaign(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.lock.key, l.lock.token, l.lease).Result()
	if err != nil {
		return false, fmt.Errorf("resilience: leader campaign: %w", err)
	}
	return ok, nil
}

// Run campaigns repeatedly and, once leader, renews the lease on every
// heartbeat tick; onElected is invoked once per successful campaign and
// onDemoted when a heartbeat fails to renew (lease lost). Run blocks
// until ctx is canceled.
func (l *Leader) Run(ctx context.Context, onElected func(context.Context), onDemoted func()) error {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()

	isLeader := false
	for {
		select {
		case <-ctx.Done():
			if isLeader {
				_ = l.lock.Release(context.Background())
			}
			return ctx.Err()
		case <-ticker.C:
			if !isLeader {
				won, err := l.Campaign(ctx)
				if err != nil {
					return err
				}
				if won {
					isLeader = true
					if onElected != nil {
						onElected(ctx)
					}
				}
				continue
			}

			if err := l.lock.Extend(ctx, l.lease); err != nil {
				isLeader = false
				if onDemoted != nil {
					onDemoted()
				}
			}
		}
	}
}

// IsLeader reports whether this process currently holds the lease,
// without attempting to campaign or renew.
func (l *Leader) IsLeader(ctx context.Context) (bool, error) {
	v, err := l.client.Get(ctx, l.lock.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resilience: leader check: %w", err)
	}
	return v == l.lock.token, nil
}
