package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotLeader = errors.New("reminder leadership held by another instance")

// LeaderLease enforces the single-active-scheduler assumption across
// replicas: only the instance holding the lease processes reminder
// ticks. The lease is a Redis key holding a per-process token with a
// TTL, renewed on every tick, so leadership moves over when the holder
// dies without releasing.
type LeaderLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func NewLeaderLease(client *redis.Client, key string, ttl time.Duration) *LeaderLease {
	return &LeaderLease{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire takes or renews the lease. Returns ErrNotLeader when another
// instance holds it.
func (l *LeaderLease) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire leader lease: %w", err)
	}
	if ok {
		return nil
	}

	val, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Holder just lapsed; next Acquire will race for it.
			return ErrNotLeader
		}
		return fmt.Errorf("read leader lease: %w", err)
	}
	if val != l.token {
		return ErrNotLeader
	}

	// Still ours: push the expiry out.
	if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
		return fmt.Errorf("renew leader lease: %w", err)
	}
	return nil
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release gives up the lease if this instance still holds it.
func (l *LeaderLease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release leader lease: %w", err)
	}
	return nil
}
